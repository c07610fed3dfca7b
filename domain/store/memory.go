package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
)

// Memory keeps every durable record in process. It backs single-process
// deployments and tests; each single-record update is atomic.
type Memory struct {
	mu       sync.RWMutex
	clock    clockwork.Clock
	requests map[string]entities.SearchRequest
	matches  map[string]entities.Match
	profiles map[string]entities.Profile
}

func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:    clock,
		requests: map[string]entities.SearchRequest{},
		matches:  map[string]entities.Match{},
		profiles: map[string]entities.Profile{},
	}
}

func (m *Memory) Requests() SearchRequests { return memoryRequests{m} }

func (m *Memory) Matches() Matches { return memoryMatches{m} }

func (m *Memory) Profiles() Profiles { return memoryProfiles{m} }

// PutProfile seeds a profile; account management lives outside the engine.
func (m *Memory) PutProfile(p entities.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
}

type memoryRequests struct{ m *Memory }

func (r memoryRequests) Create(_ context.Context, req *entities.SearchRequest) (string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if _, exists := r.m.requests[req.ID]; exists {
		return "", fmt.Errorf("search request %s already exists", req.ID)
	}
	now := r.m.clock.Now()
	req.CreatedAt, req.UpdatedAt = now, now
	r.m.requests[req.ID] = *req
	return req.ID, nil
}

func (r memoryRequests) FindByID(_ context.Context, id string) (*entities.SearchRequest, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	req, ok := r.m.requests[id]
	if !ok {
		return nil, fmt.Errorf("search request %s: %w", id, ErrNotFound)
	}
	return &req, nil
}

func (r memoryRequests) UpdateStatus(_ context.Context, id string, update StatusUpdate) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	req, ok := r.m.requests[id]
	if !ok {
		return fmt.Errorf("search request %s: %w", id, ErrNotFound)
	}
	if update.ExpectStatus != "" && req.Status != update.ExpectStatus {
		return fmt.Errorf("search request %s is %s, expected %s: %w", id, req.Status, update.ExpectStatus, ErrStatusConflict)
	}
	req.Status = update.Status
	if update.OpponentRequestID != nil {
		req.OpponentRequestID = *update.OpponentRequestID
	}
	if update.MatchID != nil {
		req.MatchID = *update.MatchID
	}
	req.UpdatedAt = r.m.clock.Now()
	r.m.requests[id] = req
	return nil
}

func (r memoryRequests) FindByStatus(_ context.Context, status entities.SearchStatus, limit int, order SortOrder) ([]entities.SearchRequest, error) {
	r.m.mu.RLock()
	var out []entities.SearchRequest
	for _, req := range r.m.requests {
		if req.Status == status {
			out = append(out, req)
		}
	}
	r.m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if order == LeastRecentlyUpdated && !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if order == NewestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryMatches struct{ m *Memory }

func (r memoryMatches) Create(_ context.Context, match *entities.Match) (string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	match.CreatedAt = r.m.clock.Now()
	r.m.matches[match.ID] = *match
	return match.ID, nil
}

func (r memoryMatches) FindByID(_ context.Context, id string) (*entities.Match, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	match, ok := r.m.matches[id]
	if !ok {
		return nil, fmt.Errorf("match %s: %w", id, ErrNotFound)
	}
	return &match, nil
}

// AllMatches returns every stored match.
func (m *Memory) AllMatches() []entities.Match {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entities.Match, 0, len(m.matches))
	for _, match := range m.matches {
		out = append(out, match)
	}
	return out
}

type memoryProfiles struct{ m *Memory }

func (r memoryProfiles) FindByID(_ context.Context, userID string) (*entities.Profile, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	p, ok := r.m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return &p, nil
}
