// Package store defines the durable collaborators the matchmaking engine
// reads and writes, with DynamoDB and in-memory implementations.
package store

import (
	"context"
	"errors"

	"github.com/kratos2377/rally-matchmaker/domain/entities"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrStatusConflict = errors.New("status changed concurrently")
)

type SortOrder int

const (
	OldestFirst SortOrder = iota
	NewestFirst
	// LeastRecentlyUpdated orders by updatedAt, so records untouched the
	// longest come first regardless of when they were created.
	LeastRecentlyUpdated
)

// StatusUpdate changes a request's status. Nil pointer fields are left alone;
// a pointer to "" clears the field. A non-empty ExpectStatus makes the update
// conditional on the current status.
type StatusUpdate struct {
	Status            entities.SearchStatus
	OpponentRequestID *string
	MatchID           *string
	ExpectStatus      entities.SearchStatus
}

type SearchRequests interface {
	Create(ctx context.Context, req *entities.SearchRequest) (string, error)
	FindByID(ctx context.Context, id string) (*entities.SearchRequest, error)
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) error
	// FindByStatus sorts by creation time.
	FindByStatus(ctx context.Context, status entities.SearchStatus, limit int, order SortOrder) ([]entities.SearchRequest, error)
}

type Matches interface {
	Create(ctx context.Context, match *entities.Match) (string, error)
	FindByID(ctx context.Context, id string) (*entities.Match, error)
}

type Profiles interface {
	FindByID(ctx context.Context, userID string) (*entities.Profile, error)
}

func Ref(s string) *string { return &s }
