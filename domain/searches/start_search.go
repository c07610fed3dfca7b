package searches

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/store"
)

const DefaultPartySize = 2

type StartSearchUseCaseConfig struct {
	Venues    []string
	SearchTTL time.Duration
	Logger    *slog.Logger
}

type StartSearchUseCase struct {
	requests store.SearchRequests
	profiles store.Profiles
	enqueuer *Enqueuer
	cfg      StartSearchUseCaseConfig
	logger   *slog.Logger
}

func NewStartSearchUseCase(requests store.SearchRequests, profiles store.Profiles, enqueuer *Enqueuer, cfg StartSearchUseCaseConfig) *StartSearchUseCase {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StartSearchUseCase{requests: requests, profiles: profiles, enqueuer: enqueuer, cfg: cfg, logger: logger}
}

type StartSearchInput struct {
	UserID    string
	Venue     string
	StartTime time.Time
	EndTime   time.Time
	PartySize int
}

type StartSearchOutput struct {
	MatchRequestID         string                `json:"matchRequestId"`
	Status                 entities.SearchStatus `json:"status"`
	SearchExpiresInSeconds int                   `json:"searchExpiresInSeconds"`
}

func (c *StartSearchUseCase) validate(input *StartSearchInput) error {
	known := false
	for _, v := range c.cfg.Venues {
		if v == input.Venue {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown venue %q: %w", input.Venue, entities.ErrInvalidInput)
	}
	if input.StartTime.IsZero() || input.EndTime.IsZero() {
		return fmt.Errorf("start and end time are required: %w", entities.ErrInvalidInput)
	}
	if !input.StartTime.Before(input.EndTime) {
		return fmt.Errorf("start time must be before end time: %w", entities.ErrInvalidInput)
	}
	if input.PartySize == 0 {
		input.PartySize = DefaultPartySize
	}
	if input.PartySize != 2 && input.PartySize != 4 {
		return fmt.Errorf("party size must be 2 or 4, got %d: %w", input.PartySize, entities.ErrInvalidInput)
	}
	return nil
}

// StartSearch creates a searching request and publishes it for matching.
// A failed enqueue fails the whole call and leaves the durable record cancelled.
func (c *StartSearchUseCase) StartSearch(ctx context.Context, input StartSearchInput) (StartSearchOutput, error) {
	if err := c.validate(&input); err != nil {
		return StartSearchOutput{}, err
	}

	profile, err := c.profiles.FindByID(ctx, input.UserID)
	if err != nil {
		return StartSearchOutput{}, fmt.Errorf("load profile %s: %w", input.UserID, err)
	}

	req := &entities.SearchRequest{
		UserID:    input.UserID,
		Venue:     input.Venue,
		StartTime: input.StartTime,
		EndTime:   input.EndTime,
		PartySize: input.PartySize,
		Status:    entities.SearchStatus_Searching,
	}
	if _, err := c.requests.Create(ctx, req); err != nil {
		return StartSearchOutput{}, fmt.Errorf("create search request: %w", err)
	}

	if err := c.enqueuer.Enqueue(ctx, *req, *profile); err != nil {
		if uerr := c.requests.UpdateStatus(ctx, req.ID, store.StatusUpdate{
			Status:       entities.SearchStatus_Cancelled,
			ExpectStatus: entities.SearchStatus_Searching,
		}); uerr != nil {
			c.logger.Error("failed to cancel unenqueued request", "request_id", req.ID, "error", uerr)
		}
		return StartSearchOutput{}, fmt.Errorf("enqueue %s: %w", req.ID, err)
	}

	c.logger.Info("search started", "request_id", req.ID, "user_id", req.UserID, "venue", req.Venue)
	return StartSearchOutput{
		MatchRequestID:         req.ID,
		Status:                 req.Status,
		SearchExpiresInSeconds: int(c.cfg.SearchTTL.Seconds()),
	}, nil
}
