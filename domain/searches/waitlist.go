package searches

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/store"
)

const WaitlistPageSize = 50

type WaitlistUseCase struct {
	requests store.SearchRequests
	enqueuer *Enqueuer
	logger   *slog.Logger
}

func NewWaitlistUseCase(requests store.SearchRequests, enqueuer *Enqueuer, logger *slog.Logger) *WaitlistUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &WaitlistUseCase{requests: requests, enqueuer: enqueuer, logger: logger}
}

type MarkWaitlistedInput struct {
	MatchRequestID string
	UserID         string
}

var waitlistable = []entities.SearchStatus{entities.SearchStatus_Searching, entities.SearchStatus_Expired}

// MarkWaitlisted parks a request on the public waitlist. A waitlisted request
// is out of the matching queue.
func (c *WaitlistUseCase) MarkWaitlisted(ctx context.Context, input MarkWaitlistedInput) error {
	req, err := c.requests.FindByID(ctx, input.MatchRequestID)
	if err != nil {
		return err
	}
	if err := req.Owns(input.UserID); err != nil {
		return err
	}
	if !req.StatusIn(waitlistable...) {
		return entities.NewStateError(req, waitlistable...)
	}

	err = c.requests.UpdateStatus(ctx, req.ID, store.StatusUpdate{
		Status:       entities.SearchStatus_Waitlisted,
		ExpectStatus: req.Status,
	})
	if errors.Is(err, store.ErrStatusConflict) {
		return &entities.StateError{RequestID: req.ID, Expected: waitlistable, Actual: req.Status, Reason: "changed concurrently"}
	}
	if err != nil {
		return fmt.Errorf("waitlist %s: %w", req.ID, err)
	}

	if err := c.enqueuer.Withdraw(ctx, *req); err != nil {
		c.logger.Warn("waitlisted request left coordination entries", "request_id", req.ID, "error", err)
	}
	return nil
}

// ListWaitlist returns the most recently created waitlisted requests.
func (c *WaitlistUseCase) ListWaitlist(ctx context.Context) ([]entities.SearchRequest, error) {
	return c.requests.FindByStatus(ctx, entities.SearchStatus_Waitlisted, WaitlistPageSize, store.NewestFirst)
}
