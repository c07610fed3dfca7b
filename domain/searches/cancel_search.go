package searches

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/store"
	"go.uber.org/multierr"
)

type CancelSearchUseCase struct {
	requests store.SearchRequests
	coord    *coordination.Store
	enqueuer *Enqueuer
	logger   *slog.Logger
}

func NewCancelSearchUseCase(requests store.SearchRequests, coord *coordination.Store, enqueuer *Enqueuer, logger *slog.Logger) *CancelSearchUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &CancelSearchUseCase{requests: requests, coord: coord, enqueuer: enqueuer, logger: logger}
}

type CancelSearchInput struct {
	MatchRequestID string
	UserID         string
}

type CancelSearchOutput struct {
	Ok bool `json:"ok"`
}

var cancellable = []entities.SearchStatus{entities.SearchStatus_Searching, entities.SearchStatus_Waitlisted}

// CancelSearch moves a searching or waitlisted request to the terminal
// cancelled state and drops its coordination entries. A pending pairing must
// be declined instead.
func (c *CancelSearchUseCase) CancelSearch(ctx context.Context, input CancelSearchInput) (CancelSearchOutput, error) {
	req, err := c.requests.FindByID(ctx, input.MatchRequestID)
	if err != nil {
		return CancelSearchOutput{}, err
	}
	if err := req.Owns(input.UserID); err != nil {
		return CancelSearchOutput{}, err
	}
	if !req.StatusIn(cancellable...) {
		return CancelSearchOutput{}, entities.NewStateError(req, cancellable...)
	}

	// The conditional write loses to a concurrent promotion, which already
	// moved the request to pending_confirmation.
	err = c.requests.UpdateStatus(ctx, req.ID, store.StatusUpdate{
		Status:       entities.SearchStatus_Cancelled,
		ExpectStatus: req.Status,
	})
	if errors.Is(err, store.ErrStatusConflict) {
		if fresh, ferr := c.requests.FindByID(ctx, req.ID); ferr == nil {
			req = fresh
		}
		return CancelSearchOutput{}, entities.NewStateError(req, cancellable...)
	}
	if err != nil {
		return CancelSearchOutput{}, fmt.Errorf("cancel %s: %w", req.ID, err)
	}

	cleanup := c.enqueuer.Withdraw(ctx, *req)
	cleanup = multierr.Append(cleanup, c.coord.ForceUnlock(ctx, req.ID))
	cleanup = multierr.Append(cleanup, c.coord.DeleteConfirmations(ctx, req.ID))
	if cleanup != nil {
		// Leftovers are harmless: promotion only succeeds for requests still searching,
		// and the expiry check purges entries of terminal requests.
		c.logger.Warn("cancelled request left coordination entries", "request_id", req.ID, "error", cleanup)
	}

	c.logger.Info("search cancelled", "request_id", req.ID, "user_id", req.UserID)
	return CancelSearchOutput{Ok: true}, nil
}
