package confirmation

import (
	"context"
	"fmt"

	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/store"
)

type AcceptMatchUseCase struct {
	requests  store.SearchRequests
	coord     *coordination.Store
	finalizer *Finalizer
}

func NewAcceptMatchUseCase(requests store.SearchRequests, coord *coordination.Store, finalizer *Finalizer) *AcceptMatchUseCase {
	return &AcceptMatchUseCase{requests: requests, coord: coord, finalizer: finalizer}
}

type AcceptMatchInput struct {
	MatchRequestID string
	UserID         string
}

// AcceptMatch records the caller's acceptance. It succeeds without
// finalizing while the opponent has not accepted yet; the opponent's later
// accept completes the match. Accepting after the confirmation window closed
// returns ErrMatchTimedOut. Losing a race to the opponent's finalization is
// reported as success.
func (c *AcceptMatchUseCase) AcceptMatch(ctx context.Context, input AcceptMatchInput) (FinalizeOutcome, error) {
	req, err := c.requests.FindByID(ctx, input.MatchRequestID)
	if err != nil {
		return waiting, err
	}
	if err := req.Owns(input.UserID); err != nil {
		return waiting, err
	}
	if req.Status == entities.SearchStatus_Matched {
		// The opponent's concurrent accept finalized first, or this side was
		// written before the opponent's status write failed.
		if req.OpponentRequestID != "" {
			if _, _, err := c.finalizer.Resume(ctx, req.ID, req.OpponentRequestID); err != nil {
				return waiting, err
			}
		}
		return FinalizeOutcome{Finalized: true, MatchID: req.MatchID}, nil
	}
	if req.Status != entities.SearchStatus_PendingConfirmation || req.OpponentRequestID == "" {
		stateErr := entities.NewStateError(req, entities.SearchStatus_PendingConfirmation)
		stateErr.Reason = "no pending match to accept"
		return waiting, stateErr
	}

	ok, err := c.coord.AcceptConfirmation(ctx, req.ID)
	if err != nil {
		return waiting, err
	}
	if !ok {
		fresh, err := c.requests.FindByID(ctx, req.ID)
		if err == nil && fresh.Status == entities.SearchStatus_Matched {
			return FinalizeOutcome{Finalized: true, MatchID: fresh.MatchID}, nil
		}
		// The window closed on a match whose status writes are unfinished.
		if out, handled, err := c.finalizer.Resume(ctx, req.ID, req.OpponentRequestID); err != nil || (handled && out.Finalized) {
			return out, err
		}
		return waiting, fmt.Errorf("match request %s: %w", req.ID, entities.ErrMatchTimedOut)
	}

	return c.finalizer.TryFinalize(ctx, req, req.OpponentRequestID)
}
