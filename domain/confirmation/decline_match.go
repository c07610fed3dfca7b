package confirmation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/notify"
	"github.com/kratos2377/rally-matchmaker/domain/searches"
	"github.com/kratos2377/rally-matchmaker/domain/store"
)

type DeclineMatchUseCase struct {
	requests store.SearchRequests
	coord    *coordination.Store
	enqueuer *searches.Enqueuer
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewDeclineMatchUseCase(requests store.SearchRequests, coord *coordination.Store, enqueuer *searches.Enqueuer, notifier notify.Notifier, logger *slog.Logger) *DeclineMatchUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeclineMatchUseCase{requests: requests, coord: coord, enqueuer: enqueuer, notifier: notifier, logger: logger}
}

type DeclineMatchInput struct {
	MatchRequestID string
	UserID         string
}

type DeclineMatchOutput struct {
	Ok bool `json:"ok"`
}

// DeclineMatch returns both sides of a pending pairing to search, blocks the
// same pair from being matched again for the cool-down window, and
// re-enqueues both. Only the first decline has an effect; a request that no
// longer references an opponent reports invalid state.
func (c *DeclineMatchUseCase) DeclineMatch(ctx context.Context, input DeclineMatchInput) (DeclineMatchOutput, error) {
	req, err := c.requests.FindByID(ctx, input.MatchRequestID)
	if err != nil {
		return DeclineMatchOutput{}, err
	}
	if err := req.Owns(input.UserID); err != nil {
		return DeclineMatchOutput{}, err
	}
	if req.Status != entities.SearchStatus_PendingConfirmation || req.OpponentRequestID == "" {
		return DeclineMatchOutput{}, entities.NewStateError(req, entities.SearchStatus_PendingConfirmation)
	}
	opponentID := req.OpponentRequestID

	if err := c.backToSearch(ctx, req.ID); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return DeclineMatchOutput{}, &entities.StateError{
				RequestID: req.ID,
				Expected:  []entities.SearchStatus{entities.SearchStatus_PendingConfirmation},
				Actual:    req.Status,
				Reason:    "changed concurrently",
			}
		}
		return DeclineMatchOutput{}, err
	}
	req.Status, req.OpponentRequestID = entities.SearchStatus_Searching, ""

	if err := c.coord.SetCooldown(ctx, req.ID, opponentID); err != nil {
		c.logger.Warn("cool-down not set", "request_id", req.ID, "opponent_id", opponentID, "error", err)
	}
	if err := c.coord.DeleteConfirmations(ctx, req.ID, opponentID); err != nil {
		c.logger.Warn("confirmation markers left behind", "request_id", req.ID, "opponent_id", opponentID, "error", err)
	}

	opp, err := c.requests.FindByID(ctx, opponentID)
	switch {
	case err != nil:
		c.logger.Warn("declined opponent not reset", "request_id", req.ID, "opponent_id", opponentID, "error", err)
	case opp.Status != entities.SearchStatus_PendingConfirmation || opp.OpponentRequestID != req.ID:
		c.logger.Info("declined opponent already moved on", "opponent_id", opponentID, "status", string(opp.Status))
	default:
		if err := c.backToSearch(ctx, opp.ID); err != nil {
			c.logger.Warn("declined opponent not reset", "request_id", req.ID, "opponent_id", opp.ID, "error", err)
			break
		}
		opp.Status, opp.OpponentRequestID = entities.SearchStatus_Searching, ""

		notify.Send(ctx, c.logger, c.notifier, opp.UserID, notify.EventMatchDeclined, notify.MatchDeclinedPayload{
			Msg: "Opponent declined, searching again.",
		})
		if err := c.enqueuer.Requeue(ctx, *opp); err != nil {
			c.logger.Error("declined opponent not re-enqueued", "opponent_id", opp.ID, "error", err)
		}
	}

	if err := c.enqueuer.Requeue(ctx, *req); err != nil {
		return DeclineMatchOutput{}, fmt.Errorf("re-enqueue %s: %w", req.ID, err)
	}

	c.logger.Info("match declined", "request_id", req.ID, "opponent_id", opponentID)
	return DeclineMatchOutput{Ok: true}, nil
}

func (c *DeclineMatchUseCase) backToSearch(ctx context.Context, id string) error {
	return c.requests.UpdateStatus(ctx, id, store.StatusUpdate{
		Status:            entities.SearchStatus_Searching,
		OpponentRequestID: store.Ref(""),
		ExpectStatus:      entities.SearchStatus_PendingConfirmation,
	})
}
