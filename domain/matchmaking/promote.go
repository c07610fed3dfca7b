package matchmaking

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/notify"
	"github.com/kratos2377/rally-matchmaker/domain/store"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
)

// Promoter moves a compatible pair to pending_confirmation. Both MatchLocks
// must be held by the caller.
type Promoter struct {
	requests store.SearchRequests
	coord    *coordination.Store
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewPromoter(requests store.SearchRequests, coord *coordination.Store, notifier notify.Notifier, logger *slog.Logger) *Promoter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Promoter{requests: requests, coord: coord, notifier: notifier, logger: logger}
}

// Promote writes the durable state before touching the coordination store,
// so a crash in between leaves records the expiry sweep will not downgrade.
func (p *Promoter) Promote(ctx context.Context, a, b entities.RequestSnapshot) error {
	if err := p.pairDurable(ctx, a, b); err != nil {
		return err
	}

	// Ephemeral cleanup failures are logged, not returned: durable state is
	// already pending and the confirmation reaper settles a broken pairing.
	var cleanup error
	cleanup = multierr.Append(cleanup, p.coord.Dequeue(ctx, a.Venue, a.RequestID, b.RequestID))
	cleanup = multierr.Append(cleanup, p.coord.DeleteLiveness(ctx, a.RequestID, b.RequestID))
	cleanup = multierr.Append(cleanup, p.coord.DeleteSnapshots(ctx, a.RequestID, b.RequestID))
	cleanup = multierr.Append(cleanup, p.coord.SetConfirmation(ctx, a.RequestID, coordination.ConfirmWaiting))
	cleanup = multierr.Append(cleanup, p.coord.SetConfirmation(ctx, b.RequestID, coordination.ConfirmWaiting))
	if cleanup != nil {
		p.logger.Error("promotion left coordination store inconsistent",
			"venue", a.Venue, "request_id", a.RequestID, "opponent_id", b.RequestID, "error", cleanup)
	}

	notify.Send(ctx, p.logger, p.notifier, a.UserID, notify.EventMatchFound, notify.MatchFoundPayload{Opponent: b.OpponentView()})
	notify.Send(ctx, p.logger, p.notifier, b.UserID, notify.EventMatchFound, notify.MatchFoundPayload{Opponent: a.OpponentView()})

	p.logger.Info("pair promoted", "venue", a.Venue, "request_id", a.RequestID, "opponent_id", b.RequestID)
	return nil
}

// pairDurable sets both records to pending with mutual opponent references.
// Each write is conditional on searching; if only one lands it is reverted.
func (p *Promoter) pairDurable(ctx context.Context, a, b entities.RequestSnapshot) error {
	var errA, errB error
	wp := pool.New()
	wp.Go(func() { errA = p.pending(ctx, a.RequestID, b.RequestID) })
	wp.Go(func() { errB = p.pending(ctx, b.RequestID, a.RequestID) })
	wp.Wait()

	if errA == nil && errB == nil {
		return nil
	}
	if errA == nil {
		errA = p.revert(ctx, a.RequestID)
	}
	if errB == nil {
		errB = p.revert(ctx, b.RequestID)
	}
	return fmt.Errorf("promote %s/%s: %w", a.RequestID, b.RequestID, multierr.Combine(errA, errB))
}

func (p *Promoter) pending(ctx context.Context, id, opponentID string) error {
	return p.requests.UpdateStatus(ctx, id, store.StatusUpdate{
		Status:            entities.SearchStatus_PendingConfirmation,
		OpponentRequestID: store.Ref(opponentID),
		ExpectStatus:      entities.SearchStatus_Searching,
	})
}

func (p *Promoter) revert(ctx context.Context, id string) error {
	err := p.requests.UpdateStatus(ctx, id, store.StatusUpdate{
		Status:            entities.SearchStatus_Searching,
		OpponentRequestID: store.Ref(""),
		ExpectStatus:      entities.SearchStatus_PendingConfirmation,
	})
	if err != nil {
		return fmt.Errorf("revert %s: %w", id, err)
	}
	return nil
}
