package confirmation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/notify"
	"github.com/kratos2377/rally-matchmaker/domain/searches"
	"github.com/kratos2377/rally-matchmaker/domain/store"
	"go.uber.org/multierr"
)

type ReapPendingUseCaseConfig struct {
	BatchSize  int
	ConfirmTTL time.Duration
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// ReapPendingUseCase settles pairings whose confirmation window closed
// before both sides accepted. A side that accepted goes back to search; a
// side that never answered is expired. A pairing whose match was created but
// not fully written is finished instead.
type ReapPendingUseCase struct {
	requests  store.SearchRequests
	coord     *coordination.Store
	enqueuer  *searches.Enqueuer
	notifier  notify.Notifier
	finalizer *Finalizer
	cfg       ReapPendingUseCaseConfig
	logger    *slog.Logger
}

func NewReapPendingUseCase(requests store.SearchRequests, coord *coordination.Store, enqueuer *searches.Enqueuer, notifier notify.Notifier, finalizer *Finalizer, cfg ReapPendingUseCaseConfig) *ReapPendingUseCase {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReapPendingUseCase{requests: requests, coord: coord, enqueuer: enqueuer, notifier: notifier, finalizer: finalizer, cfg: cfg, logger: logger}
}

type ReapPendingOutput struct {
	Requeued  []string
	Expired   []string
	Finalized []string
}

func (r *ReapPendingUseCase) ReapPending(ctx context.Context) (ReapPendingOutput, error) {
	var out ReapPendingOutput

	// Re-paired requests keep their createdAt, so only updatedAt order keeps
	// young pairings from filling the batch ahead of stale ones.
	pending, err := r.requests.FindByStatus(ctx, entities.SearchStatus_PendingConfirmation, r.cfg.BatchSize, store.LeastRecentlyUpdated)
	if err != nil {
		return out, err
	}

	var errs error
	seen := map[string]bool{}
	for _, req := range pending {
		if r.cfg.Clock.Since(req.UpdatedAt) < r.cfg.ConfirmTTL {
			break
		}
		if seen[req.ID] {
			continue
		}
		seen[req.ID] = true
		if req.OpponentRequestID != "" {
			seen[req.OpponentRequestID] = true
		}
		if err := r.settle(ctx, req, &out); err != nil {
			r.logger.Error("stale pairing not settled", "request_id", req.ID, "opponent_id", req.OpponentRequestID, "error", err)
			errs = multierr.Append(errs, err)
		}
	}
	return out, errs
}

// Tick is the scheduler entry point.
func (r *ReapPendingUseCase) Tick(ctx context.Context) {
	out, err := r.ReapPending(ctx)
	if err != nil {
		r.logger.Error("reap pending confirmations", "error", err)
	}
	if len(out.Requeued) > 0 || len(out.Expired) > 0 || len(out.Finalized) > 0 {
		r.logger.Info("stale pairings settled", "requeued", len(out.Requeued), "expired", len(out.Expired), "finalized", len(out.Finalized))
	}
}

func (r *ReapPendingUseCase) settle(ctx context.Context, req entities.SearchRequest, out *ReapPendingOutput) error {
	ids := []string{req.ID}
	if req.OpponentRequestID != "" {
		ids = append(ids, req.OpponentRequestID)
	}

	var locks []*coordination.Lock
	defer func() {
		for _, l := range locks {
			if err := r.coord.Unlock(ctx, l); err != nil {
				r.logger.Warn("unlock failed", "request_id", l.RequestID, "error", err)
			}
		}
	}()
	for _, id := range ids {
		lock, ok, err := r.coord.TryLock(ctx, id)
		if err != nil || !ok {
			return err
		}
		locks = append(locks, lock)
	}

	states := make(map[string]string, len(ids))
	for _, id := range ids {
		state, err := r.coord.Confirmation(ctx, id)
		if err != nil {
			return err
		}
		states[id] = state
	}
	if len(ids) == 2 && states[ids[0]] != "" && states[ids[1]] != "" {
		// Both markers alive: the window is still open.
		return nil
	}
	if len(ids) == 2 && r.finalizer != nil {
		outcome, handled, err := r.finalizer.Resume(ctx, ids[0], ids[1])
		if err != nil {
			return err
		}
		if handled {
			if outcome.Finalized {
				out.Finalized = append(out.Finalized, outcome.MatchID)
			}
			return nil
		}
	}

	var errs error
	for _, id := range ids {
		errs = multierr.Append(errs, r.release(ctx, id, states[id] == coordination.ConfirmAccepted, out))
	}
	return multierr.Append(errs, r.coord.DeleteConfirmations(ctx, ids...))
}

func (r *ReapPendingUseCase) release(ctx context.Context, id string, accepted bool, out *ReapPendingOutput) error {
	req, err := r.requests.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if req.Status != entities.SearchStatus_PendingConfirmation {
		return nil
	}

	status := entities.SearchStatus_Expired
	msg := "Match confirmation timed out."
	if accepted {
		status = entities.SearchStatus_Searching
		msg = "Opponent did not confirm in time, searching again."
	}

	err = r.requests.UpdateStatus(ctx, id, store.StatusUpdate{
		Status:            status,
		OpponentRequestID: store.Ref(""),
		ExpectStatus:      entities.SearchStatus_PendingConfirmation,
	})
	if errors.Is(err, store.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	req.Status, req.OpponentRequestID = status, ""

	if accepted {
		if err := r.enqueuer.Requeue(ctx, *req); err != nil {
			return err
		}
		out.Requeued = append(out.Requeued, id)
	} else {
		out.Expired = append(out.Expired, id)
	}

	notify.Send(ctx, r.logger, r.notifier, req.UserID, notify.EventMatchExpired, notify.MatchExpiredPayload{
		MatchRequestID: id,
		Status:         status,
		Msg:            msg,
	})
	return nil
}
