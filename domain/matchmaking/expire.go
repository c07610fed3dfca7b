package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/notify"
	"github.com/kratos2377/rally-matchmaker/domain/store"
	"go.uber.org/multierr"
)

type SweepResult int

const (
	// SweepKept leaves the entry untouched; it may still be matchable.
	SweepKept SweepResult = iota
	// SweepExpired removed a stale searching request and marked it expired.
	SweepExpired
	// SweepPurged removed leftovers of a request that is no longer searching.
	SweepPurged
)

// Expirer reclaims queue entries whose owner stopped renewing the search.
type Expirer struct {
	requests store.SearchRequests
	coord    *coordination.Store
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewExpirer(requests store.SearchRequests, coord *coordination.Store, notifier notify.Notifier, logger *slog.Logger) *Expirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expirer{requests: requests, coord: coord, notifier: notifier, logger: logger}
}

// Sweep checks, in this order, the lock, the durable status and the liveness
// marker. A held lock means a promotion may be in flight. A status other than
// searching is never overwritten, so a request whose promotion already
// reached the durable store is never expired.
func (e *Expirer) Sweep(ctx context.Context, venue, id string) (SweepResult, error) {
	locked, err := e.coord.IsLocked(ctx, id)
	if err != nil || locked {
		return SweepKept, err
	}

	req, err := e.requests.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return SweepPurged, e.purge(ctx, venue, id)
	}
	if err != nil {
		return SweepKept, err
	}

	switch {
	case req.Status == entities.SearchStatus_Searching:
	case req.Status.Terminal() || req.Status == entities.SearchStatus_Waitlisted:
		return SweepPurged, e.purge(ctx, venue, id)
	default:
		return SweepKept, nil
	}

	live, err := e.coord.IsLive(ctx, id)
	if err != nil || live {
		return SweepKept, err
	}

	if err := e.purge(ctx, venue, id); err != nil {
		return SweepKept, err
	}
	err = e.requests.UpdateStatus(ctx, id, store.StatusUpdate{
		Status:       entities.SearchStatus_Expired,
		ExpectStatus: entities.SearchStatus_Searching,
	})
	if errors.Is(err, store.ErrStatusConflict) {
		return SweepPurged, nil
	}
	if err != nil {
		return SweepKept, fmt.Errorf("expire %s: %w", id, err)
	}

	e.logger.Info("search expired", "venue", venue, "request_id", id, "user_id", req.UserID)
	notify.Send(ctx, e.logger, e.notifier, req.UserID, notify.EventMatchExpired, notify.MatchExpiredPayload{
		MatchRequestID: id,
		Status:         entities.SearchStatus_Expired,
		Msg:            "Search expired without a match.",
	})
	return SweepExpired, nil
}

func (e *Expirer) purge(ctx context.Context, venue, id string) error {
	err := e.coord.Dequeue(ctx, venue, id)
	err = multierr.Append(err, e.coord.DeleteSnapshots(ctx, id))
	return multierr.Append(err, e.coord.DeleteLiveness(ctx, id))
}
