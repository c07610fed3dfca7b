// Package searches manages a player's search request outside of matching:
// starting it, publishing it to the coordination store, keeping it alive,
// and withdrawing it.
package searches

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/store"
)

// Enqueuer publishes a searching request into the coordination store.
// The three writes are not atomic; a partial enqueue is rebuilt by the next
// enqueue of the same request.
type Enqueuer struct {
	coord    *coordination.Store
	profiles store.Profiles
	clock    clockwork.Clock
}

func NewEnqueuer(coord *coordination.Store, profiles store.Profiles, clock clockwork.Clock) *Enqueuer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Enqueuer{coord: coord, profiles: profiles, clock: clock}
}

// Enqueue writes the snapshot, adds the id to the venue queue scored by now,
// and starts the liveness timer.
func (e *Enqueuer) Enqueue(ctx context.Context, req entities.SearchRequest, profile entities.Profile) error {
	now := e.clock.Now()
	if err := e.coord.SaveSnapshot(ctx, entities.NewRequestSnapshot(req, profile, now)); err != nil {
		return err
	}
	if err := e.coord.Enqueue(ctx, req.Venue, req.ID, now); err != nil {
		return err
	}
	return e.coord.MarkLive(ctx, req.ID)
}

// Requeue enqueues using the owner's current profile.
func (e *Enqueuer) Requeue(ctx context.Context, req entities.SearchRequest) error {
	profile, err := e.profiles.FindByID(ctx, req.UserID)
	if err != nil {
		return fmt.Errorf("load profile for %s: %w", req.ID, err)
	}
	return e.Enqueue(ctx, req, *profile)
}

// Withdraw removes every coordination entry for a request that is leaving search.
func (e *Enqueuer) Withdraw(ctx context.Context, req entities.SearchRequest) error {
	if err := e.coord.Dequeue(ctx, req.Venue, req.ID); err != nil {
		return err
	}
	if err := e.coord.DeleteSnapshots(ctx, req.ID); err != nil {
		return err
	}
	return e.coord.DeleteLiveness(ctx, req.ID)
}
