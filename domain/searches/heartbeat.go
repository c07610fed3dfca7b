package searches

import (
	"context"
	"fmt"
	"time"

	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/store"
)

type HeartbeatUseCase struct {
	requests  store.SearchRequests
	coord     *coordination.Store
	enqueuer  *Enqueuer
	searchTTL time.Duration
}

func NewHeartbeatUseCase(requests store.SearchRequests, coord *coordination.Store, enqueuer *Enqueuer) *HeartbeatUseCase {
	return &HeartbeatUseCase{requests: requests, coord: coord, enqueuer: enqueuer, searchTTL: coord.TTLs().Search}
}

type HeartbeatInput struct {
	MatchRequestID string
	UserID         string
}

type HeartbeatOutput struct {
	SearchExpiresInSeconds int  `json:"searchExpiresInSeconds"`
	Requeued               bool `json:"requeued"`
}

// Heartbeat renews the liveness marker of a searching request. If the
// coordination entries were lost while the durable record still says
// searching, the request is enqueued again.
func (c *HeartbeatUseCase) Heartbeat(ctx context.Context, input HeartbeatInput) (HeartbeatOutput, error) {
	req, err := c.requests.FindByID(ctx, input.MatchRequestID)
	if err != nil {
		return HeartbeatOutput{}, err
	}
	if err := req.Owns(input.UserID); err != nil {
		return HeartbeatOutput{}, err
	}
	if req.Status != entities.SearchStatus_Searching {
		return HeartbeatOutput{}, entities.NewStateError(req, entities.SearchStatus_Searching)
	}

	out := HeartbeatOutput{SearchExpiresInSeconds: int(c.searchTTL.Seconds())}

	refreshed, err := c.coord.RefreshLive(ctx, req.ID)
	if err != nil {
		return HeartbeatOutput{}, err
	}
	if refreshed {
		return out, nil
	}

	_, queued, err := c.coord.Snapshot(ctx, req.ID)
	if err != nil {
		return HeartbeatOutput{}, err
	}
	if queued {
		return out, c.coord.MarkLive(ctx, req.ID)
	}

	if err := c.enqueuer.Requeue(ctx, *req); err != nil {
		return HeartbeatOutput{}, fmt.Errorf("requeue %s: %w", req.ID, err)
	}
	out.Requeued = true
	return out, nil
}
