package searches

import (
	"context"

	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/store"
)

type GetSearchUseCase struct {
	requests store.SearchRequests
}

func NewGetSearchUseCase(requests store.SearchRequests) *GetSearchUseCase {
	return &GetSearchUseCase{requests: requests}
}

type GetSearchInput struct {
	MatchRequestID string
	UserID         string
}

// GetSearch lets a client reconcile after missed notifications.
func (c *GetSearchUseCase) GetSearch(ctx context.Context, input GetSearchInput) (*entities.SearchRequest, error) {
	req, err := c.requests.FindByID(ctx, input.MatchRequestID)
	if err != nil {
		return nil, err
	}
	if err := req.Owns(input.UserID); err != nil {
		return nil, err
	}
	return req, nil
}
