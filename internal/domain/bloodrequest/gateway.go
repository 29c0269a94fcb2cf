package bloodrequest

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bloodnet/bloodnet/internal/domain/fulfillment"
)

// Gateway exposes blood requests to the fulfillment coordinator.
type Gateway struct {
	requests Repository
}

func NewGateway(requests Repository) *Gateway {
	return &Gateway{requests: requests}
}

var _ fulfillment.RequestGateway = (*Gateway)(nil)

func notFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return fulfillment.ErrNotFound
	}
	return err
}

func (g *Gateway) GetByID(ctx context.Context, id uuid.UUID) (*fulfillment.Request, error) {
	r, err := g.requests.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	out := &fulfillment.Request{
		ID:          r.ID,
		Status:      fulfillment.RequestStatus(r.Status),
		FulfilledAt: r.FulfilledAt,
	}
	if r.Notes != nil {
		out.Notes = *r.Notes
	}
	if r.AssignedTo != nil {
		out.AssignedTo = &fulfillment.Assignment{
			Type:           fulfillment.AssigneeType(r.AssignedTo.Type),
			DonorID:        r.AssignedTo.DonorID,
			OrganizationID: r.AssignedTo.OrganizationID,
		}
	}
	return out, nil
}

func (g *Gateway) Update(ctx context.Context, id uuid.UUID, u fulfillment.RequestUpdate) error {
	var upd Update
	if u.Status != nil {
		st := Status(*u.Status)
		upd.Status = &st
	}
	upd.FulfilledAt = u.FulfilledAt
	upd.Notes = u.Notes
	return notFound(g.requests.Apply(ctx, id, upd))
}

func (g *Gateway) ReopenIfAssigned(ctx context.Context, id, donorID uuid.UUID, notes string) (bool, error) {
	ok, err := g.requests.ReopenIfAssigned(ctx, id, donorID, notes)
	return ok, notFound(err)
}
