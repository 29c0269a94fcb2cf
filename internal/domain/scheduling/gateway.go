package scheduling

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/bloodnet/bloodnet/internal/domain/fulfillment"
)

// Gateway exposes appointments to the fulfillment coordinator.
type Gateway struct {
	appointments AppointmentRepository
}

func NewGateway(appt AppointmentRepository) *Gateway {
	return &Gateway{appointments: appt}
}

var _ fulfillment.AppointmentGateway = (*Gateway)(nil)

func (g *Gateway) GetByID(ctx context.Context, id uuid.UUID) (*fulfillment.Appointment, error) {
	a, err := g.appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fulfillment.ErrNotFound
		}
		return nil, err
	}
	return &fulfillment.Appointment{
		ID:          a.ID,
		DonorID:     a.DonorID,
		Status:      fulfillment.AppointmentStatus(a.Status),
		RequestID:   a.RequestID,
		CompletedAt: a.CompletedAt,
		Notes:       strVal(a.Notes),
	}, nil
}

func (g *Gateway) Update(ctx context.Context, id uuid.UUID, u fulfillment.AppointmentUpdate) error {
	var upd Update
	if u.Status != nil {
		st := Status(*u.Status)
		upd.Status = &st
	}
	upd.CompletedAt = u.CompletedAt
	upd.Notes = u.Notes
	err := g.appointments.Apply(ctx, id, upd)
	if errors.Is(err, ErrNotFound) {
		return fulfillment.ErrNotFound
	}
	return err
}
