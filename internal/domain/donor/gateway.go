package donor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/bloodnet/bloodnet/internal/domain/fulfillment"
)

// Gateway lets the fulfillment coordinator record a completed donation.
type Gateway struct {
	donors Repository
}

func NewGateway(donors Repository) *Gateway {
	return &Gateway{donors: donors}
}

var _ fulfillment.DonorGateway = (*Gateway)(nil)

func (g *Gateway) LastDonationDate(ctx context.Context, donorID uuid.UUID) (*time.Time, error) {
	d, err := g.donors.GetByID(ctx, donorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fulfillment.ErrNotFound
		}
		return nil, err
	}
	return d.LastDonationDate, nil
}

func (g *Gateway) UpdateEligibility(ctx context.Context, donorID uuid.UUID, u fulfillment.EligibilityUpdate) error {
	err := g.donors.SetEligibility(ctx, donorID, Eligibility{
		LastDonationDate: u.LastDonationDate,
		NextEligibleDate: u.NextEligibleDate,
		Eligible:         u.Eligible,
	})
	if errors.Is(err, ErrNotFound) {
		return fulfillment.ErrNotFound
	}
	return err
}
