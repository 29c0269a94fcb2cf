package donor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bloodnet/bloodnet/internal/domain/donation"
	"github.com/bloodnet/bloodnet/internal/domain/eligibility"
)

type Service struct {
	donors Repository
	calc   *eligibility.Calculator
}

func NewService(donors Repository, calc *eligibility.Calculator) *Service {
	return &Service{donors: donors, calc: calc}
}

func (s *Service) CreateDonor(ctx context.Context, d *Donor) error {
	d.FirstName = strings.TrimSpace(d.FirstName)
	if d.FirstName == "" {
		return fmt.Errorf("%w: first_name is required", ErrValidation)
	}
	if d.BloodGroup != nil && !donation.ValidBloodGroup(*d.BloodGroup) {
		return fmt.Errorf("%w: invalid blood_group %q", ErrValidation, *d.BloodGroup)
	}
	d.NextEligibleDate = s.calc.NextEligibleDate(d.LastDonationDate)
	d.Eligible = s.calc.IsEligible(d.LastDonationDate)
	return s.donors.Create(ctx, d)
}

func (s *Service) GetDonor(ctx context.Context, id uuid.UUID) (*Donor, error) {
	return s.donors.GetByID(ctx, id)
}

func (s *Service) ListDonors(ctx context.Context, bloodGroup string, limit, offset int) ([]*Donor, int, error) {
	return s.donors.List(ctx, bloodGroup, limit, offset)
}

// Eligibility evaluates the donor against the cooldown at the current time.
// The stored Eligible flag is only refreshed on donation, so it is not used.
func (s *Service) Eligibility(ctx context.Context, id uuid.UUID) (eligibility.Status, error) {
	d, err := s.donors.GetByID(ctx, id)
	if err != nil {
		return eligibility.Status{}, err
	}
	return s.calc.Evaluate(d.LastDonationDate), nil
}
