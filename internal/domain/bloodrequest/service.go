package bloodrequest

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bloodnet/bloodnet/internal/domain/donation"
)

type Service struct {
	requests Repository
}

func NewService(requests Repository) *Service {
	return &Service{requests: requests}
}

func (s *Service) CreateRequest(ctx context.Context, r *Request) error {
	if r.HospitalID == uuid.Nil {
		return fmt.Errorf("%w: hospital_id is required", ErrValidation)
	}
	r.BloodGroup = strings.ToUpper(strings.TrimSpace(r.BloodGroup))
	if !donation.ValidBloodGroup(r.BloodGroup) {
		return fmt.Errorf("%w: invalid blood_group %q", ErrValidation, r.BloodGroup)
	}
	if r.Units <= 0 {
		return fmt.Errorf("%w: units must be positive", ErrValidation)
	}
	if r.Urgency == "" {
		r.Urgency = UrgencyRoutine
	}
	if !validUrgencies[r.Urgency] {
		return fmt.Errorf("%w: invalid urgency %q", ErrValidation, r.Urgency)
	}
	r.Status = StatusOpen
	r.AssignedTo = nil
	r.FulfilledAt = nil
	return s.requests.Create(ctx, r)
}

func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.requests.GetByID(ctx, id)
}

func (s *Service) ListRequests(ctx context.Context, f Filter, limit, offset int) ([]*Request, int, error) {
	return s.requests.List(ctx, f, limit, offset)
}

// Assign hands an open request to a donor or a blood bank.
func (s *Service) Assign(ctx context.Context, id uuid.UUID, a Assignment) (*Request, error) {
	switch a.Type {
	case AssigneeDonor:
		if a.DonorID == nil {
			return nil, fmt.Errorf("%w: donor_id is required for DONOR assignment", ErrValidation)
		}
		a.OrganizationID = nil
	case AssigneeBank:
		if a.OrganizationID == nil {
			return nil, fmt.Errorf("%w: organization_id is required for BANK assignment", ErrValidation)
		}
		a.DonorID = nil
	default:
		return nil, fmt.Errorf("%w: invalid assignee type %q", ErrValidation, a.Type)
	}
	if err := s.requests.Assign(ctx, id, a); err != nil {
		return nil, err
	}
	return s.requests.GetByID(ctx, id)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, notes *string) (*Request, error) {
	if err := s.requests.Cancel(ctx, id, notes); err != nil {
		return nil, err
	}
	return s.requests.GetByID(ctx, id)
}
