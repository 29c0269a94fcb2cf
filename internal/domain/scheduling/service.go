package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	appointments AppointmentRepository
	now          func() time.Time
}

func NewService(appt AppointmentRepository) *Service {
	return &Service{appointments: appt, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.DonorID == uuid.Nil {
		return fmt.Errorf("%w: donor_id is required", ErrValidation)
	}
	if a.OrganizationID == uuid.Nil {
		return fmt.Errorf("%w: organization_id is required", ErrValidation)
	}
	if a.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: scheduled_at is required", ErrValidation)
	}
	if a.Status == "" {
		a.Status = StatusUpcoming
	}
	if a.Status != StatusUpcoming && a.Status != StatusConfirmed {
		return fmt.Errorf("%w: new appointments start UPCOMING or CONFIRMED", ErrInvalidStatus)
	}
	return s.appointments.Create(ctx, a)
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.List(ctx, f, limit, offset)
}

// SetStatus is the manual status change made by staff.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, status Status, notes *string) (*Appointment, error) {
	if !validStatuses[status] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == status {
		return a, nil
	}
	allowed := false
	for _, next := range manualTransitions[a.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s to %s", ErrStatusForbidden, a.Status, status)
	}

	u := Update{Status: &status, Notes: notes}
	if status == StatusCompleted {
		now := s.now()
		u.CompletedAt = &now
	}
	if err := s.appointments.Apply(ctx, id, u); err != nil {
		return nil, err
	}
	return s.appointments.GetByID(ctx, id)
}
