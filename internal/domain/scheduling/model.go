package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("appointment not found")
	ErrInvalidStatus   = errors.New("invalid appointment status")
	ErrStatusForbidden = errors.New("appointment status change not allowed")
	ErrValidation      = errors.New("invalid appointment")
)

type Status string

const (
	StatusUpcoming  Status = "UPCOMING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCollected Status = "COLLECTED"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
)

var validStatuses = map[Status]bool{
	StatusUpcoming: true, StatusConfirmed: true, StatusCollected: true,
	StatusCompleted: true, StatusRejected: true, StatusCancelled: true, StatusNoShow: true,
}

// manualTransitions lists the status changes staff may make by hand.
// COLLECTED and REJECTED are reached only through donation lab results.
var manualTransitions = map[Status][]Status{
	StatusUpcoming:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCancelled, StatusNoShow},
	StatusCollected: {StatusCompleted},
}

// Appointment is a donor's booked visit at an organization, optionally
// answering a blood request.
type Appointment struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	DonorID        uuid.UUID  `db:"donor_id" json:"donor_id"`
	OrganizationID uuid.UUID  `db:"organization_id" json:"organization_id"`
	RequestID      *uuid.UUID `db:"request_id" json:"request_id,omitempty"`
	ScheduledAt    time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Status         Status     `db:"status" json:"status"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Notes          *string    `db:"notes" json:"notes,omitempty"`
	VersionID      int        `db:"version_id" json:"version_id"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// GetVersionID returns the current version.
func (a *Appointment) GetVersionID() int { return a.VersionID }

// SetVersionID sets the current version.
func (a *Appointment) SetVersionID(v int) { a.VersionID = v }

// Update is a partial update. Nil fields keep their stored value.
type Update struct {
	Status      *Status
	CompletedAt *time.Time
	Notes       *string
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	DonorID        *uuid.UUID
	OrganizationID *uuid.UUID
	RequestID      *uuid.UUID
	Status         Status
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
