// Package fulfillment keeps appointments, blood requests and donor
// eligibility consistent with the outcome of a donation's lab tests.
package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by gateways when the referenced record is missing.
var ErrNotFound = errors.New("not found")

type AppointmentStatus string

const (
	AppointmentUpcoming  AppointmentStatus = "UPCOMING"
	AppointmentConfirmed AppointmentStatus = "CONFIRMED"
	AppointmentCollected AppointmentStatus = "COLLECTED"
	AppointmentCompleted AppointmentStatus = "COMPLETED"
	AppointmentRejected  AppointmentStatus = "REJECTED"
	AppointmentCancelled AppointmentStatus = "CANCELLED"
	AppointmentNoShow    AppointmentStatus = "NO_SHOW"
)

type RequestStatus string

const (
	RequestOpen      RequestStatus = "OPEN"
	RequestAssigned  RequestStatus = "ASSIGNED"
	RequestFulfilled RequestStatus = "FULFILLED"
	RequestCancelled RequestStatus = "CANCELLED"
)

type AssigneeType string

const (
	AssigneeDonor AssigneeType = "DONOR"
	AssigneeBank  AssigneeType = "BANK"
)

// Appointment is the slice of a scheduled visit the protocol reads.
type Appointment struct {
	ID          uuid.UUID
	DonorID     uuid.UUID
	Status      AppointmentStatus
	RequestID   *uuid.UUID
	CompletedAt *time.Time
	Notes       string
}

// Assignment names who a request was handed to.
type Assignment struct {
	Type           AssigneeType `json:"type"`
	DonorID        *uuid.UUID   `json:"donor_id,omitempty"`
	OrganizationID *uuid.UUID   `json:"organization_id,omitempty"`
}

// Request is the slice of a blood request the protocol reads.
type Request struct {
	ID          uuid.UUID
	Status      RequestStatus
	AssignedTo  *Assignment
	FulfilledAt *time.Time
	Notes       string
}

// AppointmentUpdate is a partial update; nil fields are left alone.
type AppointmentUpdate struct {
	Status      *AppointmentStatus
	CompletedAt *time.Time
	Notes       *string
}

// RequestUpdate is a partial update; nil fields are left alone.
type RequestUpdate struct {
	Status      *RequestStatus
	FulfilledAt *time.Time
	Notes       *string
}

// EligibilityUpdate overwrites a donor's eligibility fields.
type EligibilityUpdate struct {
	LastDonationDate time.Time
	NextEligibleDate time.Time
	Eligible         bool
}

type AppointmentGateway interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, id uuid.UUID, u AppointmentUpdate) error
}

type RequestGateway interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	Update(ctx context.Context, id uuid.UUID, u RequestUpdate) error
	// ReopenIfAssigned sets the request back to OPEN and clears its
	// assignee, but only if it is still ASSIGNED and, when assigned to a
	// donor, that donor is donorID. It reports whether the request was
	// reopened.
	ReopenIfAssigned(ctx context.Context, id, donorID uuid.UUID, notes string) (bool, error)
}

type DonorGateway interface {
	// LastDonationDate returns the donor's recorded last donation, nil if none.
	LastDonationDate(ctx context.Context, donorID uuid.UUID) (*time.Time, error)
	UpdateEligibility(ctx context.Context, donorID uuid.UUID, u EligibilityUpdate) error
}
