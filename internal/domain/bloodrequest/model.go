// Package bloodrequest holds hospital requests for blood and their
// assignment to a donor or a blood bank.
package bloodrequest

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("request not found")
	ErrNotOpen       = errors.New("request is not open")
	ErrNotCancelable = errors.New("request can no longer be cancelled")
	ErrValidation    = errors.New("invalid request")
)

type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusAssigned  Status = "ASSIGNED"
	StatusFulfilled Status = "FULFILLED"
	StatusCancelled Status = "CANCELLED"
)

type Urgency string

const (
	UrgencyRoutine   Urgency = "ROUTINE"
	UrgencyUrgent    Urgency = "URGENT"
	UrgencyEmergency Urgency = "EMERGENCY"
)

var validUrgencies = map[Urgency]bool{UrgencyRoutine: true, UrgencyUrgent: true, UrgencyEmergency: true}

type AssigneeType string

const (
	AssigneeDonor AssigneeType = "DONOR"
	AssigneeBank  AssigneeType = "BANK"
)

// Assignment names who the request was handed to.
type Assignment struct {
	Type           AssigneeType `json:"type"`
	DonorID        *uuid.UUID   `json:"donor_id,omitempty"`
	OrganizationID *uuid.UUID   `json:"organization_id,omitempty"`
}

// Request is a hospital's need for blood of a given group.
type Request struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	HospitalID  uuid.UUID   `db:"hospital_id" json:"hospital_id"`
	BloodGroup  string      `db:"blood_group" json:"blood_group"`
	Units       int         `db:"units" json:"units"`
	Urgency     Urgency     `db:"urgency" json:"urgency"`
	Status      Status      `db:"status" json:"status"`
	AssignedTo  *Assignment `json:"assigned_to,omitempty"`
	FulfilledAt *time.Time  `db:"fulfilled_at" json:"fulfilled_at,omitempty"`
	Notes       *string     `db:"notes" json:"notes,omitempty"`
	VersionID   int         `db:"version_id" json:"version_id"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// GetVersionID returns the current version.
func (r *Request) GetVersionID() int { return r.VersionID }

// SetVersionID sets the current version.
func (r *Request) SetVersionID(v int) { r.VersionID = v }

// Update is a partial update. Nil fields keep their stored value.
type Update struct {
	Status      *Status
	FulfilledAt *time.Time
	Notes       *string
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	HospitalID *uuid.UUID
	Status     Status
	BloodGroup string
}
