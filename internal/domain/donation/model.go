package donation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage is the workflow position of a donation.
type Stage string

const (
	StageNewDonors    Stage = "new-donors"
	StageScreening    Stage = "screening"
	StageInProgress   Stage = "in-progress"
	StageCompleted    Stage = "completed"
	StageReadyStorage Stage = "ready-storage"
	StageRejected     Stage = "rejected"
)

var stages = []Stage{
	StageNewDonors, StageScreening, StageInProgress,
	StageCompleted, StageReadyStorage, StageRejected,
}

// ParseStage validates a raw stage name.
func ParseStage(s string) (Stage, error) {
	for _, st := range stages {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStage, s)
}

// Terminal reports whether no further stage can follow.
func (s Stage) Terminal() bool {
	return s == StageReadyStorage || s == StageRejected
}

// Status is the disposition of a donation, independent of its stage.
type Status string

const (
	StatusActive    Status = "active"
	StatusRejected  Status = "rejected"
	StatusAborted   Status = "aborted"
	StatusCompleted Status = "completed"
	StatusUsed      Status = "used"
	StatusStored    Status = "stored"
)

var validStatuses = map[Status]bool{
	StatusActive: true, StatusRejected: true, StatusAborted: true,
	StatusCompleted: true, StatusUsed: true, StatusStored: true,
}

// ParseStatus validates a raw status name.
func ParseStatus(s string) (Status, error) {
	if !validStatuses[Status(s)] {
		return "", fmt.Errorf("invalid status: %q", s)
	}
	return Status(s), nil
}

var validBloodGroups = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}

// ValidBloodGroup reports whether g is one of the eight ABO/Rh groups.
func ValidBloodGroup(g string) bool { return validBloodGroups[g] }

// ShelfLife is how long a stored unit stays usable.
const ShelfLife = 35 * 24 * time.Hour

// Screening holds the pre-donation vitals check.
type Screening struct {
	Hemoglobin    *float64   `json:"hemoglobin,omitempty"`
	BloodPressure *string    `json:"blood_pressure,omitempty"`
	Pulse         *int       `json:"pulse,omitempty"`
	Temperature   *float64   `json:"temperature,omitempty"`
	Weight        *float64   `json:"weight,omitempty"`
	Passed        *bool      `json:"passed,omitempty"`
	ScreenedBy    string     `json:"screened_by,omitempty"`
	ScreenedAt    *time.Time `json:"screened_at,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
}

// Collection describes the physical draw.
type Collection struct {
	BagID         string     `json:"bag_id,omitempty"`
	VolumeML      *int       `json:"volume_ml,omitempty"`
	ComponentType string     `json:"component_type,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	CollectedBy   string     `json:"collected_by,omitempty"`
	BedNumber     *string    `json:"bed_number,omitempty"`
}

var validComponentTypes = map[string]bool{
	"whole-blood": true, "plasma": true, "platelets": true, "red-cells": true, "cryo": true,
}

// Donation is the aggregate tracked through the collection pipeline.
type Donation struct {
	ID              uuid.UUID      `json:"id"`
	DonorName       string         `json:"donor_name"`
	BloodGroup      string         `json:"blood_group"`
	Phone           *string        `json:"phone,omitempty"`
	Email           *string        `json:"email,omitempty"`
	DonorID         *uuid.UUID     `json:"donor_id,omitempty"`
	OrganizationID  uuid.UUID      `json:"organization_id"`
	CreatedBy       string         `json:"created_by"`
	AppointmentID   *uuid.UUID     `json:"appointment_id,omitempty"`
	Stage           Stage          `json:"stage"`
	Status          Status         `json:"status"`
	Screening       *Screening     `json:"screening,omitempty"`
	Collection      *Collection    `json:"collection,omitempty"`
	LabTests        *LabTests      `json:"lab_tests,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	CompletionDate  *time.Time     `json:"completion_date,omitempty"`
	ExpiryDate      *time.Time     `json:"expiry_date,omitempty"`
	StorageLocation *string        `json:"storage_location,omitempty"`
	Notes           *string        `json:"notes,omitempty"`
	History         []HistoryEntry `json:"history"`
	VersionID       int            `json:"version_id"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// GetVersionID returns the current version.
func (d *Donation) GetVersionID() int { return d.VersionID }

// SetVersionID sets the current version.
func (d *Donation) SetVersionID(v int) { d.VersionID = v }

// Closed reports whether the donation accepts no further pipeline changes.
func (d *Donation) Closed() bool {
	return d.Status == StatusAborted
}

// Clone returns a deep copy so a failed write never leaks a half-applied
// mutation into the caller's value.
func (d *Donation) Clone() *Donation {
	c := *d
	c.History = append([]HistoryEntry(nil), d.History...)
	if d.Screening != nil {
		s := *d.Screening
		c.Screening = &s
	}
	if d.Collection != nil {
		col := *d.Collection
		c.Collection = &col
	}
	if d.LabTests != nil {
		lt := *d.LabTests
		c.LabTests = &lt
	}
	return &c
}

// Details carries the descriptive fields an operator may edit freely.
type Details struct {
	DonorName       *string    `json:"donor_name,omitempty"`
	BloodGroup      *string    `json:"blood_group,omitempty"`
	Phone           *string    `json:"phone,omitempty"`
	Email           *string    `json:"email,omitempty"`
	DonorID         *uuid.UUID `json:"donor_id,omitempty"`
	StorageLocation *string    `json:"storage_location,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	OrganizationID *uuid.UUID
	Stage          Stage
	Status         Status
	AppointmentID  *uuid.UUID
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
