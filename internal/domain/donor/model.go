// Package donor keeps donor identity and donation eligibility.
package donor

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("donor not found")
	ErrValidation = errors.New("invalid donor")
)

type Donor struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	FirstName        string     `db:"first_name" json:"first_name"`
	LastName         string     `db:"last_name" json:"last_name"`
	BloodGroup       *string    `db:"blood_group" json:"blood_group,omitempty"`
	BirthDate        *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Phone            *string    `db:"phone" json:"phone,omitempty"`
	Email            *string    `db:"email" json:"email,omitempty"`
	City             *string    `db:"city" json:"city,omitempty"`
	LastDonationDate *time.Time `db:"last_donation_date" json:"last_donation_date,omitempty"`
	NextEligibleDate *time.Time `db:"next_eligible_date" json:"next_eligible_date,omitempty"`
	Eligible         bool       `db:"eligible" json:"eligible"`
	VersionID        int        `db:"version_id" json:"version_id"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// GetVersionID returns the current version.
func (d *Donor) GetVersionID() int { return d.VersionID }

// SetVersionID sets the current version.
func (d *Donor) SetVersionID(v int) { d.VersionID = v }

// FullName joins the first and last name.
func (d *Donor) FullName() string {
	if d.LastName == "" {
		return d.FirstName
	}
	return d.FirstName + " " + d.LastName
}

// Eligibility is the stored eligibility triple.
type Eligibility struct {
	LastDonationDate time.Time
	NextEligibleDate time.Time
	Eligible         bool
}
