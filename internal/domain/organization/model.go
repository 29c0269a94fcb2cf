package organization

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("organization not found")
	ErrValidation = errors.New("invalid organization")
)

// Type distinguishes the two kinds of network members.
type Type string

const (
	TypeHospital Type = "HOSPITAL"
	TypeBank     Type = "BANK"
)

var validTypes = map[Type]bool{TypeHospital: true, TypeBank: true}

// Organization is a hospital or blood bank taking part in the network.
type Organization struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Type       Type      `db:"type" json:"type"`
	Active     bool      `db:"active" json:"active"`
	City       *string   `db:"city" json:"city,omitempty"`
	Phone      *string   `db:"phone" json:"phone,omitempty"`
	Email      *string   `db:"email" json:"email,omitempty"`
	LicenseNum *string   `db:"license_number" json:"license_number,omitempty"`
	VersionID  int       `db:"version_id" json:"version_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// GetVersionID returns the current version.
func (o *Organization) GetVersionID() int { return o.VersionID }

// SetVersionID sets the current version.
func (o *Organization) SetVersionID(v int) { o.VersionID = v }
