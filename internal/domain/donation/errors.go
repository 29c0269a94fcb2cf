package donation

import "errors"

var (
	ErrNotFound           = errors.New("donation not found")
	ErrInvalidStage       = errors.New("invalid stage")
	ErrIllegalTransition  = errors.New("illegal stage transition")
	ErrVersionConflict    = errors.New("donation was modified concurrently")
	ErrDonationClosed     = errors.New("donation is closed")
	ErrLabTestsNotAllowed = errors.New("lab tests can only be recorded for completed collections")
	ErrValidation         = errors.New("validation failed")
)
