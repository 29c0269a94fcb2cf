package donation

import (
	"fmt"
	"time"
)

// PanelResult is the outcome of a single screening assay.
type PanelResult string

const (
	PanelPending  PanelResult = "pending"
	PanelNegative PanelResult = "negative"
	PanelPositive PanelResult = "positive"
)

func (r PanelResult) valid() bool {
	return r == "" || r == PanelPending || r == PanelNegative || r == PanelPositive
}

// LabTests holds the five infectious-disease panels run on every unit.
type LabTests struct {
	HIV                PanelResult `json:"hiv,omitempty"`
	HepatitisB         PanelResult `json:"hepatitis_b,omitempty"`
	HepatitisC         PanelResult `json:"hepatitis_c,omitempty"`
	Syphilis           PanelResult `json:"syphilis,omitempty"`
	Malaria            PanelResult `json:"malaria,omitempty"`
	ConfirmedBloodType *string     `json:"confirmed_blood_type,omitempty"`
	Passed             *bool       `json:"passed,omitempty"`
	TestedBy           string      `json:"tested_by,omitempty"`
	TestedAt           *time.Time  `json:"tested_at,omitempty"`
}

// LabOutcome summarises a LabTests payload.
type LabOutcome string

const (
	LabPending LabOutcome = "pending"
	LabPassed  LabOutcome = "passed"
	LabFailed  LabOutcome = "failed"
)

// overallPanel names the failure when the overall flag is negative but no
// individual panel is positive.
const overallPanel = "Overall"

type panel struct {
	name   string
	result PanelResult
}

func (l *LabTests) panels() []panel {
	return []panel{
		{"HIV", l.HIV},
		{"Hepatitis B", l.HepatitisB},
		{"Hepatitis C", l.HepatitisC},
		{"Syphilis", l.Syphilis},
		{"Malaria", l.Malaria},
	}
}

// Validate rejects unknown panel values and a confirmed blood type outside
// the ABO/Rh set.
func (l *LabTests) Validate() error {
	for _, p := range l.panels() {
		if !p.result.valid() {
			return fmt.Errorf("%w: invalid %s result %q", ErrValidation, p.name, p.result)
		}
	}
	if l.ConfirmedBloodType != nil && !ValidBloodGroup(*l.ConfirmedBloodType) {
		return fmt.Errorf("%w: invalid confirmed blood type %q", ErrValidation, *l.ConfirmedBloodType)
	}
	return nil
}

// FailedPanels lists the panels that came back positive, in a fixed order.
func (l *LabTests) FailedPanels() []string {
	var failed []string
	for _, p := range l.panels() {
		if p.result == PanelPositive {
			failed = append(failed, p.name)
		}
	}
	return failed
}

// Outcome classifies the payload. Any positive panel or an explicit
// passed=false fails the unit; it passes once every panel is negative or the
// overall flag is set to true.
func (l *LabTests) Outcome() (LabOutcome, []string) {
	failed := l.FailedPanels()
	if len(failed) > 0 {
		return LabFailed, failed
	}
	if l.Passed != nil && !*l.Passed {
		return LabFailed, []string{overallPanel}
	}
	if l.Passed != nil && *l.Passed {
		return LabPassed, nil
	}
	for _, p := range l.panels() {
		if p.result != PanelNegative {
			return LabPending, nil
		}
	}
	return LabPassed, nil
}
