// Package eligibility decides whether a donor may give blood again.
package eligibility

import (
	"time"
)

// CooldownDays is the minimum number of days between two donations.
const CooldownDays = 90

// Cooldown is CooldownDays expressed as a duration.
const Cooldown = CooldownDays * 24 * time.Hour

// IsEligible reports whether a donor whose last donation happened at last
// may donate at now. A donor with no recorded donation is always eligible.
func IsEligible(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	return now.Sub(*last) >= Cooldown
}

// NextEligibleDate returns last + Cooldown, or nil when there is no previous
// donation. The date is returned even if it already lies in the past.
func NextEligibleDate(last *time.Time) *time.Time {
	if last == nil {
		return nil
	}
	next := last.Add(Cooldown)
	return &next
}

// Status is the eligibility view returned to API callers.
type Status struct {
	Eligible         bool       `json:"eligible"`
	LastDonationDate *time.Time `json:"last_donation_date,omitempty"`
	NextEligibleDate *time.Time `json:"next_eligible_date,omitempty"`
	DaysRemaining    int        `json:"days_remaining"`
}

// Calculator binds the eligibility rules to a clock.
type Calculator struct {
	now func() time.Time
}

// NewCalculator returns a Calculator using the wall clock.
func NewCalculator() *Calculator {
	return &Calculator{now: time.Now}
}

// NewCalculatorWithClock returns a Calculator that reads time from now.
func NewCalculatorWithClock(now func() time.Time) *Calculator {
	return &Calculator{now: now}
}

func (c *Calculator) IsEligible(last *time.Time) bool {
	return IsEligible(last, c.now())
}

func (c *Calculator) NextEligibleDate(last *time.Time) *time.Time {
	return NextEligibleDate(last)
}

// Evaluate combines both rules into a Status.
func (c *Calculator) Evaluate(last *time.Time) Status {
	now := c.now()
	st := Status{
		Eligible:         IsEligible(last, now),
		LastDonationDate: last,
		NextEligibleDate: NextEligibleDate(last),
	}
	if !st.Eligible && st.NextEligibleDate != nil {
		remaining := st.NextEligibleDate.Sub(now)
		// round up partial days so "1h left" reads as 1 day
		st.DaysRemaining = int((remaining + 24*time.Hour - 1) / (24 * time.Hour))
	}
	return st
}
