package donation

import (
	"fmt"
	"time"
)

// HistoryEntry is one line of the donation audit trail. Entries are only
// ever appended.
type HistoryEntry struct {
	Stage       Stage     `json:"stage"`
	Action      string    `json:"action"`
	PerformedBy string    `json:"performed_by"`
	PerformedAt time.Time `json:"performed_at"`
	Notes       string    `json:"notes,omitempty"`
}

func (d *Donation) appendHistory(action, performedBy, notes string, at time.Time) {
	d.History = append(d.History, HistoryEntry{
		Stage:       d.Stage,
		Action:      action,
		PerformedBy: performedBy,
		PerformedAt: at,
		Notes:       notes,
	})
}

func moveAction(from, to Stage) string {
	return fmt.Sprintf("Moved from %s to %s", from, to)
}
