package donation

import (
	"fmt"
	"time"
)

// transitions lists the legal forward moves. Re-entering the current stage
// is always allowed and handled separately.
var transitions = map[Stage][]Stage{
	StageNewDonors:    {StageScreening, StageRejected},
	StageScreening:    {StageInProgress, StageRejected},
	StageInProgress:   {StageCompleted, StageRejected},
	StageCompleted:    {StageReadyStorage, StageRejected},
	StageReadyStorage: nil,
	StageRejected:     nil,
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Stage) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStages returns the stages reachable from s, excluding re-entry.
func NextStages(s Stage) []Stage {
	return append([]Stage(nil), transitions[s]...)
}

func checkTransition(d *Donation, to Stage) error {
	if d.Closed() {
		return fmt.Errorf("%w: status is %s", ErrDonationClosed, d.Status)
	}
	if !CanTransition(d.Stage, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, d.Stage, to)
	}
	return nil
}

// entryEffects is what the engine has to do after applying a transition.
type entryEffects struct {
	firstEntry bool
	fulfill    bool
}

// applyTransition mutates d for a move to target. Dated effects run only on
// first entry so repeated calls leave timestamps untouched. orgType is the
// resolved organization type and only matters for ready-storage.
func applyTransition(d *Donation, target Stage, orgType OrgType, performedBy, notes string, now time.Time) entryEffects {
	from := d.Stage
	eff := entryEffects{firstEntry: from != target}

	if eff.firstEntry {
		switch target {
		case StageInProgress:
			if d.StartedAt == nil {
				d.StartedAt = timePtr(now)
			}
		case StageCompleted:
			if d.CompletedAt == nil {
				d.CompletedAt = timePtr(now)
			}
		case StageReadyStorage:
			if d.ExpiryDate == nil {
				d.ExpiryDate = timePtr(now.Add(ShelfLife))
			}
			if d.CompletionDate == nil {
				d.CompletionDate = timePtr(now)
			}
			d.Status = dispositionFor(orgType)
			eff.fulfill = true
		case StageRejected:
			d.Status = StatusRejected
			d.CompletedAt = timePtr(now)
		}
		d.Stage = target
	}

	d.appendHistory(moveAction(from, target), performedBy, notes, now)
	return eff
}

// dispositionFor maps the owning organization to the terminal status of a
// unit that reached storage. Banks keep stock; everyone else consumes it.
func dispositionFor(t OrgType) Status {
	if t == OrgTypeBank {
		return StatusStored
	}
	return StatusUsed
}

func timePtr(t time.Time) *time.Time { return &t }
