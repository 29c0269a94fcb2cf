package donation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMoveToStage_BankPathStoresUnit(t *testing.T) {
	f := newFixture()
	appt := uuid.New()
	d := f.create(f.bank, &appt)

	got := f.advance(d.ID, StageReadyStorage)

	if got.Stage != StageReadyStorage {
		t.Fatalf("expected ready-storage, got %s", got.Stage)
	}
	if got.Status != StatusStored {
		t.Errorf("expected status stored, got %s", got.Status)
	}
	wantExpiry := f.now.Add(35 * 24 * time.Hour)
	if got.ExpiryDate == nil || !got.ExpiryDate.Equal(wantExpiry) {
		t.Errorf("expected expiry %v, got %v", wantExpiry, got.ExpiryDate)
	}
	if got.CompletionDate == nil || !got.CompletionDate.Equal(f.now) {
		t.Errorf("expected completion date %v, got %v", f.now, got.CompletionDate)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("expected started_at and completed_at to be set")
	}
	// registered + four moves
	if len(got.History) != 5 {
		t.Fatalf("expected 5 history entries, got %d", len(got.History))
	}
	last := got.History[4]
	if last.Stage != StageReadyStorage || last.Action != "Moved from completed to ready-storage" {
		t.Errorf("unexpected last entry: %+v", last)
	}
	if last.PerformedBy != "nurse-1" || !last.PerformedAt.Equal(f.now) {
		t.Errorf("unexpected actor/time on last entry: %+v", last)
	}
	if len(f.fulfiller.fulfilled) != 1 {
		t.Fatalf("expected 1 fulfillment call, got %d", len(f.fulfiller.fulfilled))
	}
	if call := f.fulfiller.fulfilled[0]; call.donationID != d.ID || call.appointmentID == nil || *call.appointmentID != appt {
		t.Errorf("unexpected fulfillment call: %+v", call)
	} else if !call.completedAt.Equal(*got.CompletionDate) {
		t.Errorf("expected fulfillment at completion date %v, got %v", got.CompletionDate, call.completedAt)
	}
}

func TestMoveToStage_HospitalPathUsesUnit(t *testing.T) {
	f := newFixture()
	d := f.create(f.hospital, nil)

	got := f.advance(d.ID, StageReadyStorage)

	if got.Status != StatusUsed {
		t.Errorf("expected status used, got %s", got.Status)
	}
	if got.ExpiryDate == nil {
		t.Error("expected expiry date to be set")
	}
}

func TestMoveToStage_OrgLookupFailureFallsBackToUsed(t *testing.T) {
	f := newFixture()
	f.orgs.err = errors.New("organization service down")
	d := f.create(f.bank, nil)

	got := f.advance(d.ID, StageReadyStorage)

	if got.Status != StatusUsed {
		t.Errorf("expected status used on lookup failure, got %s", got.Status)
	}
}

func TestMoveToStage_OrgLookupOnlyOnFirstStorageEntry(t *testing.T) {
	f := newFixture()
	d := f.create(f.bank, nil)
	f.advance(d.ID, StageCompleted)
	if f.orgs.calls != 0 {
		t.Fatalf("expected no lookups before ready-storage, got %d", f.orgs.calls)
	}

	f.advance(d.ID, StageReadyStorage)
	if _, err := f.engine.MoveToStage(context.Background(), d.ID, StageReadyStorage, "nurse-1", ""); err != nil {
		t.Fatalf("re-entry: %v", err)
	}
	if f.orgs.calls != 1 {
		t.Errorf("expected exactly 1 lookup, got %d", f.orgs.calls)
	}
}

func TestMoveToStage_ReadyStorageReentryIsIdempotent(t *testing.T) {
	f := newFixture()
	d := f.create(f.bank, uuidPtr(uuid.New()))
	first := f.advance(d.ID, StageReadyStorage)

	f.now = f.now.Add(48 * time.Hour)
	again, err := f.engine.MoveToStage(context.Background(), d.ID, StageReadyStorage, "nurse-2", "recount")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !again.ExpiryDate.Equal(*first.ExpiryDate) {
		t.Errorf("expiry changed on re-entry: %v -> %v", first.ExpiryDate, again.ExpiryDate)
	}
	if !again.CompletionDate.Equal(*first.CompletionDate) {
		t.Errorf("completion date changed on re-entry")
	}
	if again.Status != StatusStored {
		t.Errorf("expected stored, got %s", again.Status)
	}
	if len(again.History) != len(first.History)+1 {
		t.Errorf("expected one more history entry, got %d -> %d", len(first.History), len(again.History))
	}
	if len(f.fulfiller.fulfilled) != 1 {
		t.Errorf("expected fulfillment to run once, ran %d times", len(f.fulfiller.fulfilled))
	}
}

func TestMoveToStage_IllegalTransitions(t *testing.T) {
	tests := []struct {
		name   string
		from   Stage
		target Stage
	}{
		{"skip screening", StageNewDonors, StageInProgress},
		{"skip to storage", StageNewDonors, StageReadyStorage},
		{"backwards", StageCompleted, StageInProgress},
		{"out of storage", StageReadyStorage, StageRejected},
		{"out of storage backwards", StageReadyStorage, StageCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			d := f.create(f.hospital, nil)
			if tt.from != StageNewDonors {
				f.advance(d.ID, tt.from)
			}
			before, _ := f.repo.GetByID(context.Background(), d.ID)

			_, err := f.engine.MoveToStage(context.Background(), d.ID, tt.target, "nurse-1", "")
			if !errors.Is(err, ErrIllegalTransition) {
				t.Fatalf("expected ErrIllegalTransition, got %v", err)
			}
			after, _ := f.repo.GetByID(context.Background(), d.ID)
			if len(after.History) != len(before.History) || after.VersionID != before.VersionID {
				t.Error("refused transition must not write")
			}
		})
	}
}

func TestMoveToStage_RejectedIsAbsorbing(t *testing.T) {
	f := newFixture()
	d := f.create(f.hospital, nil)
	if _, err := f.engine.MoveToStage(context.Background(), d.ID, StageRejected, "nurse-1", "low hemoglobin"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	for _, st := range []Stage{StageNewDonors, StageScreening, StageCompleted, StageReadyStorage} {
		if _, err := f.engine.MoveToStage(context.Background(), d.ID, st, "nurse-1", ""); !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("rejected -> %s: expected ErrIllegalTransition, got %v", st, err)
		}
	}
}

func TestMoveToStage_Validation(t *testing.T) {
	f := newFixture()
	d := f.create(f.hospital, nil)

	if _, err := f.engine.MoveToStage(context.Background(), d.ID, Stage("archived"), "nurse-1", ""); !errors.Is(err, ErrInvalidStage) {
		t.Errorf("expected ErrInvalidStage, got %v", err)
	}
	if _, err := f.engine.MoveToStage(context.Background(), d.ID, StageScreening, "", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for missing actor, got %v", err)
	}
	if _, err := f.engine.MoveToStage(context.Background(), uuid.New(), StageScreening, "nurse-1", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMoveToStage_RejectedSetsStatusAndCompletedAt(t *testing.T) {
	f := newFixture()
	d := f.create(f.hospital, nil)
	f.advance(d.ID, StageScreening)

	got, err := f.engine.MoveToStage(context.Background(), d.ID, StageRejected, "nurse-1", "failed screening")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusRejected {
		t.Errorf("expected rejected status, got %s", got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(f.now) {
		t.Errorf("expected completed_at %v, got %v", f.now, got.CompletedAt)
	}
	if got.ExpiryDate != nil {
		t.Error("expiry must not be set on rejection")
	}
	if n := len(f.fulfiller.released); n != 0 {
		t.Errorf("manual rejection must not release assignment, got %d calls", n)
	}
}

func TestMoveToStage_FulfillmentErrorDoesNotFailMove(t *testing.T) {
	f := newFixture()
	f.fulfiller.err = errors.New("request service unavailable")
	d := f.create(f.bank, uuidPtr(uuid.New()))

	f.advance(d.ID, StageCompleted)
	got, err := f.engine.MoveToStage(context.Background(), d.ID, StageReadyStorage, "lab-1", "")
	if err != nil {
		t.Fatalf("expected success despite fulfillment error, got %v", err)
	}
	if got.Stage != StageReadyStorage {
		t.Errorf("expected ready-storage, got %s", got.Stage)
	}
	stored, _ := f.repo.GetByID(context.Background(), d.ID)
	if stored.Stage != StageReadyStorage || stored.Status != StatusStored {
		t.Errorf("primary write lost: %s/%s", stored.Stage, stored.Status)
	}
}

func TestMoveToStage_RetriesOnVersionConflict(t *testing.T) {
	f := newFixture()
	d := f.create(f.hospital, nil)
	f.repo.conflicts = 2

	got, err := f.engine.MoveToStage(context.Background(), d.ID, StageScreening, "nurse-1", "")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(got.History) != 2 {
		t.Errorf("expected exactly one new history entry, got %d total", len(got.History))
	}
}

func TestMoveToStage_GivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture()
	d := f.create(f.hospital, nil)
	f.repo.conflicts = 10

	_, err := f.engine.MoveToStage(context.Background(), d.ID, StageScreening, "nurse-1", "")
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestRejectForLabFailure(t *testing.T) {
	f := newFixture()
	appt := uuid.New()
	d := f.create(f.hospital, &appt)
	f.advance(d.ID, StageCompleted)

	got, err := f.engine.RejectForLabFailure(context.Background(), d.ID, "lab-1", []string{"HIV", "Malaria"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Stage != StageRejected || got.Status != StatusRejected {
		t.Errorf("expected rejected/rejected, got %s/%s", got.Stage, got.Status)
	}
	last := got.History[len(got.History)-1]
	if last.Notes != "Lab tests failed: HIV, Malaria" {
		t.Errorf("unexpected notes: %q", last.Notes)
	}
	if len(f.fulfiller.released) != 1 {
		t.Fatalf("expected 1 release call, got %d", len(f.fulfiller.released))
	}
	call := f.fulfiller.released[0]
	if *call.appointmentID != appt || len(call.failedPanels) != 2 {
		t.Errorf("unexpected release call: %+v", call)
	}

	// A second rejection re-enters the stage but must not release again.
	if _, err := f.engine.RejectForLabFailure(context.Background(), d.ID, "lab-1", []string{"HIV"}); err != nil {
		t.Fatalf("re-entry: %v", err)
	}
	if len(f.fulfiller.released) != 1 {
		t.Errorf("expected release to run once, ran %d times", len(f.fulfiller.released))
	}
}

func TestAbort(t *testing.T) {
	f := newFixture()
	d := f.create(f.hospital, nil)
	f.advance(d.ID, StageInProgress)

	got, err := f.engine.Abort(context.Background(), d.ID, "staff-1", "donor felt faint")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusAborted || got.Stage != StageInProgress {
		t.Errorf("expected aborted in in-progress, got %s/%s", got.Status, got.Stage)
	}

	if _, err := f.engine.MoveToStage(context.Background(), d.ID, StageCompleted, "nurse-1", ""); !errors.Is(err, ErrDonationClosed) {
		t.Errorf("expected ErrDonationClosed after abort, got %v", err)
	}
	if _, err := f.engine.MoveToStage(context.Background(), d.ID, StageInProgress, "nurse-1", ""); !errors.Is(err, ErrDonationClosed) {
		t.Errorf("expected ErrDonationClosed for re-entry after abort, got %v", err)
	}
	if _, err := f.engine.Abort(context.Background(), d.ID, "staff-1", ""); !errors.Is(err, ErrDonationClosed) {
		t.Errorf("expected ErrDonationClosed on second abort, got %v", err)
	}
}

func TestAbort_StoredUnitCannotBeAborted(t *testing.T) {
	f := newFixture()
	d := f.create(f.bank, nil)
	f.advance(d.ID, StageReadyStorage)

	if _, err := f.engine.Abort(context.Background(), d.ID, "staff-1", ""); !errors.Is(err, ErrDonationClosed) {
		t.Errorf("expected ErrDonationClosed, got %v", err)
	}
}

func TestAddHistoryEntry(t *testing.T) {
	f := newFixture()
	d := f.create(f.hospital, nil)

	got, err := f.engine.AddHistoryEntry(context.Background(), d.ID, "Donor called", "staff-1", "left voicemail")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.History) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got.History))
	}
	e := got.History[1]
	if e.Stage != StageNewDonors || e.Action != "Donor called" || e.Notes != "left voicemail" {
		t.Errorf("unexpected entry: %+v", e)
	}

	if _, err := f.engine.AddHistoryEntry(context.Background(), d.ID, "  ", "staff-1", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for blank action, got %v", err)
	}
}

func TestConcurrentWritesAreSerialized(t *testing.T) {
	f := newFixture()
	d := f.create(f.hospital, nil)

	const writers = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.AddHistoryEntry(context.Background(), d.ID, "Note", "staff-1", ""); err != nil {
				t.Errorf("add history: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := f.repo.GetByID(context.Background(), d.ID)
	if len(got.History) != writers+1 {
		t.Errorf("expected %d entries, got %d (lost update)", writers+1, len(got.History))
	}
}

func TestConcurrentStorageEntryFulfillsOnce(t *testing.T) {
	f := newFixture()
	d := f.create(f.bank, uuidPtr(uuid.New()))
	f.advance(d.ID, StageCompleted)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.engine.MoveToStage(context.Background(), d.ID, StageReadyStorage, "lab-1", "")
		}()
	}
	wg.Wait()

	if n := len(f.fulfiller.fulfilled); n != 1 {
		t.Errorf("expected fulfillment exactly once, got %d", n)
	}
}
