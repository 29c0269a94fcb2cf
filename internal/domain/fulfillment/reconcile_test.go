package fulfillment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bloodnet/bloodnet/internal/domain/donation"
)

type staticSource struct {
	items []*donation.Donation
	err   error
}

func (s *staticSource) List(_ context.Context, f donation.Filter, limit, offset int) ([]*donation.Donation, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	var matched []*donation.Donation
	for _, d := range s.items {
		if f.Stage == "" || d.Stage == f.Stage {
			matched = append(matched, d)
		}
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func TestReconciler_RepairsBothPaths(t *testing.T) {
	h := newHarness()
	storedAppt, storedReq, donorID := h.linked(RequestAssigned)
	rejectedAppt, rejectedReq, _ := h.linked(RequestAssigned)

	src := &staticSource{items: []*donation.Donation{
		{ID: uuid.New(), Stage: donation.StageReadyStorage, AppointmentID: &storedAppt.ID},
		{ID: uuid.New(), Stage: donation.StageRejected, AppointmentID: &rejectedAppt.ID,
			LabTests: &donation.LabTests{HepatitisB: donation.PanelPositive}},
		{ID: uuid.New(), Stage: donation.StageRejected},
		{ID: uuid.New(), Stage: donation.StageReadyStorage},
	}}

	r := NewReconciler(src, h.coord, 2, zerolog.Nop(), h.metrics)
	r.pageSize = 1

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Scanned != 4 || rep.Success != 1 || rep.Failure != 1 || rep.Repaired != 2 || rep.Skipped != 2 {
		t.Errorf("unexpected report: %+v", rep)
	}
	if storedReq.Status != RequestFulfilled {
		t.Errorf("expected stored donation's request fulfilled, got %s", storedReq.Status)
	}
	if _, ok := h.donors.updates[donorID]; !ok {
		t.Error("expected donor eligibility update")
	}
	if rejectedReq.Status != RequestOpen || rejectedAppt.Status != AppointmentRejected {
		t.Errorf("expected rejected donation released, got %s / %s", rejectedReq.Status, rejectedAppt.Status)
	}

	// A second pass over consistent data changes nothing.
	before := h.appts.updates + h.requests.updates + h.requests.reopens + h.donors.calls
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	after := h.appts.updates + h.requests.updates + h.requests.reopens + h.donors.calls
	if before != after {
		t.Errorf("second pass wrote %d more updates", after-before)
	}
	if rep, _ := r.Run(context.Background()); rep.Repaired != 0 {
		t.Errorf("expected nothing repaired on consistent data, got %+v", rep)
	}
}

func storedDonation(apptID uuid.UUID, completed time.Time) *donation.Donation {
	return &donation.Donation{ID: uuid.New(), Stage: donation.StageReadyStorage, AppointmentID: &apptID, CompletionDate: &completed}
}

func TestReconciler_RedoesLostDonorUpdate(t *testing.T) {
	h := newHarness()
	appt, req, donorID := h.linked(RequestAssigned)
	d := storedDonation(appt.ID, h.now)

	h.donors.err = errBoom
	_ = h.coord.AutoFulfillRequest(context.Background(), d.ID, &appt.ID, h.now)
	if req.Status != RequestFulfilled {
		t.Fatalf("expected request fulfilled by first run, got %s", req.Status)
	}
	h.donors.err = nil

	rep, err := NewReconciler(&staticSource{items: []*donation.Donation{d}}, h.coord, 1, zerolog.Nop(), h.metrics).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Success != 1 || rep.Repaired != 1 || rep.Failures != 0 {
		t.Errorf("unexpected report: %+v", rep)
	}
	if u, ok := h.donors.updates[donorID]; !ok || !u.LastDonationDate.Equal(h.now) {
		t.Errorf("expected donor repaired, got %+v (ok=%v)", u, ok)
	}
}

func TestReconciler_RedoesLostReopen(t *testing.T) {
	h := newHarness()
	appt, req, _ := h.linked(RequestAssigned)
	d := &donation.Donation{ID: uuid.New(), Stage: donation.StageRejected, AppointmentID: &appt.ID,
		LabTests: &donation.LabTests{HIV: donation.PanelPositive}}

	h.requests.reopenErr = errBoom
	_ = h.coord.ReleaseAssignment(context.Background(), d.ID, &appt.ID, []string{"HIV"})
	if appt.Status != AppointmentRejected || req.Status != RequestAssigned {
		t.Fatalf("unexpected state after first run: %s / %s", appt.Status, req.Status)
	}
	h.requests.reopenErr = nil

	rep, err := NewReconciler(&staticSource{items: []*donation.Donation{d}}, h.coord, 1, zerolog.Nop(), nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Failure != 1 || rep.Repaired != 1 {
		t.Errorf("unexpected report: %+v", rep)
	}
	if req.Status != RequestOpen || req.AssignedTo != nil {
		t.Errorf("expected request reopened, got %s %+v", req.Status, req.AssignedTo)
	}
}

func TestReconciler_DonorDatesFollowCompletion(t *testing.T) {
	h := newHarness()
	appt, req, donorID := h.linked(RequestAssigned)
	completed := h.now
	d := storedDonation(appt.ID, completed)

	h.requests.updErr = errBoom
	h.donors.err = errBoom
	_ = h.coord.AutoFulfillRequest(context.Background(), d.ID, &appt.ID, completed)
	h.requests.updErr = nil
	h.donors.err = nil

	h.now = h.now.AddDate(0, 0, 10)
	if _, err := NewReconciler(&staticSource{items: []*donation.Donation{d}}, h.coord, 1, zerolog.Nop(), nil).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if req.Status != RequestFulfilled || !req.FulfilledAt.Equal(completed) {
		t.Errorf("expected request fulfilled at %v, got %s %v", completed, req.Status, req.FulfilledAt)
	}
	u := h.donors.updates[donorID]
	if !u.LastDonationDate.Equal(completed) {
		t.Errorf("expected last donation %v, got %v", completed, u.LastDonationDate)
	}
	if want := completed.AddDate(0, 0, 90); !u.NextEligibleDate.Equal(want) {
		t.Errorf("expected next eligible %v, got %v", want, u.NextEligibleDate)
	}
}

func TestReconciler_StepErrorIsNotReportedAsRepaired(t *testing.T) {
	h := newHarness()
	appt, _, _ := h.linked(RequestAssigned)
	h.donors.err = errBoom

	rep, err := NewReconciler(&staticSource{items: []*donation.Donation{storedDonation(appt.ID, h.now)}}, h.coord, 1, zerolog.Nop(), nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Failures != 1 || rep.Success != 0 || rep.Repaired != 0 {
		t.Errorf("expected the donation counted as failed, got %+v", rep)
	}
}

func TestReconciler_SkipsRejectionsWithoutLabFailure(t *testing.T) {
	h := newHarness()
	appt, req, _ := h.linked(RequestAssigned)
	src := &staticSource{items: []*donation.Donation{
		{ID: uuid.New(), Stage: donation.StageRejected, AppointmentID: &appt.ID},
	}}

	rep, err := NewReconciler(src, h.coord, 1, zerolog.Nop(), nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Skipped != 1 || req.Status != RequestAssigned {
		t.Errorf("manual rejection must be left alone: %+v, request %s", rep, req.Status)
	}
}

func TestReconciler_SourceError(t *testing.T) {
	h := newHarness()
	src := &staticSource{err: errors.New("db down")}

	if _, err := NewReconciler(src, h.coord, 1, zerolog.Nop(), nil).Run(context.Background()); err == nil {
		t.Fatal("expected error from source")
	}
}

func TestReconciler_ScopeWrapsEachDonation(t *testing.T) {
	h := newHarness()
	appt, _, _ := h.linked(RequestAssigned)
	src := &staticSource{items: []*donation.Donation{
		{ID: uuid.New(), Stage: donation.StageReadyStorage, AppointmentID: &appt.ID},
		{ID: uuid.New(), Stage: donation.StageReadyStorage},
	}}

	var calls int32
	scope := func(ctx context.Context, fn func(context.Context) error) error {
		atomic.AddInt32(&calls, 1)
		return fn(ctx)
	}
	rep, err := NewReconciler(src, h.coord, 1, zerolog.Nop(), nil).WithScope(scope).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected scope per donation, got %d calls", calls)
	}
	if rep.Success != 1 || rep.Skipped != 1 {
		t.Errorf("unexpected report: %+v", rep)
	}
}

func TestReconciler_ScopeErrorCounted(t *testing.T) {
	h := newHarness()
	src := &staticSource{items: []*donation.Donation{
		{ID: uuid.New(), Stage: donation.StageReadyStorage},
	}}

	scope := func(context.Context, func(context.Context) error) error { return errors.New("no connection") }
	rep, err := NewReconciler(src, h.coord, 1, zerolog.Nop(), nil).WithScope(scope).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Failures != 1 {
		t.Errorf("expected 1 failure, got %+v", rep)
	}
}
