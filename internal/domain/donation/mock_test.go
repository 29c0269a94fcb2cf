package donation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository with the same version semantics as
// the real stores.
type memRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Donation

	// conflicts makes the next N saves fail with ErrVersionConflict.
	conflicts int
	saves     int
}

func newMemRepo() *memRepo {
	return &memRepo{store: make(map[uuid.UUID]*Donation)}
}

func (m *memRepo) Create(_ context.Context, d *Donation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.store[d.ID] = d.Clone()
	return nil
}

func (m *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Donation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (m *memRepo) Save(_ context.Context, d *Donation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.store[d.ID]
	if !ok {
		return ErrNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		return ErrVersionConflict
	}
	if cur.VersionID != d.VersionID {
		return ErrVersionConflict
	}
	m.saves++
	d.VersionID++
	d.UpdatedAt = time.Now().UTC()
	m.store[d.ID] = d.Clone()
	return nil
}

func (m *memRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Donation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Donation
	for _, d := range m.store {
		if f.Stage != "" && d.Stage != f.Stage {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.OrganizationID != nil && d.OrganizationID != *f.OrganizationID {
			continue
		}
		if f.AppointmentID != nil && (d.AppointmentID == nil || *d.AppointmentID != *f.AppointmentID) {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

type stubOrgs struct {
	types map[uuid.UUID]OrgType
	err   error
	calls int
}

func (s *stubOrgs) GetOrganizationType(_ context.Context, id uuid.UUID) (OrgType, error) {
	s.calls++
	if s.err != nil {
		return OrgTypeUnknown, s.err
	}
	t, ok := s.types[id]
	if !ok {
		return OrgTypeUnknown, errors.New("organization not found")
	}
	return t, nil
}

type fulfillCall struct {
	donationID    uuid.UUID
	appointmentID *uuid.UUID
	failedPanels  []string
	completedAt   time.Time
}

type recordingFulfiller struct {
	mu        sync.Mutex
	fulfilled []fulfillCall
	released  []fulfillCall
	err       error
}

func (r *recordingFulfiller) AutoFulfillRequest(_ context.Context, donationID uuid.UUID, appointmentID *uuid.UUID, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fulfilled = append(r.fulfilled, fulfillCall{donationID: donationID, appointmentID: appointmentID, completedAt: completedAt})
	return r.err
}

func (r *recordingFulfiller) ReleaseAssignment(_ context.Context, donationID uuid.UUID, appointmentID *uuid.UUID, failedPanels []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, fulfillCall{donationID: donationID, appointmentID: appointmentID, failedPanels: failedPanels})
	return r.err
}

// fixture bundles an engine, service and their fakes around a fixed clock.
type fixture struct {
	repo      *memRepo
	orgs      *stubOrgs
	fulfiller *recordingFulfiller
	engine    *Engine
	svc       *Service
	now       time.Time
	bank      uuid.UUID
	hospital  uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMemRepo(),
		fulfiller: &recordingFulfiller{},
		now:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		bank:      uuid.New(),
		hospital:  uuid.New(),
	}
	f.orgs = &stubOrgs{types: map[uuid.UUID]OrgType{
		f.bank:     OrgTypeBank,
		f.hospital: OrgTypeHospital,
	}}
	f.engine = NewEngine(f.repo, f.orgs,
		WithFulfiller(f.fulfiller),
		WithClock(func() time.Time { return f.now }),
	)
	f.svc = NewService(f.repo, f.engine)
	return f
}

func (f *fixture) create(org uuid.UUID, appt *uuid.UUID) *Donation {
	d := &Donation{
		DonorName:      "Ada Donor",
		BloodGroup:     "O+",
		OrganizationID: org,
		CreatedBy:      "staff-1",
		AppointmentID:  appt,
	}
	if err := f.svc.Create(context.Background(), d); err != nil {
		panic(err)
	}
	return d
}

// advance walks d forward from its current stage to target.
func (f *fixture) advance(id uuid.UUID, target Stage) *Donation {
	order := []Stage{StageNewDonors, StageScreening, StageInProgress, StageCompleted, StageReadyStorage}
	d, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	started := false
	for _, st := range order {
		if !started {
			started = st == d.Stage
			continue
		}
		d, err = f.engine.MoveToStage(context.Background(), id, st, "nurse-1", "")
		if err != nil {
			panic(err)
		}
		if st == target {
			break
		}
	}
	return d
}

func uuidPtr(u uuid.UUID) *uuid.UUID { return &u }
func boolPtr(b bool) *bool           { return &b }
