package fulfillment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memAppointments struct {
	mu      sync.Mutex
	items   map[uuid.UUID]*Appointment
	updates int
	getErr  error
	updErr  error
}

func newMemAppointments() *memAppointments {
	return &memAppointments{items: make(map[uuid.UUID]*Appointment)}
}

func (m *memAppointments) add(a *Appointment) *Appointment {
	m.items[a.ID] = a
	return a
}

func (m *memAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	a, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAppointments) Update(_ context.Context, id uuid.UUID, u AppointmentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updErr != nil {
		return m.updErr
	}
	a, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	m.updates++
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.CompletedAt != nil {
		a.CompletedAt = u.CompletedAt
	}
	if u.Notes != nil {
		a.Notes = *u.Notes
	}
	return nil
}

type memRequests struct {
	mu        sync.Mutex
	items     map[uuid.UUID]*Request
	updates   int
	reopens   int
	updErr    error
	reopenErr error
}

func newMemRequests() *memRequests {
	return &memRequests{items: make(map[uuid.UUID]*Request)}
}

func (m *memRequests) add(r *Request) *Request {
	m.items[r.ID] = r
	return r
}

func (m *memRequests) GetByID(_ context.Context, id uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRequests) Update(_ context.Context, id uuid.UUID, u RequestUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updErr != nil {
		return m.updErr
	}
	r, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	m.updates++
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.FulfilledAt != nil {
		r.FulfilledAt = u.FulfilledAt
	}
	if u.Notes != nil {
		r.Notes = *u.Notes
	}
	return nil
}

func (m *memRequests) ReopenIfAssigned(_ context.Context, id, donorID uuid.UUID, notes string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reopenErr != nil {
		return false, m.reopenErr
	}
	r, ok := m.items[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != RequestAssigned {
		return false, nil
	}
	if a := r.AssignedTo; a != nil && a.Type == AssigneeDonor && (a.DonorID == nil || *a.DonorID != donorID) {
		return false, nil
	}
	m.reopens++
	r.Status = RequestOpen
	r.AssignedTo = nil
	r.Notes = notes
	return true, nil
}

type memDonors struct {
	mu      sync.Mutex
	updates map[uuid.UUID]EligibilityUpdate
	calls   int
	err     error
}

func newMemDonors() *memDonors {
	return &memDonors{updates: make(map[uuid.UUID]EligibilityUpdate)}
}

func (m *memDonors) LastDonationDate(_ context.Context, id uuid.UUID) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.updates[id]
	if !ok {
		return nil, nil
	}
	last := u.LastDonationDate
	return &last, nil
}

func (m *memDonors) UpdateEligibility(_ context.Context, id uuid.UUID, u EligibilityUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.updates[id] = u
	return nil
}

var errBoom = errors.New("boom")
