package bloodrequest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bloodnet/bloodnet/internal/domain/fulfillment"
)

type mockRepo struct {
	mu   sync.Mutex
	reqs map[uuid.UUID]*Request
}

func newMockRepo() *mockRepo {
	return &mockRepo{reqs: make(map[uuid.UUID]*Request)}
}

func (m *mockRepo) Create(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.VersionID = 1
	cp := *r
	m.reqs[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, f Filter, limit, offset int) ([]*Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Request
	for _, r := range m.reqs {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) Apply(_ context.Context, id uuid.UUID, u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return ErrNotFound
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.FulfilledAt != nil {
		r.FulfilledAt = u.FulfilledAt
	}
	if u.Notes != nil {
		r.Notes = u.Notes
	}
	r.VersionID++
	return nil
}

func (m *mockRepo) Assign(_ context.Context, id uuid.UUID, a Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != StatusOpen {
		return ErrNotOpen
	}
	r.Status = StatusAssigned
	r.AssignedTo = &a
	return nil
}

func (m *mockRepo) Cancel(_ context.Context, id uuid.UUID, notes *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != StatusOpen && r.Status != StatusAssigned {
		return ErrNotCancelable
	}
	r.Status = StatusCancelled
	if notes != nil {
		r.Notes = notes
	}
	return nil
}

func (m *mockRepo) ReopenIfAssigned(_ context.Context, id, donorID uuid.UUID, notes string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reqs[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != StatusAssigned {
		return false, nil
	}
	if a := r.AssignedTo; a != nil && a.Type == AssigneeDonor && (a.DonorID == nil || *a.DonorID != donorID) {
		return false, nil
	}
	r.Status = StatusOpen
	r.AssignedTo = nil
	r.Notes = &notes
	return true, nil
}

func newOpenRequest(t *testing.T, svc *Service) *Request {
	t.Helper()
	r := &Request{HospitalID: uuid.New(), BloodGroup: "o-", Units: 2}
	if err := svc.CreateRequest(context.Background(), r); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return r
}

func TestService_CreateRequest(t *testing.T) {
	svc := NewService(newMockRepo())
	r := newOpenRequest(t, svc)
	if r.Status != StatusOpen {
		t.Errorf("expected OPEN, got %s", r.Status)
	}
	if r.BloodGroup != "O-" {
		t.Errorf("expected O-, got %s", r.BloodGroup)
	}
	if r.Urgency != UrgencyRoutine {
		t.Errorf("expected ROUTINE, got %s", r.Urgency)
	}
}

func TestService_CreateRequest_Validation(t *testing.T) {
	svc := NewService(newMockRepo())
	tests := []struct {
		name string
		req  Request
	}{
		{"missing hospital", Request{BloodGroup: "A+", Units: 1}},
		{"bad blood group", Request{HospitalID: uuid.New(), BloodGroup: "C+", Units: 1}},
		{"zero units", Request{HospitalID: uuid.New(), BloodGroup: "A+"}},
		{"bad urgency", Request{HospitalID: uuid.New(), BloodGroup: "A+", Units: 1, Urgency: "SOON"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.req
			if err := svc.CreateRequest(context.Background(), &r); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestService_Assign(t *testing.T) {
	svc := NewService(newMockRepo())
	r := newOpenRequest(t, svc)
	donorID := uuid.New()

	if _, err := svc.Assign(context.Background(), r.ID, Assignment{Type: AssigneeDonor}); err == nil {
		t.Error("expected error for DONOR without donor_id")
	}

	got, err := svc.Assign(context.Background(), r.ID, Assignment{Type: AssigneeDonor, DonorID: &donorID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusAssigned || got.AssignedTo == nil || *got.AssignedTo.DonorID != donorID {
		t.Errorf("unexpected request after assign: %+v", got)
	}

	orgID := uuid.New()
	if _, err := svc.Assign(context.Background(), r.ID, Assignment{Type: AssigneeBank, OrganizationID: &orgID}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
}

func TestService_Cancel(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	r := newOpenRequest(t, svc)

	got, err := svc.Cancel(context.Background(), r.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", got.Status)
	}
	if _, err := svc.Cancel(context.Background(), r.ID, nil); !errors.Is(err, ErrNotCancelable) {
		t.Errorf("expected ErrNotCancelable, got %v", err)
	}
}

func TestGateway_RoundTrip(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	r := newOpenRequest(t, svc)
	donorID := uuid.New()
	if _, err := svc.Assign(context.Background(), r.ID, Assignment{Type: AssigneeDonor, DonorID: &donorID}); err != nil {
		t.Fatal(err)
	}

	g := NewGateway(repo)
	got, err := g.GetByID(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != fulfillment.RequestAssigned {
		t.Errorf("expected ASSIGNED, got %s", got.Status)
	}
	if got.AssignedTo == nil || got.AssignedTo.Type != fulfillment.AssigneeDonor || *got.AssignedTo.DonorID != donorID {
		t.Errorf("unexpected assignment: %+v", got.AssignedTo)
	}

	now := time.Now().UTC()
	st := fulfillment.RequestFulfilled
	if err := g.Update(context.Background(), r.ID, fulfillment.RequestUpdate{Status: &st, FulfilledAt: &now}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored, _ := repo.GetByID(context.Background(), r.ID)
	if stored.Status != StatusFulfilled || stored.FulfilledAt == nil {
		t.Errorf("expected FULFILLED with timestamp, got %+v", stored)
	}

	if _, err := g.GetByID(context.Background(), uuid.New()); !errors.Is(err, fulfillment.ErrNotFound) {
		t.Errorf("expected fulfillment.ErrNotFound, got %v", err)
	}
}

func TestGateway_ReopenIfAssigned(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	r := newOpenRequest(t, svc)
	orgID := uuid.New()
	svc.Assign(context.Background(), r.ID, Assignment{Type: AssigneeBank, OrganizationID: &orgID})

	g := NewGateway(repo)
	ok, err := g.ReopenIfAssigned(context.Background(), r.ID, uuid.New(), "reopened")
	if err != nil || !ok {
		t.Fatalf("expected reopen, got ok=%v err=%v", ok, err)
	}
	stored, _ := repo.GetByID(context.Background(), r.ID)
	if stored.Status != StatusOpen || stored.AssignedTo != nil {
		t.Errorf("expected OPEN without assignee, got %+v", stored)
	}

	// already open: no change
	ok, err = g.ReopenIfAssigned(context.Background(), r.ID, uuid.New(), "again")
	if err != nil || ok {
		t.Errorf("expected no reopen, got ok=%v err=%v", ok, err)
	}

	if _, err := g.ReopenIfAssigned(context.Background(), uuid.New(), uuid.New(), "x"); !errors.Is(err, fulfillment.ErrNotFound) {
		t.Errorf("expected fulfillment.ErrNotFound, got %v", err)
	}
}

func TestGateway_ReopenIfAssigned_OtherDonor(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	r := newOpenRequest(t, svc)
	donorID := uuid.New()
	svc.Assign(context.Background(), r.ID, Assignment{Type: AssigneeDonor, DonorID: &donorID})

	g := NewGateway(repo)
	ok, err := g.ReopenIfAssigned(context.Background(), r.ID, uuid.New(), "reopened")
	if err != nil || ok {
		t.Fatalf("expected no reopen for another donor, got ok=%v err=%v", ok, err)
	}
	ok, err = g.ReopenIfAssigned(context.Background(), r.ID, donorID, "reopened")
	if err != nil || !ok {
		t.Fatalf("expected reopen for the assigned donor, got ok=%v err=%v", ok, err)
	}
}

func TestHandler_CreateAndAssign(t *testing.T) {
	h := NewHandler(NewService(newMockRepo()))
	e := echo.New()

	body := `{"hospital_id":"` + uuid.New().String() + `","blood_group":"AB+","units":1,"urgency":"URGENT"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.CreateRequest(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	items, _, _ := h.svc.ListRequests(context.Background(), Filter{}, 10, 0)
	if len(items) != 1 {
		t.Fatalf("expected 1 request, got %d", len(items))
	}

	assign := func() error {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"type":"BANK","organization_id":"`+uuid.New().String()+`"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(items[0].ID.String())
		return h.Assign(c)
	}
	if err := assign(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := assign()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	h := NewHandler(NewService(newMockRepo()))
	e := echo.New()

	body := `{"hospital_id":"` + uuid.New().String() + `","blood_group":"AB+","units":0}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.CreateRequest(e.NewContext(req, httptest.NewRecorder()))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
