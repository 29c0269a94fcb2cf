package donation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/bloodnet/bloodnet/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc), f, echo.New()
}

func newRequest(method, body string, orgID *uuid.UUID) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "user-1")
	if orgID != nil {
		ctx = context.WithValue(ctx, auth.OrganizationIDKey, *orgID)
	}
	return req.WithContext(ctx)
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d error, got nil", code)
	}
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHandler_Create(t *testing.T) {
	h, f, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, `{"donor_name":"Ada","blood_group":"A+"}`, &f.bank), rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var d Donation
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.OrganizationID != f.bank {
		t.Errorf("expected organization from token, got %s", d.OrganizationID)
	}
	if d.CreatedBy != "user-1" {
		t.Errorf("expected created_by user-1, got %s", d.CreatedBy)
	}
	if d.Stage != StageNewDonors {
		t.Errorf("expected new-donors, got %s", d.Stage)
	}
}

func TestHandler_Create_BadRequest(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodPost, `{"donor_name":"Ada","blood_group":"A+"}`, nil), httptest.NewRecorder())

	expectHTTPStatus(t, h.Create(c), http.StatusBadRequest)
}

func TestHandler_Get(t *testing.T) {
	h, f, e := newTestHandler()
	d := f.create(f.bank, nil)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodGet, "", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	expectHTTPStatus(t, h.Get(c), http.StatusNotFound)
}

func TestHandler_Get_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodGet, "", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	expectHTTPStatus(t, h.Get(c), http.StatusBadRequest)
}

func TestHandler_List(t *testing.T) {
	h, f, e := newTestHandler()
	f.create(f.bank, nil)
	f.create(f.hospital, nil)

	req := httptest.NewRequest(http.MethodGet, "/?organization_id="+f.bank.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 {
		t.Errorf("expected 1 result, got %d", body.Total)
	}
}

func TestHandler_List_InvalidStage(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?stage=frozen", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	expectHTTPStatus(t, h.List(c), http.StatusBadRequest)
}

func TestHandler_SetStage(t *testing.T) {
	h, f, e := newTestHandler()
	d := f.create(f.bank, nil)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPut, `{"stage":"screening","notes":"arrived"}`, nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.SetStage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), d.ID)
	if got.Stage != StageScreening {
		t.Errorf("expected screening, got %s", got.Stage)
	}
	if last := got.History[len(got.History)-1]; last.PerformedBy != "user-1" || last.Notes != "arrived" {
		t.Errorf("unexpected history entry: %+v", last)
	}
}

func TestHandler_SetStage_Illegal(t *testing.T) {
	h, f, e := newTestHandler()
	d := f.create(f.bank, nil)

	c := e.NewContext(newRequest(http.MethodPut, `{"stage":"ready-storage"}`, nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	expectHTTPStatus(t, h.SetStage(c), http.StatusConflict)
}

func TestHandler_UpdateLabTests_WrongStage(t *testing.T) {
	h, f, e := newTestHandler()
	d := f.create(f.bank, nil)

	c := e.NewContext(newRequest(http.MethodPut, `{"hiv":"negative"}`, nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	expectHTTPStatus(t, h.UpdateLabTests(c), http.StatusUnprocessableEntity)
}

func TestHandler_UpdateLabTests_Failed(t *testing.T) {
	h, f, e := newTestHandler()
	d := f.create(f.bank, uuidPtr(uuid.New()))
	f.advance(d.ID, StageCompleted)

	body := `{"hiv":"positive","hepatitis_b":"negative","hepatitis_c":"negative","syphilis":"negative","malaria":"negative"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPut, body, nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.UpdateLabTests(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res LabResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Outcome != LabFailed || len(res.FailedPanels) != 1 || res.FailedPanels[0] != "HIV" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Donation.Stage != StageRejected {
		t.Errorf("expected rejected, got %s", res.Donation.Stage)
	}
}

func TestHandler_AddHistoryEntry(t *testing.T) {
	h, f, e := newTestHandler()
	d := f.create(f.bank, nil)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, `{"action":"Called donor"}`, nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.AddHistoryEntry(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_Abort(t *testing.T) {
	h, f, e := newTestHandler()
	d := f.create(f.bank, nil)

	req := newRequest(http.MethodDelete, "", nil)
	req.URL.RawQuery = "reason=duplicate"
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.Abort(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), d.ID)
	if got.Status != StatusAborted {
		t.Errorf("expected aborted, got %s", got.Status)
	}

	c2 := e.NewContext(newRequest(http.MethodDelete, "", nil), httptest.NewRecorder())
	c2.SetParamNames("id")
	c2.SetParamValues(d.ID.String())
	expectHTTPStatus(t, h.Abort(c2), http.StatusConflict)
}
