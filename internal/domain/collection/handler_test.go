package collection

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medrec/medrec/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	return NewHandler(newTestService()), echo.New()
}

func newTestHandlerWithRecords() (*Handler, *fakeRecordStore, *echo.Echo) {
	svc, records := newTestServiceWithRecords()
	return NewHandler(svc), records, echo.New()
}

func withParams(c echo.Context, kv ...string) {
	var names, values []string
	for i := 0; i+1 < len(kv); i += 2 {
		names = append(names, kv[i])
		values = append(values, kv[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
}

func expectCode(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != code {
		t.Errorf("expected %d, got %v", code, err)
	}
}

func newContext(e *echo.Echo, method, body, uid string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, "/", nil)
	}
	req = req.WithContext(auth.WithIdentity(req.Context(), uid, nil))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_Create(t *testing.T) {
	h, e := newTestHandler()
	c, rec := newContext(e, http.MethodPost, `{"name":"Imaging"}`, "u1")

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Collection
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OwnerID != "u1" || got.Name != "Imaging" {
		t.Errorf("unexpected body %+v", got)
	}
}

func TestHandler_Create_BadRequest(t *testing.T) {
	h, e := newTestHandler()
	c, _ := newContext(e, http.MethodPost, `{"description":"no name"}`, "u1")

	err := h.Create(c)
	if err == nil {
		t.Fatal("expected error for missing name")
	}
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Get(t *testing.T) {
	h, e := newTestHandler()
	col := &Collection{Name: "x"}
	if err := h.svc.Create(auth.WithIdentity(t.Context(), "u1", nil), col); err != nil {
		t.Fatal(err)
	}

	c, rec := newContext(e, http.MethodGet, "", "u1")
	c.SetParamNames("id")
	c.SetParamValues(col.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	h, e := newTestHandler()
	c, _ := newContext(e, http.MethodGet, "", "u1")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.Get(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_Get_InvalidID(t *testing.T) {
	h, e := newTestHandler()
	c, _ := newContext(e, http.MethodGet, "", "u1")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.Get(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_List(t *testing.T) {
	h, e := newTestHandler()
	_ = h.svc.Create(auth.WithIdentity(t.Context(), "u1", nil), &Collection{Name: "a"})

	c, rec := newContext(e, http.MethodGet, "", "u1")
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
		t.Errorf("expected total 1, got %d", body.Total)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"POST /api/v1/collections":                          false,
		"GET /api/v1/collections":                           false,
		"GET /api/v1/collections/:id":                       false,
		"PUT /api/v1/collections/:id":                       false,
		"PATCH /api/v1/collections/:id":                     false,
		"DELETE /api/v1/collections/:id":                    false,
		"GET /api/v1/collections/:id/records":               false,
		"PUT /api/v1/collections/:id/records/:record_id":    false,
		"DELETE /api/v1/collections/:id/records/:record_id": false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("missing route %s", k)
		}
	}
}

func TestHandler_Replace(t *testing.T) {
	h, e := newTestHandler()
	col := mustCreate(t, h.svc, "u1", "Old")
	desc := "kept?"
	col.Description = &desc

	c, rec := newContext(e, http.MethodPut, `{"name":"Renamed"}`, "u1")
	withParams(c, "id", col.ID.String())
	if err := h.Replace(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Collection
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Renamed" || got.Description != nil {
		t.Errorf("expected name replaced and description cleared, got %+v", got)
	}

	c, _ = newContext(e, http.MethodPut, `{"description":"no name"}`, "u1")
	withParams(c, "id", col.ID.String())
	expectCode(t, h.Replace(c), http.StatusBadRequest)
}

func TestHandler_Update(t *testing.T) {
	h, e := newTestHandler()
	col := mustCreate(t, h.svc, "u1", "Keep")

	c, rec := newContext(e, http.MethodPatch, `{"description":"scans from 2024"}`, "u1")
	withParams(c, "id", col.ID.String())
	if err := h.Update(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Collection
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Keep" || got.Description == nil || *got.Description != "scans from 2024" {
		t.Errorf("unexpected body %+v", got)
	}

	c, _ = newContext(e, http.MethodPatch, `{"name":"x"}`, "u2")
	withParams(c, "id", col.ID.String())
	expectCode(t, h.Update(c), http.StatusNotFound)

	c, _ = newContext(e, http.MethodPatch, `{}`, "u1")
	withParams(c, "id", col.ID.String())
	expectCode(t, h.Update(c), http.StatusBadRequest)
}

func TestHandler_Delete(t *testing.T) {
	h, e := newTestHandler()
	col := mustCreate(t, h.svc, "u1", "Gone")

	c, rec := newContext(e, http.MethodDelete, "", "u1")
	withParams(c, "id", col.ID.String())
	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c, _ = newContext(e, http.MethodDelete, "", "u1")
	withParams(c, "id", col.ID.String())
	expectCode(t, h.Delete(c), http.StatusNotFound)
}

func TestHandler_RecordMembership(t *testing.T) {
	h, records, e := newTestHandlerWithRecords()
	col := mustCreate(t, h.svc, "u1", "Mine")
	r := records.add("u1")

	c, rec := newContext(e, http.MethodPut, "", "u1")
	withParams(c, "id", col.ID.String(), "record_id", r.ID.String())
	if err := h.AddRecord(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || r.CollectionID == nil {
		t.Fatalf("expected record added, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodGet, "", "u1")
	withParams(c, "id", col.ID.String())
	if err := h.ListRecords(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 {
		t.Errorf("expected total 1, got %d", body.Total)
	}

	c, rec = newContext(e, http.MethodDelete, "", "u1")
	withParams(c, "id", col.ID.String(), "record_id", r.ID.String())
	if err := h.RemoveRecord(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent || r.CollectionID != nil {
		t.Errorf("expected record removed, got %d", rec.Code)
	}

	c, _ = newContext(e, http.MethodDelete, "", "u1")
	withParams(c, "id", col.ID.String(), "record_id", r.ID.String())
	expectCode(t, h.RemoveRecord(c), http.StatusNotFound)
}

func TestHandler_RecordMembership_Errors(t *testing.T) {
	h, records, e := newTestHandlerWithRecords()
	col := mustCreate(t, h.svc, "u1", "Mine")
	foreign := records.add("u2")

	tests := []struct {
		name     string
		uid      string
		recordID string
		want     int
	}{
		{"invalid record id", "u1", "nope", http.StatusBadRequest},
		{"unknown record", "u1", uuid.NewString(), http.StatusNotFound},
		{"foreign record", "u1", foreign.ID.String(), http.StatusNotFound},
		{"foreign collection", "u2", foreign.ID.String(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newContext(e, http.MethodPut, "", tt.uid)
			withParams(c, "id", col.ID.String(), "record_id", tt.recordID)
			expectCode(t, h.AddRecord(c), tt.want)
		})
	}
}
