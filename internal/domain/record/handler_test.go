package record

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

func newTestHandler(t *testing.T) (*Handler, *echo.Echo, *Record) {
	t.Helper()
	svc, _ := newTestService()
	r := seed(t, svc, "u1", 1)[0]
	return NewHandler(svc), echo.New(), r
}

func newContext(e *echo.Echo, method, target, body, uid string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(auth.WithIdentity(req.Context(), uid, nil))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectCode(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != code {
		t.Errorf("expected HTTP %d, got %v", code, err)
	}
}

func TestHandler_Get(t *testing.T) {
	h, e, r := newTestHandler(t)
	c, rec := newContext(e, http.MethodGet, "/", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())

	if err := h.Get(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var got Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != r.ID {
		t.Errorf("expected id %s, got %s", r.ID, got.ID)
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	h, e, r := newTestHandler(t)

	c, _ := newContext(e, http.MethodGet, "/", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	expectCode(t, h.Get(c), http.StatusNotFound)

	c, _ = newContext(e, http.MethodGet, "/", "", "intruder")
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	expectCode(t, h.Get(c), http.StatusNotFound)

	c, _ = newContext(e, http.MethodGet, "/", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues("bogus")
	expectCode(t, h.Get(c), http.StatusBadRequest)
}

func TestHandler_List(t *testing.T) {
	h, e, _ := newTestHandler(t)

	c, rec := newContext(e, http.MethodGet, "/?limit=5", "", "u1")
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Total int `json:"total"`
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || body.Limit != 5 {
		t.Errorf("unexpected page %+v", body)
	}

	c, _ = newContext(e, http.MethodGet, "/?collection_id=nope", "", "u1")
	expectCode(t, h.List(c), http.StatusBadRequest)
}

func TestHandler_Update(t *testing.T) {
	h, e, r := newTestHandler(t)

	c, rec := newContext(e, http.MethodPatch, "/", `{"filename":"renamed.png"}`, "u1")
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	if err := h.Update(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "renamed.png") {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	c, _ = newContext(e, http.MethodPatch, "/", `{}`, "u1")
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	expectCode(t, h.Update(c), http.StatusBadRequest)
}

func TestHandler_Delete(t *testing.T) {
	h, e, r := newTestHandler(t)

	c, rec := newContext(e, http.MethodDelete, "/", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c, _ = newContext(e, http.MethodDelete, "/", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	expectCode(t, h.Delete(c), http.StatusNotFound)
}

func TestHandler_GetHTML(t *testing.T) {
	h, e, r := newTestHandler(t)
	r.Content = "**Allergies:** none"

	c, rec := newContext(e, http.MethodGet, "/", "", "u1")
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	if err := h.GetHTML(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMETextHTML) {
		t.Errorf("expected html content type, got %q", rec.Header().Get(echo.HeaderContentType))
	}
	if !strings.Contains(rec.Body.String(), "<strong>Allergies:</strong>") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e, _ := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"GET /api/v1/records":          false,
		"GET /api/v1/records/:id":      false,
		"PATCH /api/v1/records/:id":    false,
		"DELETE /api/v1/records/:id":   false,
		"GET /api/v1/records/:id/html": false,
	}
	for _, r := range e.Routes() {
		if _, ok := want[r.Method+" "+r.Path]; ok {
			want[r.Method+" "+r.Path] = true
		}
	}
	for k, found := range want {
		if !found {
			t.Errorf("missing route %s", k)
		}
	}
}
