package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/findandseek/internal/cases"
)

const caseBody = `{
	"missing_person_name": "Petr Svoboda",
	"missing_person_age": 71,
	"missing_person_description": "grey coat, walking stick",
	"description": "Left care home in the morning",
	"last_location": "Main square",
	"contact_info": "+420 777 000 000"
}`

func newCasesHandler(t *testing.T) (*CasesHandler, *cases.MemoryStore, *stubAnalyzer) {
	t.Helper()
	store := cases.NewMemoryStore()
	analyzer := &stubAnalyzer{}
	return NewCasesHandler(store, analyzer, nil), store, analyzer
}

func createCase(t *testing.T, store cases.Store) *cases.Case {
	t.Helper()
	var details cases.Details
	if err := json.Unmarshal([]byte(caseBody), &details); err != nil {
		t.Fatalf("failed to unmarshal details: %v", err)
	}
	c, err := store.Create(context.Background(), details)
	if err != nil {
		t.Fatalf("failed to create case: %v", err)
	}
	return c
}

func TestCasesHandler_Create(t *testing.T) {
	h, _, _ := newCasesHandler(t)
	recorder := httptest.NewRecorder()

	h.Create(recorder, httptest.NewRequest("POST", "/api/v1/cases", strings.NewReader(caseBody)))

	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, recorder.Code, recorder.Body.String())
	}
	var c cases.Case
	if err := json.Unmarshal(recorder.Body.Bytes(), &c); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if c.ID == "" || c.MissingPersonName != "Petr Svoboda" || c.Status != cases.StatusActive {
		t.Errorf("unexpected case %+v", c)
	}
}

func TestCasesHandler_Create_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing name", `{"missing_person_age": 5, "contact_info": "x"}`},
		{"missing contact", `{"missing_person_name": "A", "missing_person_age": 5}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, _, _ := newCasesHandler(t)
			recorder := httptest.NewRecorder()
			h.Create(recorder, httptest.NewRequest("POST", "/api/v1/cases", strings.NewReader(tc.body)))

			if recorder.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
			}
		})
	}
}

func TestCasesHandler_ListAndGet(t *testing.T) {
	h, store, _ := newCasesHandler(t)
	c := createCase(t, store)
	createCase(t, store)

	recorder := httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest("GET", "/api/v1/cases?limit=1", nil))
	var list []cases.Case
	if err := json.Unmarshal(recorder.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to unmarshal list: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 case with limit, got %d", len(list))
	}

	recorder = httptest.NewRecorder()
	h.List(recorder, httptest.NewRequest("GET", "/api/v1/cases?limit=zero", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for bad limit, got %d", http.StatusBadRequest, recorder.Code)
	}

	recorder = httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest("GET", "/api/v1/cases/"+c.ID, nil), map[string]string{"id": c.ID})
	h.Get(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}

	recorder = httptest.NewRecorder()
	req = requestWithChiParams(httptest.NewRequest("GET", "/api/v1/cases/nope", nil), map[string]string{"id": "nope"})
	h.Get(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, recorder.Code)
	}
}

func TestCasesHandler_UpdateStatusAndTimeline(t *testing.T) {
	h, store, _ := newCasesHandler(t)
	c := createCase(t, store)
	params := map[string]string{"id": c.ID}

	recorder := httptest.NewRecorder()
	h.UpdateStatus(recorder, requestWithChiParams(httptest.NewRequest("PUT", "/status", strings.NewReader(`{"status": "found"}`)), params))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}

	recorder = httptest.NewRecorder()
	h.UpdateStatus(recorder, requestWithChiParams(httptest.NewRequest("PUT", "/status", strings.NewReader(`{"status": "lost"}`)), params))
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for unknown status, got %d", http.StatusBadRequest, recorder.Code)
	}

	recorder = httptest.NewRecorder()
	body := `{"event": "Sighting reported", "details": {"where": "tram stop"}}`
	h.AddTimelineEvent(recorder, requestWithChiParams(httptest.NewRequest("POST", "/timeline", strings.NewReader(body)), params))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}

	got, err := store.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != cases.StatusFound {
		t.Errorf("expected found, got %s", got.Status)
	}
	if last := got.Timeline[len(got.Timeline)-1]; last.Event != "Sighting reported" || last.Details["where"] != "tram stop" {
		t.Errorf("unexpected last event %+v", last)
	}
}

func TestCasesHandler_SetReferenceAndSearch(t *testing.T) {
	h, store, analyzer := newCasesHandler(t)
	c := createCase(t, store)
	params := map[string]string{"id": c.ID}

	// searching before a reference exists is a conflict
	recorder := httptest.NewRecorder()
	h.Search(recorder, requestWithChiParams(multipartRequest(t, "/search", filePart{"search_image", "s.jpg", []byte("crowd")}), params))
	if recorder.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, recorder.Code)
	}

	recorder = httptest.NewRecorder()
	h.SetReference(recorder, requestWithChiParams(multipartRequest(t, "/reference", filePart{"image", "r.jpg", []byte("ref")}), params))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}

	recorder = httptest.NewRecorder()
	h.Search(recorder, requestWithChiParams(multipartRequest(t, "/search", filePart{"search_image", "s.jpg", []byte("crowd")}), params))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, recorder.Code, recorder.Body.String())
	}
	var resp SearchResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Search.MatchCount != 1 || resp.Search.TopScore != 0.85 || resp.CaseID != c.ID {
		t.Errorf("unexpected search record %+v", resp.Search)
	}

	if len(analyzer.references) != 1 || analyzer.references[0].PersonID != "p-1" {
		t.Errorf("expected comparison against the stored reference, got %+v", analyzer.references)
	}

	got, err := store.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Searches) != 1 || got.Reference == nil {
		t.Errorf("expected reference and one search, got %+v", got)
	}
}

func TestCasesHandler_SetReference_Errors(t *testing.T) {
	h, store, _ := newCasesHandler(t)
	c := createCase(t, store)

	tests := []struct {
		name string
		id   string
		data string
		want int
	}{
		{"unknown case", "missing", "ref", http.StatusNotFound},
		{"undecodable", c.ID, "bad", http.StatusBadRequest},
		{"error descriptor", c.ID, "blurry", http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := multipartRequest(t, "/reference", filePart{"image", "r.jpg", []byte(tc.data)})
			h.SetReference(recorder, requestWithChiParams(req, map[string]string{"id": tc.id}))

			if recorder.Code != tc.want {
				t.Errorf("expected status %d, got %d: %s", tc.want, recorder.Code, recorder.Body.String())
			}
		})
	}

	got, err := store.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Reference != nil {
		t.Error("expected no reference after failed attempts")
	}
}
