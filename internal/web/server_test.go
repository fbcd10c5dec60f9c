package web

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/findandseek/internal/cases"
	"github.com/kozaktomas/findandseek/internal/config"
	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/descriptor"
	"github.com/kozaktomas/findandseek/internal/detect"
	"github.com/kozaktomas/findandseek/internal/pipeline"
)

// newTestServer wires a heuristic-only pipeline and an in-memory store.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	orchestrator := pipeline.New(pipeline.Dependencies{
		FallbackDetector:    detect.NewFallbackDetector(constants.DefaultDetectionThreshold),
		FallbackDescriptors: descriptor.NewHeuristicService(),
	}, pipeline.DefaultOptions())

	s := NewServer(&config.Config{}, orchestrator, cases.NewMemoryStore(), nil, "127.0.0.1", 0)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func solidPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 160))
	for y := range 160 {
		for x := range 120 {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func postFiles(t *testing.T, url string, files map[string][]byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for field, data := range files {
		fw, err := mw.CreateFormFile(field, field+".png")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		fw.Write(data)
	}
	mw.Close()

	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to decode %s: %v", data, err)
	}
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}
	resp.Body.Close()
}

func TestServer_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/nothing-here")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusNotFound || body["error"] == "" {
		t.Errorf("expected JSON 404, got %d %v", resp.StatusCode, body)
	}
}

func TestServer_CompareHeuristicPipeline(t *testing.T) {
	srv := newTestServer(t)
	red := color.RGBA{R: 200, G: 30, B: 30, A: 255}

	resp := postFiles(t, srv.URL+"/api/v1/analyze/compare", map[string][]byte{
		"missing_person_image": solidPNG(t, red),
		"search_image":         solidPNG(t, red),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	var out pipeline.Outcome
	decodeBody(t, resp, &out)
	if out.Method != constants.MethodHeuristic {
		t.Errorf("expected heuristic-fallback, got %s", out.Method)
	}
	if out.DetectedCount != 1 || len(out.Results) != 1 {
		t.Fatalf("expected one synthetic detection, got %+v", out)
	}
	if out.Results[0].SimilarityScore < 0.5 {
		t.Errorf("expected base score or more, got %v", out.Results[0].SimilarityScore)
	}
}

func TestServer_CompareBadImage(t *testing.T) {
	srv := newTestServer(t)

	resp := postFiles(t, srv.URL+"/api/v1/analyze/compare", map[string][]byte{
		"missing_person_image": []byte("not an image"),
		"search_image":         []byte("not an image either"),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, resp.StatusCode)
	}
}

func TestServer_CaseLifecycle(t *testing.T) {
	srv := newTestServer(t)
	blue := color.RGBA{R: 30, G: 30, B: 200, A: 255}

	body := `{"missing_person_name": "Eva", "missing_person_age": 9, "contact_info": "dispatch"}`
	resp, err := http.Post(srv.URL+"/api/v1/cases", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var c cases.Case
	decodeBody(t, resp, &c)
	if resp.StatusCode != http.StatusCreated || c.ID == "" {
		t.Fatalf("expected created case, got %d %+v", resp.StatusCode, c)
	}

	resp = postFiles(t, srv.URL+"/api/v1/cases/"+c.ID+"/reference", map[string][]byte{"image": solidPNG(t, blue)})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected reference stored, got %d", resp.StatusCode)
	}

	resp = postFiles(t, srv.URL+"/api/v1/cases/"+c.ID+"/search", map[string][]byte{"search_image": solidPNG(t, blue)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected search to succeed, got %d", resp.StatusCode)
	}
	var sr struct {
		Search cases.SearchRecord `json:"search"`
	}
	decodeBody(t, resp, &sr)
	if sr.Search.DetectedCount != 1 || sr.Search.Method != constants.MethodHeuristic {
		t.Errorf("unexpected search record %+v", sr.Search)
	}

	resp, err = http.Get(srv.URL + "/api/v1/cases/" + c.ID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var got cases.Case
	decodeBody(t, resp, &got)
	if len(got.Searches) != 1 || got.Reference == nil {
		t.Errorf("expected stored reference and search, got %+v", got)
	}
	// opened, reference, search
	if len(got.Timeline) != 3 {
		t.Errorf("expected 3 timeline events, got %d", len(got.Timeline))
	}
}
