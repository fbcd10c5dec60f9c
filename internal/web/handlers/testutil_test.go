package handlers

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/descriptor"
	"github.com/kozaktomas/findandseek/internal/imaging"
	"github.com/kozaktomas/findandseek/internal/pipeline"
	"github.com/kozaktomas/findandseek/internal/similarity"
)

// filePart is one file of a multipart request.
type filePart struct {
	field, name string
	data        []byte
}

// multipartRequest builds a POST request carrying the given files.
func multipartRequest(t *testing.T, path string, parts ...filePart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		fw.Write(p.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	req := httptest.NewRequest("POST", path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// stubAnalyzer answers "bad" images with a DecodeError and everything else with
// a fixed descriptor or a one-match outcome.
type stubAnalyzer struct {
	err         error
	frameCounts []int
	references  []descriptor.PersonDescriptor
}

func (a *stubAnalyzer) check(images ...[]byte) error {
	if a.err != nil {
		return a.err
	}
	for _, img := range images {
		if string(img) == "bad" {
			_, err := imaging.Decode(img)
			return err
		}
	}
	return nil
}

func stubDescriptor() descriptor.PersonDescriptor {
	return descriptor.PersonDescriptor{
		PersonID: "p-1",
		Gender:   descriptor.GenderFemale,
		Clothing: descriptor.Clothing{Upper: "red jacket", Lower: "jeans", Footwear: "boots"},
		Source:   constants.MethodModel,
	}
}

func stubOutcome() *pipeline.Outcome {
	ref := stubDescriptor()
	return &pipeline.Outcome{
		RequestID:     "req-1",
		Reference:     &ref,
		Method:        constants.MethodModel,
		Status:        constants.StatusCompleted,
		State:         pipeline.StateRanked,
		DetectedCount: 2,
		Stages:        map[string]string{},
		Results: []similarity.ComparisonResult{
			{Candidate: stubDescriptor(), SimilarityScore: 0.85, PotentialMatch: true, Method: constants.MethodModel},
			{Candidate: stubDescriptor(), SimilarityScore: 0.3, Method: constants.MethodModel},
		},
	}
}

func (a *stubAnalyzer) AnalyzeReference(ctx context.Context, image []byte) (descriptor.PersonDescriptor, error) {
	if err := a.check(image); err != nil {
		return descriptor.PersonDescriptor{}, err
	}
	if string(image) == "blurry" {
		return descriptor.ErrorDescriptor("could not parse", constants.MethodModel), nil
	}
	return stubDescriptor(), nil
}

func (a *stubAnalyzer) AnalyzeAndCompare(ctx context.Context, reference, search []byte) (*pipeline.Outcome, error) {
	if err := a.check(reference, search); err != nil {
		return &pipeline.Outcome{State: pipeline.StateFailed}, err
	}
	return stubOutcome(), nil
}

func (a *stubAnalyzer) AnalyzeAndCompareFrames(ctx context.Context, reference []byte, frames [][]byte) (*pipeline.Outcome, error) {
	a.frameCounts = append(a.frameCounts, len(frames))
	if err := a.check(append([][]byte{reference}, frames...)...); err != nil {
		return &pipeline.Outcome{State: pipeline.StateFailed}, err
	}
	return stubOutcome(), nil
}

func (a *stubAnalyzer) CompareWithDescriptor(ctx context.Context, reference descriptor.PersonDescriptor, search []byte) (*pipeline.Outcome, error) {
	a.references = append(a.references, reference)
	if err := a.check(search); err != nil {
		return &pipeline.Outcome{State: pipeline.StateFailed}, err
	}
	return stubOutcome(), nil
}
