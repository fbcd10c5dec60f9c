package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/descriptor"
	"github.com/kozaktomas/findandseek/internal/logging"
)

// AnalyzeHandler exposes the matching pipeline over multipart uploads.
type AnalyzeHandler struct {
	analyzer Analyzer
	logger   *zap.Logger
}

func NewAnalyzeHandler(analyzer Analyzer, logger *zap.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{analyzer: analyzer, logger: logging.OrNop(logger)}
}

// ReferenceResponse is returned by the reference analysis endpoint.
type ReferenceResponse struct {
	MissingPerson descriptor.PersonDescriptor `json:"missing_person"`
	Status        string                      `json:"status"`
}

// Reference describes the person in the uploaded image field.
func (h *AnalyzeHandler) Reference(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		respondFailure(w, h.logger, "reference analysis failed", err)
		return
	}
	image, err := formFile(r, "image")
	if err != nil {
		respondFailure(w, h.logger, "reference analysis failed", err)
		return
	}

	desc, err := h.analyzer.AnalyzeReference(r.Context(), image)
	if err != nil {
		respondFailure(w, h.logger, "reference analysis failed", err)
		return
	}
	respondJSON(w, http.StatusOK, ReferenceResponse{MissingPerson: desc, Status: constants.StatusReferenceReady})
}

// Compare ranks everyone in search_image against missing_person_image.
func (h *AnalyzeHandler) Compare(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		respondFailure(w, h.logger, "comparison failed", err)
		return
	}
	reference, err := formFile(r, "missing_person_image")
	if err != nil {
		respondFailure(w, h.logger, "comparison failed", err)
		return
	}
	search, err := formFile(r, "search_image")
	if err != nil {
		respondFailure(w, h.logger, "comparison failed", err)
		return
	}

	out, err := h.analyzer.AnalyzeAndCompare(r.Context(), reference, search)
	if err != nil {
		respondFailure(w, h.logger, "comparison failed", err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// CompareFrames works like Compare on repeated frames parts sampled from a video.
func (h *AnalyzeHandler) CompareFrames(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		respondFailure(w, h.logger, "frame comparison failed", err)
		return
	}
	reference, err := formFile(r, "missing_person_image")
	if err != nil {
		respondFailure(w, h.logger, "frame comparison failed", err)
		return
	}
	frames, err := formFiles(r, "frames", constants.MaxFrameUploads)
	if err != nil {
		respondFailure(w, h.logger, "frame comparison failed", err)
		return
	}

	out, err := h.analyzer.AnalyzeAndCompareFrames(r.Context(), reference, frames)
	if err != nil {
		respondFailure(w, h.logger, "frame comparison failed", err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}
