package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/findandseek/internal/cases"
	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/logging"
	"github.com/kozaktomas/findandseek/internal/pipeline"
)

// CasesHandler manages missing-person cases and searches against their reference.
type CasesHandler struct {
	store    cases.Store
	analyzer Analyzer
	logger   *zap.Logger
}

func NewCasesHandler(store cases.Store, analyzer Analyzer, logger *zap.Logger) *CasesHandler {
	return &CasesHandler{store: store, analyzer: analyzer, logger: logging.OrNop(logger)}
}

// Create opens a case from a JSON body of case details.
func (h *CasesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var details cases.Details
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	c, err := h.store.Create(r.Context(), details)
	if err != nil {
		respondFailure(w, h.logger, "failed to create case", err)
		return
	}
	h.logger.Info("case opened", zap.String("case_id", c.ID))
	respondJSON(w, http.StatusCreated, c)
}

// List returns cases newest first, honoring an optional limit query parameter.
func (h *CasesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := constants.DefaultCaseListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := h.store.List(r.Context(), limit)
	if err != nil {
		respondFailure(w, h.logger, "failed to list cases", err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *CasesHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondFailure(w, h.logger, "failed to get case", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *CasesHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	status, err := cases.ParseStatus(req.Status)
	if err != nil {
		respondFailure(w, h.logger, "failed to update status", err)
		return
	}

	c, err := h.store.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		respondFailure(w, h.logger, "failed to update status", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// AddTimelineEvent appends a JSON timeline event ({"event", "details", "time"}).
func (h *CasesHandler) AddTimelineEvent(w http.ResponseWriter, r *http.Request) {
	var event cases.TimelineEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	c, err := h.store.AddTimelineEvent(r.Context(), chi.URLParam(r, "id"), event)
	if err != nil {
		respondFailure(w, h.logger, "failed to add timeline event", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// SetReference analyzes the uploaded image field and stores it as the case reference.
func (h *CasesHandler) SetReference(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.store.Get(r.Context(), id); err != nil {
		respondFailure(w, h.logger, "failed to set reference", err)
		return
	}

	if err := parseUpload(w, r); err != nil {
		respondFailure(w, h.logger, "failed to set reference", err)
		return
	}
	image, err := formFile(r, "image")
	if err != nil {
		respondFailure(w, h.logger, "failed to set reference", err)
		return
	}

	desc, err := h.analyzer.AnalyzeReference(r.Context(), image)
	if err != nil {
		respondFailure(w, h.logger, "failed to set reference", err)
		return
	}
	if desc.IsError() {
		respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("reference could not be described: %s", desc.Error))
		return
	}

	c, err := h.store.SetReference(r.Context(), id, desc)
	if err != nil {
		respondFailure(w, h.logger, "failed to set reference", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// SearchResponse is returned by the case search endpoint.
type SearchResponse struct {
	CaseID  string             `json:"case_id"`
	Search  cases.SearchRecord `json:"search"`
	Outcome *pipeline.Outcome  `json:"outcome"`
}

// Search compares search_image against the stored case reference and records the search.
func (h *CasesHandler) Search(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.store.Get(r.Context(), id)
	if err != nil {
		respondFailure(w, h.logger, "search failed", err)
		return
	}
	if c.Reference == nil {
		respondFailure(w, h.logger, "search failed", cases.ErrNoReference)
		return
	}

	if err := parseUpload(w, r); err != nil {
		respondFailure(w, h.logger, "search failed", err)
		return
	}
	search, err := formFile(r, "search_image")
	if err != nil {
		respondFailure(w, h.logger, "search failed", err)
		return
	}

	out, err := h.analyzer.CompareWithDescriptor(r.Context(), *c.Reference, search)
	if err != nil {
		respondFailure(w, h.logger, "search failed", err)
		return
	}

	rec := cases.NewSearchRecord(uuid.NewString(), out, time.Now().UTC())
	if _, err := h.store.AddSearch(r.Context(), id, rec); err != nil {
		respondFailure(w, h.logger, "failed to record search", err)
		return
	}
	h.logger.Info("case search recorded",
		zap.String("case_id", id),
		zap.String("request_id", out.RequestID),
		zap.Int("matches", rec.MatchCount))

	respondJSON(w, http.StatusOK, SearchResponse{CaseID: id, Search: rec, Outcome: out})
}
