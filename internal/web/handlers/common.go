package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/findandseek/internal/cases"
	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/descriptor"
	"github.com/kozaktomas/findandseek/internal/imaging"
	"github.com/kozaktomas/findandseek/internal/pipeline"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// Analyzer runs the matching pipeline.
type Analyzer interface {
	AnalyzeReference(ctx context.Context, image []byte) (descriptor.PersonDescriptor, error)
	AnalyzeAndCompare(ctx context.Context, reference, search []byte) (*pipeline.Outcome, error)
	AnalyzeAndCompareFrames(ctx context.Context, reference []byte, frames [][]byte) (*pipeline.Outcome, error)
	CompareWithDescriptor(ctx context.Context, reference descriptor.PersonDescriptor, search []byte) (*pipeline.Outcome, error)
}

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps pipeline and store errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case imaging.IsDecodeError(err),
		errors.Is(err, cases.ErrInvalidCase),
		errors.Is(err, cases.ErrInvalidEvent),
		errors.Is(err, errBadUpload):
		return http.StatusBadRequest
	case errors.Is(err, cases.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cases.ErrNoReference), errors.Is(err, pipeline.ErrInvalidReference):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrNoDetections):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrNoFallback):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondFailure logs err and answers with the matching status. Server-side
// failures get a generic message; client errors echo the cause.
func respondFailure(w http.ResponseWriter, logger *zap.Logger, message string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error(message, zap.Error(err))
	} else {
		logger.Info(message, zap.Int("status", status), zap.String("error", sanitizeForLog(err.Error())))
	}
	respondError(w, status, fmt.Sprintf("%s: %v", message, err))
}

var errBadUpload = errors.New("invalid upload")

// parseUpload parses a multipart request bounded by MaxUploadSize.
func parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return fmt.Errorf("%w: failed to parse multipart form", errBadUpload)
	}
	return nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open file %s", errBadUpload, sanitizeForLog(fh.Filename))
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read file %s", errBadUpload, sanitizeForLog(fh.Filename))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: file %s is empty", errBadUpload, sanitizeForLog(fh.Filename))
	}
	return data, nil
}

// formFile returns the content of the single file uploaded under field.
func formFile(r *http.Request, field string) ([]byte, error) {
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s is required", errBadUpload, field)
	}
	return readPart(files[0])
}

// formFiles returns every file uploaded under field, at most limit of them.
func formFiles(r *http.Request, field string, limit int) ([][]byte, error) {
	files := r.MultipartForm.File[field]
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s is required", errBadUpload, field)
	}
	if len(files) > limit {
		return nil, fmt.Errorf("%w: at most %d %s allowed, got %d", errBadUpload, limit, field, len(files))
	}
	out := make([][]byte, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
