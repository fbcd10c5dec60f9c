package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/kozaktomas/findandseek/internal/backend"
	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/imaging"
)

const defaultSidecarURL = "http://localhost:8000"

// SidecarDetector calls an HTTP person detection service (e.g. a YOLO server).
//
// The service accepts a multipart "file" upload on POST /detect and answers with
//
//	{"detections": [{"bbox": [x1, y1, x2, y2], "confidence": 0.91, "class_id": 0, "label": "person"}]}
//
// in pixel coordinates of the uploaded image.
type SidecarDetector struct {
	baseURL string
	client  *http.Client
	opts    Options
}

// NewSidecarDetector creates a detector client for the service at baseURL.
func NewSidecarDetector(baseURL string, opts Options) *SidecarDetector {
	if baseURL == "" {
		baseURL = defaultSidecarURL
	}
	return &SidecarDetector{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
		opts:    opts,
	}
}

func (d *SidecarDetector) Name() string {
	return "sidecar"
}

type sidecarResponse struct {
	Detections []sidecarDetection `json:"detections"`
}

type sidecarDetection struct {
	BBox       []float64 `json:"bbox"`
	Confidence float64   `json:"confidence"`
	ClassID    *int      `json:"class_id"`
	Label      string    `json:"label"`
}

// label resolves the class name, treating COCO class 0 as person when unnamed.
func (s sidecarDetection) label() string {
	if s.Label != "" {
		return s.Label
	}
	if s.ClassID != nil && *s.ClassID == 0 {
		return "person"
	}
	return ""
}

// Detect uploads the image to the sidecar and post-processes its detections.
// Transport failures and non-200 answers are reported as backend.ErrUnavailable.
func (d *SidecarDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	imageData, err := imaging.EncodeJPEG(img, constants.JPEGQuality)
	if err != nil {
		return nil, err
	}

	body, err := d.postMultipartImage(ctx, "/detect", imageData)
	if err != nil {
		return nil, backend.Unavailable(d.Name(), err)
	}

	var resp sidecarResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, backend.Unavailable(d.Name(), fmt.Errorf("failed to parse response: %w", err))
	}

	raw := make([]RawDetection, 0, len(resp.Detections))
	for _, det := range resp.Detections {
		if len(det.BBox) != 4 {
			continue
		}
		raw = append(raw, RawDetection{
			X1: det.BBox[0], Y1: det.BBox[1], X2: det.BBox[2], Y2: det.BBox[3],
			Confidence: det.Confidence,
			Label:      det.label(),
		})
	}

	return Postprocess(raw, img.Bounds(), d.opts), nil
}

// Health checks that the sidecar answers GET /health with 200.
func (d *SidecarDetector) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return backend.Unavailable(d.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return backend.Unavailable(d.Name(), fmt.Errorf("health check returned status %d", resp.StatusCode))
	}
	return nil
}

// postMultipartImage posts the image as the "file" form field and returns the response body.
func (d *SidecarDetector) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	if len(body) == 0 {
		return nil, errors.New("empty response")
	}

	return body, nil
}
