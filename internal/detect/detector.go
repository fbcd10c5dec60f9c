// Package detect locates person-shaped regions in images and video frames.
package detect

import (
	"context"
	"image"
	"strings"

	"github.com/kozaktomas/findandseek/internal/constants"
)

// Detection is a located person region with its detector confidence.
type Detection struct {
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
	Label      string      `json:"label"`
	FrameIndex *int        `json:"frame_index,omitempty"`
	Heuristic  bool        `json:"heuristic"`
}

// Detector finds people in a decoded image. Implementations must be safe for concurrent use.
type Detector interface {
	Name() string
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
}

// Options tunes the post-processing shared by all model-backed detectors.
type Options struct {
	Threshold        float64 // detections must score strictly above this
	Padding          float64 // fraction of width/height added per side
	OverlapThreshold float64 // IoU for duplicate suppression, 0 disables it
}

// DefaultOptions returns the standard detection settings.
func DefaultOptions() Options {
	return Options{
		Threshold:        constants.DefaultDetectionThreshold,
		Padding:          constants.DefaultPaddingRatio,
		OverlapThreshold: constants.DefaultOverlapThreshold,
	}
}

// RawDetection is a model output before filtering, in pixel corner coordinates.
type RawDetection struct {
	X1, Y1, X2, Y2 float64
	Confidence     float64
	Label          string
}

// IsPerson reports whether a label names the person class.
func IsPerson(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "person", "people", "pedestrian":
		return true
	}
	return false
}

// Postprocess turns raw model output into final detections: non-person classes and
// detections at or below the threshold are dropped, boxes are padded and clamped to
// bounds, degenerate boxes are discarded and overlapping duplicates suppressed.
func Postprocess(raw []RawDetection, bounds image.Rectangle, opts Options) []Detection {
	var dets []Detection
	for _, r := range raw {
		if !IsPerson(r.Label) || r.Confidence <= opts.Threshold {
			continue
		}
		box := BoundingBox{X1: int(r.X1), Y1: int(r.Y1), X2: int(r.X2), Y2: int(r.Y2)}
		box = box.PadAndClamp(opts.Padding, bounds)
		if box.Area() == 0 {
			continue
		}
		dets = append(dets, Detection{
			Box:        box,
			Confidence: min(r.Confidence, 1),
			Label:      "person",
		})
	}
	return SuppressOverlaps(dets, opts.OverlapThreshold)
}
