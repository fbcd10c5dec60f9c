//go:build !opencv

package detect

import (
	"context"
	"errors"
	"image"

	"github.com/kozaktomas/findandseek/internal/backend"
)

// OpenCVDetector is unavailable in builds without the opencv tag.
type OpenCVDetector struct{}

// NewOpenCVDetector always fails; rebuild with -tags opencv to enable it.
func NewOpenCVDetector(modelPath, configPath string, opts Options) (*OpenCVDetector, error) {
	return nil, backend.Unavailable("opencv", errors.New("built without opencv support"))
}

func (d *OpenCVDetector) Name() string {
	return "opencv"
}

func (d *OpenCVDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	return nil, backend.Unavailable("opencv", errors.New("built without opencv support"))
}

func (d *OpenCVDetector) Close() error {
	return nil
}
