//go:build opencv

package detect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/kozaktomas/findandseek/internal/backend"
)

// cocoPersonClass is the person class id of SSD MobileNet COCO models.
const cocoPersonClass = 1

// OpenCVDetector runs an SSD MobileNet person detector through the OpenCV DNN module.
type OpenCVDetector struct {
	mu   sync.Mutex // gocv.Net is not safe for concurrent Forward calls
	net  gocv.Net
	opts Options
}

// NewOpenCVDetector loads the network from modelPath (weights) and configPath (graph).
func NewOpenCVDetector(modelPath, configPath string, opts Options) (*OpenCVDetector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, backend.Unavailable("opencv", fmt.Errorf("model file not found: %s", modelPath))
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, backend.Unavailable("opencv", fmt.Errorf("config file not found: %s", configPath))
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, backend.Unavailable("opencv", errors.New("failed to load network"))
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable target: %w", err)
	}

	return &OpenCVDetector{net: net, opts: opts}, nil
}

func (d *OpenCVDetector) Name() string {
	return "opencv"
}

// Detect converts img to a BGR Mat and runs a forward pass.
func (d *OpenCVDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, errors.New("converted image is empty")
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.mu.Lock()
	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	d.mu.Unlock()
	defer output.Close()

	cols := float64(mat.Cols())
	rows := float64(mat.Rows())
	origin := img.Bounds().Min

	// Output is [1, 1, N, 7]: image id, class id, confidence, x1, y1, x2, y2 (relative).
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	var raw []RawDetection
	for i := 0; i < reshaped.Rows(); i++ {
		label := ""
		if int(reshaped.GetFloatAt(i, 1)) == cocoPersonClass {
			label = "person"
		}
		raw = append(raw, RawDetection{
			X1:         float64(reshaped.GetFloatAt(i, 3))*cols + float64(origin.X),
			Y1:         float64(reshaped.GetFloatAt(i, 4))*rows + float64(origin.Y),
			X2:         float64(reshaped.GetFloatAt(i, 5))*cols + float64(origin.X),
			Y2:         float64(reshaped.GetFloatAt(i, 6))*rows + float64(origin.Y),
			Confidence: float64(reshaped.GetFloatAt(i, 2)),
			Label:      label,
		})
	}

	return Postprocess(raw, img.Bounds(), d.opts), nil
}

// Close releases the network.
func (d *OpenCVDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
