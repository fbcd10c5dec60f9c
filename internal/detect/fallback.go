package detect

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/findandseek/internal/backend"
	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/logging"
)

// FallbackDetector needs no model. It assumes one person in the middle of the
// frame and returns a single centered box a third of the width and half of the
// height of the image, tagged as heuristic.
type FallbackDetector struct {
	threshold float64
}

// NewFallbackDetector creates the synthetic detector. The nominal confidence still
// has to clear threshold, so a threshold of 0.5 or more yields no detections.
func NewFallbackDetector(threshold float64) *FallbackDetector {
	return &FallbackDetector{threshold: threshold}
}

func (d *FallbackDetector) Name() string {
	return constants.MethodHeuristic
}

func (d *FallbackDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if constants.FallbackDetectionConfidence <= d.threshold {
		return nil, nil
	}

	b := img.Bounds()
	w := b.Dx() / 3
	h := b.Dy() / 2
	x1 := b.Min.X + (b.Dx()-w)/2
	y1 := b.Min.Y + (b.Dy()-h)/2
	box := BoundingBox{X1: x1, Y1: y1, X2: x1 + w, Y2: y1 + h}.Clamp(b)
	if box.Area() == 0 {
		return nil, nil
	}

	return []Detection{{
		Box:        box,
		Confidence: constants.FallbackDetectionConfidence,
		Label:      "synthetic",
		Heuristic:  true,
	}}, nil
}

// ErrNoDetector is returned by a Chain with neither a primary nor a fallback detector.
var ErrNoDetector = errors.New("no person detector available")

// Chain tries Primary and switches to Fallback whenever Primary is missing,
// unavailable or slower than Timeout. Other primary errors are returned as is.
// Once Primary is unavailable the Chain stops calling it, so build one Chain per
// request when the primary should be retried later.
type Chain struct {
	Primary    Detector
	Fallback   Detector
	Timeout    time.Duration
	Logger     *zap.Logger
	OnFallback func(err error) // called before every fallback detection, err is nil when Primary is missing

	mu   sync.Mutex
	down error // first unavailable error of Primary
}

func (c *Chain) Name() string {
	switch {
	case c.Primary != nil:
		return c.Primary.Name()
	case c.Fallback != nil:
		return c.Fallback.Name()
	}
	return "none"
}

func (c *Chain) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	primaryErr := c.primaryDown()
	if c.Primary != nil && primaryErr == nil {
		dets, err := backend.Call(ctx, c.Primary.Name(), c.Timeout, func(ctx context.Context) ([]Detection, error) {
			return c.Primary.Detect(ctx, img)
		})
		if err == nil {
			return dets, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !backend.IsUnavailable(err) {
			return nil, err
		}
		logging.OrNop(c.Logger).Warn("person detector unavailable, using fallback",
			zap.String("detector", c.Primary.Name()), zap.Error(err))
		c.markDown(err)
		primaryErr = err
	}
	if c.Fallback == nil {
		if primaryErr != nil {
			return nil, primaryErr
		}
		return nil, ErrNoDetector
	}
	if c.OnFallback != nil {
		c.OnFallback(primaryErr)
	}
	return c.Fallback.Detect(ctx, img)
}

func (c *Chain) primaryDown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.down
}

func (c *Chain) markDown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down == nil {
		c.down = err
	}
}
