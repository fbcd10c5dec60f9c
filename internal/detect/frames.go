package detect

import (
	"context"
	"fmt"
	"image"
)

// DetectFrames runs d once per frame, for at most maxFrames frames, and returns all
// detections with their frame index set. Frames beyond the cap are ignored.
func DetectFrames(ctx context.Context, d Detector, frames []image.Image, maxFrames int) ([]Detection, error) {
	if maxFrames > 0 && len(frames) > maxFrames {
		frames = frames[:maxFrames]
	}

	var all []Detection
	for i, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dets, err := d.Detect(ctx, frame)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		for _, det := range dets {
			idx := i
			det.FrameIndex = &idx
			all = append(all, det)
		}
	}
	return all, nil
}
