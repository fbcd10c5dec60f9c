// Package region crops detected person regions out of decoded images.
package region

import (
	"errors"
	"image"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/detect"
	"github.com/kozaktomas/findandseek/internal/imaging"
)

// ErrEmptyRegion is returned for boxes with no pixels inside the image.
var ErrEmptyRegion = errors.New("empty region")

// SubImage is a cropped person region with the box it was taken from.
type SubImage struct {
	Image      *image.RGBA
	Box        detect.BoundingBox
	FrameIndex *int
}

// JPEG encodes the crop for sending to a vision backend.
func (s SubImage) JPEG() ([]byte, error) {
	return imaging.EncodeJPEG(s.Image, constants.JPEGQuality)
}

// Extract copies the pixels of img inside box. The box is clamped to the image
// first; ErrEmptyRegion is returned when nothing is left.
func Extract(img image.Image, box detect.BoundingBox) (SubImage, error) {
	clamped := box.Clamp(img.Bounds())
	if clamped.Area() == 0 {
		return SubImage{}, ErrEmptyRegion
	}

	crop := image.NewRGBA(image.Rect(0, 0, clamped.Width(), clamped.Height()))
	draw.Draw(crop, crop.Bounds(), img, clamped.Rect().Min, draw.Src)
	return SubImage{Image: crop, Box: clamped}, nil
}

// ExtractAll crops every detection from img, silently skipping empty regions.
// It returns the crops in detection order and the number of skipped detections.
func ExtractAll(img image.Image, dets []detect.Detection) ([]SubImage, int) {
	crops := make([]SubImage, 0, len(dets))
	skipped := 0
	for _, d := range dets {
		sub, err := Extract(img, d.Box)
		if err != nil {
			skipped++
			continue
		}
		sub.FrameIndex = d.FrameIndex
		crops = append(crops, sub)
	}
	return crops, skipped
}
