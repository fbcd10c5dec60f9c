package detect

import (
	"image"
	"sort"
)

// BoundingBox is an axis-aligned pixel rectangle given by its corners.
// X2/Y2 are exclusive, matching image.Rectangle.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BoundingBox) Width() int  { return b.X2 - b.X1 }
func (b BoundingBox) Height() int { return b.Y2 - b.Y1 }

// Area returns the box area, or 0 for degenerate boxes.
func (b BoundingBox) Area() int {
	if b.X2 <= b.X1 || b.Y2 <= b.Y1 {
		return 0
	}
	return b.Width() * b.Height()
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Clamp limits the box to bounds. The result may have zero area.
func (b BoundingBox) Clamp(bounds image.Rectangle) BoundingBox {
	r := b.Rect().Intersect(bounds)
	return BoundingBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// PadAndClamp grows the box by ratio of its width and height on every side,
// truncating the padding to whole pixels, and clamps it to bounds.
func (b BoundingBox) PadAndClamp(ratio float64, bounds image.Rectangle) BoundingBox {
	padX := int(float64(b.Width()) * ratio)
	padY := int(float64(b.Height()) * ratio)
	return BoundingBox{
		X1: max(bounds.Min.X, b.X1-padX),
		Y1: max(bounds.Min.Y, b.Y1-padY),
		X2: min(bounds.Max.X, b.X2+padX),
		Y2: min(bounds.Max.Y, b.Y2+padY),
	}
}

// IoU calculates Intersection over Union between two boxes.
func IoU(a, b BoundingBox) float64 {
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := float64((x2 - x1) * (y2 - y1))
	union := float64(a.Area()+b.Area()) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// SuppressOverlaps keeps the most confident of any group of detections whose
// boxes overlap with IoU >= threshold. The result is ordered by confidence, descending.
// A threshold <= 0 disables suppression but still sorts.
func SuppressOverlaps(dets []Detection, threshold float64) []Detection {
	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	if threshold <= 0 {
		return sorted
	}

	kept := make([]Detection, 0, len(sorted))
	for _, d := range sorted {
		overlapping := false
		for _, k := range kept {
			if IoU(d.Box, k.Box) >= threshold {
				overlapping = true
				break
			}
		}
		if !overlapping {
			kept = append(kept, d)
		}
	}
	return kept
}
