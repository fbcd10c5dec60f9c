package imaging

import (
	"image"
	"math"
)

// ZoneStats is the average color of a rectangular zone of an image.
type ZoneStats struct {
	R, G, B   float64 // mean channel values, 0-255
	Luminance float64 // mean Rec. 601 luma, 0-255
	Pixels    int
}

// MeasureZone averages the pixels of img inside rect (clipped to the image bounds).
func MeasureZone(img image.Image, rect image.Rectangle) ZoneStats {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return ZoneStats{}
	}

	var sr, sg, sb float64
	n := 0
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			sr += float64(r >> 8)
			sg += float64(g >> 8)
			sb += float64(b >> 8)
			n++
		}
	}

	s := ZoneStats{R: sr / float64(n), G: sg / float64(n), B: sb / float64(n), Pixels: n}
	s.Luminance = 0.299*s.R + 0.587*s.G + 0.114*s.B
	return s
}

// Tone classifies the zone brightness as dark, medium or light.
func (s ZoneStats) Tone() string {
	switch {
	case s.Luminance < 85:
		return "dark"
	case s.Luminance < 170:
		return "medium"
	default:
		return "light"
	}
}

// ColorName returns a coarse color name for the zone average.
func (s ZoneStats) ColorName() string {
	maxC := math.Max(s.R, math.Max(s.G, s.B))
	minC := math.Min(s.R, math.Min(s.G, s.B))

	// Low saturation is a grey scale color.
	if maxC-minC < 30 {
		switch {
		case maxC < 60:
			return "black"
		case maxC > 200:
			return "white"
		default:
			return "gray"
		}
	}

	hue := hueDegrees(s.R, s.G, s.B, maxC, minC)
	switch {
	case hue < 20 || hue >= 340:
		return "red"
	case hue < 45:
		if maxC < 150 {
			return "brown"
		}
		return "orange"
	case hue < 70:
		return "yellow"
	case hue < 170:
		return "green"
	case hue < 260:
		return "blue"
	case hue < 300:
		return "purple"
	default:
		return "pink"
	}
}

func hueDegrees(r, g, b, maxC, minC float64) float64 {
	d := maxC - minC
	var h float64
	switch maxC {
	case r:
		h = math.Mod((g-b)/d, 6)
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h
}
