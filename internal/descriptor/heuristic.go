package descriptor

import (
	"context"
	"fmt"
	"image"

	"github.com/google/uuid"

	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/imaging"
)

// HeuristicService derives descriptors from image statistics alone. It needs no
// backend and always answers, with low confidence. The upper half of a crop is
// read as upper clothing and the lower half as lower clothing.
type HeuristicService struct{}

func NewHeuristicService() *HeuristicService {
	return &HeuristicService{}
}

func (s *HeuristicService) Method() string {
	return constants.MethodHeuristic
}

func (s *HeuristicService) Describe(ctx context.Context, data []byte) (PersonDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return PersonDescriptor{}, err
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return PersonDescriptor{}, err
	}
	desc := DescribeImage(img)
	// Same bytes, same ID: the result is fully deterministic.
	desc.PersonID = uuid.NewSHA1(uuid.NameSpaceOID, data).String()
	return desc, nil
}

// DescribeMany describes every crop in order. Crops that fail to decode become error descriptors.
func (s *HeuristicService) DescribeMany(ctx context.Context, images [][]byte) ([]PersonDescriptor, error) {
	descs := make([]PersonDescriptor, 0, len(images))
	for _, data := range images {
		desc, err := s.Describe(ctx, data)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			descs = append(descs, ErrorDescriptor(err.Error(), s.Method()))
			continue
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

// DescribeImage builds the statistics-based descriptor of a decoded image.
func DescribeImage(img image.Image) PersonDescriptor {
	b := img.Bounds()
	mid := b.Min.Y + b.Dy()/2
	upper := imaging.MeasureZone(img, image.Rect(b.Min.X, b.Min.Y, b.Max.X, mid))
	lower := imaging.MeasureZone(img, image.Rect(b.Min.X, mid, b.Max.X, b.Max.Y))
	overall := imaging.MeasureZone(img, b)

	confidence := constants.HeuristicDescriptorConfidence
	return PersonDescriptor{
		Gender:   GenderUnknown,
		AgeRange: "unknown",
		Clothing: Clothing{
			Upper:    zoneClothing(upper),
			Lower:    zoneClothing(lower),
			Footwear: "unknown",
		},
		DistinguishingFeatures: []string{fmt.Sprintf("overall %s appearance", overall.Tone())},
		Confidence:             &confidence,
		Source:                 constants.MethodHeuristic,
	}
}

func zoneClothing(s imaging.ZoneStats) string {
	if s.Pixels == 0 {
		return "unknown"
	}
	return s.Tone() + " " + s.ColorName()
}
