package similarity

import (
	"context"
	"strings"

	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/descriptor"
)

// HeuristicScorer scores by attribute agreement: a base score plus one increment per
// matching gender, ethnicity, upper clothing and lower clothing.
type HeuristicScorer struct {
	weights Weights
}

func NewHeuristicScorer(weights Weights) *HeuristicScorer {
	return &HeuristicScorer{weights: weights}
}

func (s *HeuristicScorer) Method() string {
	return constants.MethodHeuristic
}

func (s *HeuristicScorer) Score(ctx context.Context, reference, candidate descriptor.PersonDescriptor) (ComparisonResult, error) {
	if err := ctx.Err(); err != nil {
		return ComparisonResult{}, err
	}
	return s.Compare(reference, candidate), nil
}

// Compare never fails; unknown or empty attributes simply do not count.
func (s *HeuristicScorer) Compare(reference, candidate descriptor.PersonDescriptor) ComparisonResult {
	w := s.weights
	score := w.Base
	var matched []string

	if reference.Gender != descriptor.GenderUnknown && reference.Gender != "" && reference.Gender == candidate.Gender {
		score += w.Gender
		matched = append(matched, "gender")
	}
	if sameValue(reference.EthnicityOrEmpty(), candidate.EthnicityOrEmpty()) {
		score += w.Ethnicity
		matched = append(matched, "ethnicity")
	}
	if textOverlap(reference.Clothing.Upper, candidate.Clothing.Upper) {
		score += w.UpperClothing
		matched = append(matched, "upper clothing")
	}
	if textOverlap(reference.Clothing.Lower, candidate.Clothing.Lower) {
		score += w.LowerClothing
		matched = append(matched, "lower clothing")
	}

	score = clampScore(score)
	reasoning := "no matching attributes"
	if len(matched) > 0 {
		reasoning = "matching " + strings.Join(matched, ", ")
	}

	return ComparisonResult{
		Candidate:       candidate,
		SimilarityScore: score,
		PotentialMatch:  score > w.MatchThreshold,
		Method:          constants.MethodHeuristic,
		Reasoning:       reasoning,
	}
}
