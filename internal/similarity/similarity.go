// Package similarity scores detected people against the missing person's descriptor.
package similarity

import (
	"context"
	"math"
	"sort"

	"github.com/kozaktomas/findandseek/internal/config"
	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/descriptor"
)

// ComparisonResult is the verdict for one candidate.
type ComparisonResult struct {
	Candidate       descriptor.PersonDescriptor `json:"person"`
	SimilarityScore float64                     `json:"similarity_score"`
	PotentialMatch  bool                        `json:"potential_match"`
	Method          string                      `json:"method"`
	Reasoning       string                      `json:"reasoning,omitempty"`
}

// Scorer compares a candidate with the reference. Implementations must be safe for concurrent use.
type Scorer interface {
	Method() string
	Score(ctx context.Context, reference, candidate descriptor.PersonDescriptor) (ComparisonResult, error)
}

// Weights configures the heuristic scorer.
type Weights struct {
	Base           float64
	Gender         float64
	Ethnicity      float64
	UpperClothing  float64
	LowerClothing  float64
	MatchThreshold float64 // a score must exceed this to be a potential match
}

func DefaultWeights() Weights {
	return Weights{
		Base:           constants.DefaultBaseScore,
		Gender:         constants.DefaultAttributeIncrement,
		Ethnicity:      constants.DefaultAttributeIncrement,
		UpperClothing:  constants.DefaultAttributeIncrement,
		LowerClothing:  constants.DefaultAttributeIncrement,
		MatchThreshold: constants.DefaultMatchThreshold,
	}
}

// WeightsFromConfig converts the scoring section of the configuration.
func WeightsFromConfig(cfg config.ScoringConfig) Weights {
	return Weights{
		Base:           cfg.Base,
		Gender:         cfg.Gender,
		Ethnicity:      cfg.Ethnicity,
		UpperClothing:  cfg.UpperClothing,
		LowerClothing:  cfg.LowerClothing,
		MatchThreshold: cfg.MatchThreshold,
	}
}

// clampScore limits s to [0, 1] and rounds it to two decimals.
func clampScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	s = min(max(s, 0), 1)
	return math.Round(s*100) / 100
}

// Rank sorts results by score, highest first. Equal scores keep their input order.
func Rank(results []ComparisonResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].SimilarityScore > results[j].SimilarityScore
	})
}
