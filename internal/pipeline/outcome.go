// Package pipeline sequences detection, description and scoring for one search request.
package pipeline

import (
	"github.com/kozaktomas/findandseek/internal/descriptor"
	"github.com/kozaktomas/findandseek/internal/similarity"
)

// State is the position of a request in the pipeline.
type State string

const (
	StateReceived   State = "received"
	StateDetecting  State = "detecting"
	StateDescribing State = "describing"
	StateScoring    State = "scoring"
	StateRanked     State = "ranked"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateRanked || s == StateFailed
}

// Stage names used in Outcome.Stages.
const (
	StageDetection   = "detection"
	StageDescription = "description"
	StageScoring     = "scoring"
)

// Outcome is the result of one comparison request. Results are ranked by score.
type Outcome struct {
	RequestID     string                        `json:"request_id"`
	Reference     *descriptor.PersonDescriptor  `json:"missing_person,omitempty"`
	Results       []similarity.ComparisonResult `json:"comparison_results"`
	Method        string                        `json:"method"`
	Status        string                        `json:"status"`
	State         State                         `json:"state"`
	DetectedCount int                           `json:"detected_count"`
	Stages        map[string]string             `json:"stages"` // stage name -> method tag
	Error         string                        `json:"error,omitempty"`
}

// Matches returns the results flagged as potential matches, in rank order.
func (o *Outcome) Matches() []similarity.ComparisonResult {
	var out []similarity.ComparisonResult
	for _, r := range o.Results {
		if r.PotentialMatch {
			out = append(out, r)
		}
	}
	return out
}
