package similarity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/findandseek/internal/backend"
	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/descriptor"
	"github.com/kozaktomas/findandseek/internal/logging"
	"github.com/kozaktomas/findandseek/internal/vision"
)

const compareMaxTokens = 300

// ModelScorer asks a language model for a similarity judgment. Whenever the model
// is unavailable or its answer cannot be read, the heuristic scorer answers instead
// and the result is tagged accordingly.
type ModelScorer struct {
	provider  vision.Provider
	timeout   time.Duration
	threshold float64
	fallback  *HeuristicScorer
	logger    *zap.Logger
}

func NewModelScorer(provider vision.Provider, timeout time.Duration, weights Weights, logger *zap.Logger) *ModelScorer {
	return &ModelScorer{
		provider:  provider,
		timeout:   timeout,
		threshold: weights.MatchThreshold,
		fallback:  NewHeuristicScorer(weights),
		logger:    logging.OrNop(logger),
	}
}

func (s *ModelScorer) Method() string {
	return constants.MethodModel
}

// Verdict is a model's similarity judgment.
type Verdict struct {
	SimilarityScore float64
	Reasoning       string
}

func (s *ModelScorer) Score(ctx context.Context, reference, candidate descriptor.PersonDescriptor) (ComparisonResult, error) {
	verdict, err := s.ask(ctx, reference, candidate)
	if err != nil {
		if ctx.Err() != nil {
			return ComparisonResult{}, ctx.Err()
		}
		if !backend.IsUnavailable(err) && !vision.IsParseError(err) {
			return ComparisonResult{}, err
		}
		s.logger.Warn("model comparison failed, using heuristic score",
			zap.String("provider", s.provider.Name()), zap.String("person_id", candidate.PersonID), zap.Error(err))
		return s.fallback.Compare(reference, candidate), nil
	}

	score := clampScore(verdict.SimilarityScore)
	return ComparisonResult{
		Candidate:       candidate,
		SimilarityScore: score,
		PotentialMatch:  score > s.threshold,
		Method:          constants.MethodModel,
		Reasoning:       verdict.Reasoning,
	}, nil
}

func (s *ModelScorer) ask(ctx context.Context, reference, candidate descriptor.PersonDescriptor) (Verdict, error) {
	refJSON, err := json.Marshal(reference)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to marshal reference: %w", err)
	}
	candJSON, err := json.Marshal(candidate)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to marshal candidate: %w", err)
	}

	content, err := backend.Call(ctx, s.provider.Name(), s.timeout, func(ctx context.Context) (string, error) {
		return s.provider.Complete(ctx, vision.Request{
			Instructions: vision.ComparePrompt(),
			Text:         vision.BuildCompareContent(refJSON, candJSON),
			MaxTokens:    compareMaxTokens,
			Validate: func(content string) error {
				_, err := ParseVerdict(content)
				return err
			},
		})
	})
	if err != nil {
		return Verdict{}, err
	}
	return ParseVerdict(content)
}

// ParseVerdict reads {"similarity_score": x, "reasoning": "..."} from a model answer.
// The score may be a number or a numeric string, on a 0-1 or a 0-100 scale.
func ParseVerdict(content string) (Verdict, error) {
	var raw struct {
		SimilarityScore any    `json:"similarity_score"`
		Reasoning       string `json:"reasoning"`
	}
	if err := vision.DecodeJSON(content, &raw); err != nil {
		return Verdict{}, err
	}

	score, err := parseScore(raw.SimilarityScore)
	if err != nil {
		return Verdict{}, &vision.ParseError{Raw: content, Err: err}
	}
	return Verdict{SimilarityScore: score, Reasoning: raw.Reasoning}, nil
}

func parseScore(v any) (float64, error) {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case string:
		s := strings.TrimSpace(val)
		percent := strings.HasSuffix(s, "%")
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid similarity_score %q", val)
		}
		f = parsed
		if percent {
			f /= 100
		}
	case nil:
		return 0, errors.New("missing similarity_score")
	default:
		return 0, fmt.Errorf("invalid similarity_score type %T", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("similarity_score out of range: %v", f)
	}
	if f > 1 {
		if f > 100 {
			return 0, fmt.Errorf("similarity_score out of range: %v", f)
		}
		f /= 100
	}
	return f, nil
}
