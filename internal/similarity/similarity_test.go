package similarity

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/findandseek/internal/backend"
	"github.com/kozaktomas/findandseek/internal/config"
	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/descriptor"
	"github.com/kozaktomas/findandseek/internal/vision"
)

func strPtr(s string) *string { return &s }

func person(id string, gender descriptor.Gender, ethnicity, upper, lower string) descriptor.PersonDescriptor {
	d := descriptor.PersonDescriptor{
		PersonID: id,
		Gender:   gender,
		Clothing: descriptor.Clothing{Upper: upper, Lower: lower},
	}
	if ethnicity != "" {
		d.Ethnicity = strPtr(ethnicity)
	}
	return d
}

type fakeProvider struct {
	answer func(req vision.Request) (string, error)
	calls  int
	mu     sync.Mutex
}

func (p *fakeProvider) Name() string           { return "fake" }
func (p *fakeProvider) MaxImages() int         { return 1 }
func (p *fakeProvider) GetUsage() vision.Usage { return vision.Usage{} }
func (p *fakeProvider) ResetUsage()            {}

func (p *fakeProvider) Complete(ctx context.Context, req vision.Request) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	content, err := p.answer(req)
	if err != nil {
		return "", err
	}
	if req.Validate != nil {
		if verr := req.Validate(content); verr != nil {
			return content, &vision.ParseError{Raw: content, Err: verr}
		}
	}
	return content, nil
}

// --- Heuristic ---

func TestHeuristicScorer_BlueShirtBlueHoodie(t *testing.T) {
	ref := person("ref", descriptor.GenderMale, "White", "blue shirt", "")
	cand := person("c1", descriptor.GenderMale, "White", "blue hoodie", "")

	res := NewHeuristicScorer(DefaultWeights()).Compare(ref, cand)

	if res.SimilarityScore != 0.8 {
		t.Errorf("expected score 0.8, got %v", res.SimilarityScore)
	}
	if !res.PotentialMatch {
		t.Error("expected potential match")
	}
	if res.Method != constants.MethodHeuristic {
		t.Errorf("expected heuristic method, got %s", res.Method)
	}
}

func TestHeuristicScorer_Increments(t *testing.T) {
	ref := person("ref", descriptor.GenderFemale, "Asian", "red jacket", "black jeans")

	tests := []struct {
		name      string
		cand      descriptor.PersonDescriptor
		wantScore float64
		wantMatch bool
	}{
		{"nothing matches", person("c", descriptor.GenderMale, "White", "green coat", "khaki shorts"), 0.5, false},
		{"gender only", person("c", descriptor.GenderFemale, "White", "green coat", "khaki shorts"), 0.6, false},
		{"gender and ethnicity", person("c", descriptor.GenderFemale, "asian", "green coat", "khaki shorts"), 0.7, true},
		{"all four", person("c", descriptor.GenderFemale, "Asian", "RED JACKET", "jeans"), 0.9, true},
		{"unknown gender never matches", person("c", descriptor.GenderUnknown, "", "", ""), 0.5, false},
		{"substring either direction", person("c", descriptor.GenderMale, "", "bright red jacket with hood", ""), 0.6, false},
	}

	s := NewHeuristicScorer(DefaultWeights())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Compare(ref, tt.cand)
			if res.SimilarityScore != tt.wantScore {
				t.Errorf("expected score %v, got %v", tt.wantScore, res.SimilarityScore)
			}
			if res.PotentialMatch != tt.wantMatch {
				t.Errorf("expected match %v, got %v", tt.wantMatch, res.PotentialMatch)
			}
		})
	}
}

func TestHeuristicScorer_UnknownValuesNeverMatch(t *testing.T) {
	ref := person("ref", descriptor.GenderUnknown, "Unknown", "Unknown", "unknown")

	res := NewHeuristicScorer(DefaultWeights()).Compare(ref, ref)

	if res.SimilarityScore != 0.5 {
		t.Errorf("expected base score for all-unknown descriptors, got %v", res.SimilarityScore)
	}
}

func TestHeuristicScorer_SelfScoreLowerBound(t *testing.T) {
	ref := person("ref", descriptor.GenderMale, "Hispanic", "gray sweater", "blue jeans")

	res := NewHeuristicScorer(DefaultWeights()).Compare(ref, ref)

	// 4 matching fields: 0.5 + 4*0.1
	if res.SimilarityScore < 0.9 || res.SimilarityScore > 1.0 {
		t.Errorf("expected self score 0.9, got %v", res.SimilarityScore)
	}
}

func TestHeuristicScorer_Clamped(t *testing.T) {
	w := DefaultWeights()
	w.Gender = 0.4
	w.Ethnicity = 0.4
	ref := person("ref", descriptor.GenderMale, "White", "", "")

	res := NewHeuristicScorer(w).Compare(ref, ref)

	if res.SimilarityScore != 1.0 {
		t.Errorf("expected clamped score 1.0, got %v", res.SimilarityScore)
	}
}

func TestHeuristicScorer_Diacritics(t *testing.T) {
	ref := person("ref", descriptor.GenderUnknown, "", "Béret rouge", "")
	cand := person("c", descriptor.GenderUnknown, "", "BERET", "")

	res := NewHeuristicScorer(DefaultWeights()).Compare(ref, cand)

	if res.SimilarityScore != 0.6 {
		t.Errorf("expected upper clothing overlap, got %v", res.SimilarityScore)
	}
}

func TestWeightsFromConfig(t *testing.T) {
	scoring, err := config.LoadScoring("")
	if err != nil {
		t.Fatalf("LoadScoring failed: %v", err)
	}

	if WeightsFromConfig(scoring) != DefaultWeights() {
		t.Errorf("expected embedded scoring config to equal defaults, got %+v", WeightsFromConfig(scoring))
	}
}

func TestTextOverlap(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"blue shirt", "blue hoodie", true},
		{"Blue", "navy blue shirt", true},
		{"red shirt", "green shirt", true},
		{"red top", "green coat", false},
		{"dark clothing", "light clothing", false},
		{"", "blue", false},
		{"unknown", "unknown", false},
	}
	for _, tt := range tests {
		if got := textOverlap(tt.a, tt.b); got != tt.want {
			t.Errorf("textOverlap(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

// --- Model ---

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    float64
		wantErr bool
	}{
		{"fraction", `{"similarity_score": 0.82, "reasoning": "same jacket"}`, 0.82, false},
		{"percentage", `{"similarity_score": 75}`, 0.75, false},
		{"string", `{"similarity_score": "0.4"}`, 0.4, false},
		{"percent string", "```json\n{\"similarity_score\": \"65%\"}\n```", 0.65, false},
		{"missing", `{"reasoning": "?"}`, 0, true},
		{"negative", `{"similarity_score": -1}`, 0, true},
		{"too large", `{"similarity_score": 250}`, 0, true},
		{"not json", "they look alike", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVerdict(tt.content)
			if tt.wantErr {
				if !vision.IsParseError(err) {
					t.Errorf("expected ParseError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVerdict failed: %v", err)
			}
			if v.SimilarityScore < tt.want-1e-9 || v.SimilarityScore > tt.want+1e-9 {
				t.Errorf("expected %v, got %v", tt.want, v.SimilarityScore)
			}
		})
	}
}

func TestModelScorer_Score(t *testing.T) {
	p := &fakeProvider{answer: func(vision.Request) (string, error) {
		return `{"similarity_score": 0.87, "reasoning": "same red jacket"}`, nil
	}}
	s := NewModelScorer(p, time.Second, DefaultWeights(), nil)

	res, err := s.Score(context.Background(), person("r", descriptor.GenderMale, "", "", ""), person("c", descriptor.GenderMale, "", "", ""))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if res.SimilarityScore != 0.87 || !res.PotentialMatch {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Method != constants.MethodModel || res.Reasoning != "same red jacket" {
		t.Errorf("unexpected method/reasoning %+v", res)
	}
}

func TestModelScorer_FallsBackOnParseError(t *testing.T) {
	p := &fakeProvider{answer: func(vision.Request) (string, error) { return "maybe?", nil }}
	s := NewModelScorer(p, time.Second, DefaultWeights(), nil)

	ref := person("r", descriptor.GenderMale, "White", "blue shirt", "")
	res, err := s.Score(context.Background(), ref, person("c", descriptor.GenderMale, "White", "blue hoodie", ""))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if res.Method != constants.MethodHeuristic || res.SimilarityScore != 0.8 {
		t.Errorf("expected heuristic 0.8, got %+v", res)
	}
}

func TestModelScorer_FallsBackWhenUnavailable(t *testing.T) {
	p := &fakeProvider{answer: func(vision.Request) (string, error) {
		return "", backend.Unavailable("fake", errors.New("503"))
	}}
	s := NewModelScorer(p, time.Second, DefaultWeights(), nil)

	res, err := s.Score(context.Background(), person("r", "", "", "", ""), person("c", "", "", "", ""))
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}
	if res.Method != constants.MethodHeuristic {
		t.Errorf("expected heuristic method, got %s", res.Method)
	}
}

func TestModelScorer_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakeProvider{answer: func(vision.Request) (string, error) { return "", context.Canceled }}
	s := NewModelScorer(p, time.Second, DefaultWeights(), nil)

	if _, err := s.Score(ctx, person("r", "", "", "", ""), person("c", "", "", "", "")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// --- Ranking ---

func TestRank_StableDescending(t *testing.T) {
	results := []ComparisonResult{
		{Candidate: descriptor.PersonDescriptor{PersonID: "a"}, SimilarityScore: 0.6},
		{Candidate: descriptor.PersonDescriptor{PersonID: "b"}, SimilarityScore: 0.8},
		{Candidate: descriptor.PersonDescriptor{PersonID: "c"}, SimilarityScore: 0.6},
		{Candidate: descriptor.PersonDescriptor{PersonID: "d"}, SimilarityScore: 0.8},
		{Candidate: descriptor.PersonDescriptor{PersonID: "e"}, SimilarityScore: 0.5},
	}

	Rank(results)

	want := []string{"b", "d", "a", "c", "e"}
	for i, id := range want {
		if results[i].Candidate.PersonID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, results[i].Candidate.PersonID)
		}
	}
}

func TestRank_RandomizedSortedDescending(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		results := make([]ComparisonResult, r.IntN(20))
		for i := range results {
			results[i].SimilarityScore = float64(r.IntN(11)) / 10
			results[i].Candidate.FrameIndex = new(int)
			*results[i].Candidate.FrameIndex = i
		}

		Rank(results)

		for i := 1; i < len(results); i++ {
			prev, cur := results[i-1], results[i]
			if prev.SimilarityScore < cur.SimilarityScore {
				t.Fatalf("not sorted descending at %d", i)
			}
			if prev.SimilarityScore == cur.SimilarityScore && *prev.Candidate.FrameIndex > *cur.Candidate.FrameIndex {
				t.Fatalf("equal scores lost input order at %d", i)
			}
		}
	}
}

func TestScoreAll_RanksAndIsolatesErrors(t *testing.T) {
	ref := person("ref", descriptor.GenderMale, "White", "blue shirt", "black jeans")
	candidates := []descriptor.PersonDescriptor{
		person("weak", descriptor.GenderFemale, "", "yellow dress", ""),
		descriptor.ErrorDescriptor("parse error: boom", constants.MethodModel),
		person("strong", descriptor.GenderMale, "White", "blue hoodie", "jeans"),
	}

	results, err := ScoreAll(context.Background(), NewHeuristicScorer(DefaultWeights()), ref, candidates, 2)
	if err != nil {
		t.Fatalf("ScoreAll failed: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Candidate.PersonID != "strong" || results[0].SimilarityScore != 0.9 {
		t.Errorf("expected strong candidate first with 0.9, got %+v", results[0])
	}
	last := results[2]
	if !last.Candidate.IsError() || last.SimilarityScore != 0 || last.PotentialMatch {
		t.Errorf("expected error candidate last with zero score, got %+v", last)
	}
}

func TestScoreAll_Empty(t *testing.T) {
	results, err := ScoreAll(context.Background(), NewHeuristicScorer(DefaultWeights()), descriptor.PersonDescriptor{}, nil, 0)
	if err != nil {
		t.Fatalf("ScoreAll failed: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil results, got %v", results)
	}
}

func TestScoreAll_BoundedConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	p := &fakeProvider{answer: func(vision.Request) (string, error) {
		mu.Lock()
		inFlight++
		peak = max(peak, inFlight)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return `{"similarity_score": 0.5}`, nil
	}}
	s := NewModelScorer(p, time.Second, DefaultWeights(), nil)

	candidates := make([]descriptor.PersonDescriptor, 8)
	results, err := ScoreAll(context.Background(), s, descriptor.PersonDescriptor{}, candidates, 3)
	if err != nil {
		t.Fatalf("ScoreAll failed: %v", err)
	}
	if len(results) != 8 {
		t.Errorf("expected 8 results, got %d", len(results))
	}
	if peak > 3 {
		t.Errorf("expected at most 3 concurrent calls, got %d", peak)
	}
}
