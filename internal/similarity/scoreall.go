package similarity

import (
	"context"
	"sync"

	"github.com/kozaktomas/findandseek/internal/descriptor"
)

type scoreResult struct {
	index  int
	result ComparisonResult
	err    error
}

// ScoreAll scores every candidate against reference with at most concurrency calls in
// flight (0 means one per candidate) and returns the ranked results. Candidates that
// could not be described score 0 without reaching the scorer. A failure for one
// candidate never affects its siblings; only cancellation of ctx aborts the batch.
func ScoreAll(ctx context.Context, scorer Scorer, reference descriptor.PersonDescriptor, candidates []descriptor.PersonDescriptor, concurrency int) ([]ComparisonResult, error) {
	if len(candidates) == 0 {
		return []ComparisonResult{}, nil
	}
	if concurrency <= 0 || concurrency > len(candidates) {
		concurrency = len(candidates)
	}

	resultsChan := make(chan scoreResult, len(candidates))
	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, cand := range candidates {
		if cand.IsError() {
			resultsChan <- scoreResult{index: i, result: unscored(cand, scorer.Method(), "candidate could not be described: "+cand.Error)}
			continue
		}

		wg.Add(1)
		go func(idx int, cand descriptor.PersonDescriptor) {
			defer wg.Done()

			// Acquire semaphore
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				resultsChan <- scoreResult{index: idx, err: ctx.Err()}
				return
			}

			res, err := scorer.Score(ctx, reference, cand)
			resultsChan <- scoreResult{index: idx, result: res, err: err}
		}(i, cand)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	// Collect results maintaining order
	results := make([]ComparisonResult, len(candidates))
	for r := range resultsChan {
		if r.err != nil {
			r.result = unscored(candidates[r.index], scorer.Method(), "scoring failed: "+r.err.Error())
		}
		results[r.index] = r.result
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	Rank(results)
	return results, nil
}

func unscored(cand descriptor.PersonDescriptor, method, reason string) ComparisonResult {
	return ComparisonResult{
		Candidate: cand,
		Method:    method,
		Reasoning: reason,
	}
}
