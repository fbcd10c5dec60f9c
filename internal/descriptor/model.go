package descriptor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/findandseek/internal/backend"
	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/logging"
	"github.com/kozaktomas/findandseek/internal/vision"
)

const personMaxTokens = 600

// ModelService describes people with a vision model.
type ModelService struct {
	provider    vision.Provider
	timeout     time.Duration
	concurrency int
	logger      *zap.Logger
}

// NewModelService creates a descriptor service backed by provider. Every backend call is
// bounded by timeout; concurrency limits parallel calls when crops are described one by one
// (0 means one goroutine per crop).
func NewModelService(provider vision.Provider, timeout time.Duration, concurrency int, logger *zap.Logger) *ModelService {
	return &ModelService{
		provider:    provider,
		timeout:     timeout,
		concurrency: concurrency,
		logger:      logging.OrNop(logger),
	}
}

func (s *ModelService) Method() string {
	return constants.MethodModel
}

// Describe describes the single person in image. A malformed answer yields an error
// descriptor and a nil error; an unreachable or slow backend yields backend.ErrUnavailable.
func (s *ModelService) Describe(ctx context.Context, image []byte) (PersonDescriptor, error) {
	desc, _, err := s.describeOne(ctx, image)
	return desc, err
}

func (s *ModelService) describeOne(ctx context.Context, image []byte) (PersonDescriptor, bool, error) {
	content, err := backend.Call(ctx, s.provider.Name(), s.timeout, func(ctx context.Context) (string, error) {
		return s.provider.Complete(ctx, vision.Request{
			Instructions: vision.PersonPrompt(),
			Text:         "Describe the person in this image.",
			Images:       [][]byte{image},
			MaxTokens:    personMaxTokens,
			Validate:     validatePerson,
		})
	})
	if err != nil {
		if vision.IsParseError(err) {
			s.logger.Warn("unparsable person description", zap.String("provider", s.provider.Name()), zap.Error(err))
			return ErrorDescriptor("parse error: "+err.Error(), s.Method()), true, nil
		}
		return PersonDescriptor{}, false, err
	}

	var p modelPerson
	if err := vision.DecodeJSON(content, &p); err != nil {
		return ErrorDescriptor("parse error: "+err.Error(), s.Method()), true, nil
	}
	return p.toDescriptor(uuid.NewString(), s.Method()), !p.notPerson(), nil
}

func validatePerson(content string) error {
	var p modelPerson
	return vision.DecodeJSON(content, &p)
}

// DescribeMany sends all crops in one request when the provider accepts that many
// images, and falls back to one request per crop otherwise or when the grouped
// answer cannot be parsed. Crops the model flags as not showing a person are dropped.
// Crops that found the backend unavailable come back as a *PartialError.
func (s *ModelService) DescribeMany(ctx context.Context, images [][]byte) ([]PersonDescriptor, error) {
	if len(images) == 0 {
		return nil, nil
	}

	if len(images) > 1 && s.provider.MaxImages() >= len(images) {
		descs, err := s.describeGroup(ctx, images)
		if err == nil {
			return descs, nil
		}
		if !vision.IsParseError(err) {
			return nil, err
		}
		s.logger.Warn("grouped description unparsable, describing crops individually",
			zap.String("provider", s.provider.Name()), zap.Int("crops", len(images)), zap.Error(err))
	}

	return s.describeEach(ctx, images)
}

func (s *ModelService) describeGroup(ctx context.Context, images [][]byte) ([]PersonDescriptor, error) {
	content, err := backend.Call(ctx, s.provider.Name(), s.timeout, func(ctx context.Context) (string, error) {
		return s.provider.Complete(ctx, vision.Request{
			Instructions: vision.GroupPrompt(len(images)),
			Text:         fmt.Sprintf("Describe each of the %d people in these images.", len(images)),
			Images:       images,
			MaxTokens:    personMaxTokens * len(images),
			Validate: func(content string) error {
				_, err := decodeGroup(content)
				return err
			},
		})
	})
	if err != nil {
		return nil, err
	}

	items, err := decodeGroup(content)
	if err != nil {
		return nil, err
	}
	if len(items) > len(images) {
		items = items[:len(images)]
	}

	descs := make([]PersonDescriptor, 0, len(items))
	for i, item := range items {
		var p modelPerson
		if err := json.Unmarshal(item, &p); err != nil {
			s.logger.Warn("unparsable person in grouped description", zap.Int("item", i), zap.Error(err))
			descs = append(descs, ErrorDescriptor("parse error: "+err.Error(), s.Method()))
			continue
		}
		if p.notPerson() {
			continue
		}
		descs = append(descs, p.toDescriptor(uuid.NewString(), s.Method()))
	}
	return descs, nil
}

// decodeGroup accepts either a bare JSON array or an object with a "people" array.
func decodeGroup(content string) ([]json.RawMessage, error) {
	var raw json.RawMessage
	if err := vision.DecodeJSON(content, &raw); err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}

	var wrapped struct {
		People []json.RawMessage `json:"people"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.People == nil {
		return nil, &vision.ParseError{Raw: content, Err: errors.New(`expected a JSON array or an object with a "people" array`)}
	}
	return wrapped.People, nil
}

type describeResult struct {
	index int
	desc  PersonDescriptor
	keep  bool
	err   error
}

// describeEach describes crops one by one with bounded concurrency. A crop that fails
// becomes an error descriptor. Crops that found the backend unavailable are reported in
// a *PartialError, or as backend.ErrUnavailable when no crop got through.
func (s *ModelService) describeEach(ctx context.Context, images [][]byte) ([]PersonDescriptor, error) {
	concurrency := s.concurrency
	if concurrency <= 0 || concurrency > len(images) {
		concurrency = len(images)
	}

	resultsChan := make(chan describeResult, len(images))
	semaphore := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, img := range images {
		wg.Add(1)
		go func(idx int, img []byte) {
			defer wg.Done()

			// Acquire semaphore
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if ctx.Err() != nil {
				resultsChan <- describeResult{index: idx, err: ctx.Err()}
				return
			}

			desc, keep, err := s.describeOne(ctx, img)
			resultsChan <- describeResult{index: idx, desc: desc, keep: keep, err: err}
		}(i, img)
	}

	// Wait for all goroutines to complete and close results channel
	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	// Collect results maintaining order
	results := make([]describeResult, len(images))
	for r := range resultsChan {
		results[r.index] = r
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var partial PartialError
	descs := make([]PersonDescriptor, 0, len(images))
	for _, r := range results {
		if r.err != nil {
			s.logger.Warn("failed to describe person", zap.Int("crop", r.index), zap.Error(r.err))
			if backend.IsUnavailable(r.err) {
				partial.Crops = append(partial.Crops, r.index)
				partial.Slots = append(partial.Slots, len(descs))
				if partial.Err == nil {
					partial.Err = r.err
				}
			}
			descs = append(descs, ErrorDescriptor(r.err.Error(), s.Method()))
			continue
		}
		if r.keep {
			descs = append(descs, r.desc)
		}
	}

	switch len(partial.Crops) {
	case 0:
		return descs, nil
	case len(images):
		return nil, backend.Unavailable(s.provider.Name(), partial.Err)
	}
	partial.Descriptors = descs
	return descs, &partial
}
