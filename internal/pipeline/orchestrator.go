package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/findandseek/internal/backend"
	"github.com/kozaktomas/findandseek/internal/constants"
	"github.com/kozaktomas/findandseek/internal/descriptor"
	"github.com/kozaktomas/findandseek/internal/detect"
	"github.com/kozaktomas/findandseek/internal/imaging"
	"github.com/kozaktomas/findandseek/internal/logging"
	"github.com/kozaktomas/findandseek/internal/region"
	"github.com/kozaktomas/findandseek/internal/similarity"
)

var (
	// ErrNoDetections is returned only when Options.RequireDetections is set.
	ErrNoDetections = errors.New("no people detected")
	// ErrNoFallback means a stage's backend failed and no fallback was configured.
	ErrNoFallback = errors.New("backend unavailable and no fallback configured")
	// ErrInvalidReference is returned when the reference is, or can only be described as,
	// an error descriptor.
	ErrInvalidReference = errors.New("reference descriptor is an error descriptor")
)

type Options struct {
	Concurrency       int           // parallel per-person backend calls, 0 = one per person
	BackendTimeout    time.Duration // bound for every single backend call
	RequireDetections bool          // fail instead of returning an empty outcome
	MaxFrames         int
}

func DefaultOptions() Options {
	return Options{
		Concurrency:    constants.DefaultConcurrency,
		BackendTimeout: constants.DefaultBackendTimeout,
		MaxFrames:      constants.MaxFrames,
	}
}

// Dependencies are the stage implementations. Any primary may be nil, in which case the
// stage always runs its fallback. Fallbacks may be nil too; a stage without either fails.
type Dependencies struct {
	Detector            detect.Detector
	FallbackDetector    detect.Detector
	Descriptors         descriptor.Service
	FallbackDescriptors descriptor.Service
	Scorer              similarity.Scorer // nil means heuristic scoring with default weights
	Logger              *zap.Logger
}

// Orchestrator runs the matching pipeline. It holds no per-request state and is safe
// for concurrent use.
type Orchestrator struct {
	deps   Dependencies
	opts   Options
	logger *zap.Logger
}

func New(deps Dependencies, opts Options) *Orchestrator {
	if deps.Scorer == nil {
		deps.Scorer = similarity.NewHeuristicScorer(similarity.DefaultWeights())
	}
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = constants.MaxFrames
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: logging.OrNop(deps.Logger),
	}
}

// Options returns the options the orchestrator runs with.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// DetectorName names the configured primary detector.
func (o *Orchestrator) DetectorName() string {
	if o.deps.Detector != nil {
		return o.deps.Detector.Name()
	}
	return "none"
}

// run tracks one request: its outcome and which stages had to fall back.
type run struct {
	outcome *Outcome
	logger  *zap.Logger
	started time.Time

	mu        sync.Mutex
	fallbacks map[string]bool
}

func (o *Orchestrator) newRun(operation string) *run {
	id := uuid.NewString()
	return &run{
		outcome: &Outcome{
			RequestID: id,
			Results:   []similarity.ComparisonResult{},
			State:     StateReceived,
			Stages:    map[string]string{},
		},
		logger:    logging.WithOperation(o.logger, operation, id),
		started:   time.Now(),
		fallbacks: map[string]bool{},
	}
}

func (r *run) transition(state State) {
	r.logger.Debug("pipeline state", zap.String("state", string(state)), zap.Duration("elapsed", time.Since(r.started)))
	r.outcome.State = state
}

func (r *run) markFallback(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[stage] = true
}

// stageDone records the method tag of a completed stage.
func (r *run) stageDone(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	method := constants.MethodModel
	if r.fallbacks[stage] {
		method = constants.MethodHeuristic
	}
	r.outcome.Stages[stage] = method
}

// finish aggregates the method over all stages: a single degraded stage degrades the outcome.
func (r *run) finish(status string) *Outcome {
	r.outcome.Method = constants.MethodModel
	for _, method := range r.outcome.Stages {
		if method == constants.MethodHeuristic {
			r.outcome.Method = constants.MethodHeuristic
		}
	}
	r.outcome.Status = status
	r.transition(StateRanked)
	r.logger.Info("comparison finished",
		zap.String("method", r.outcome.Method),
		zap.Int("detected", r.outcome.DetectedCount),
		zap.Int("matches", len(r.outcome.Matches())),
		zap.Duration("duration", time.Since(r.started)))
	return r.outcome
}

func (r *run) fail(err error) (*Outcome, error) {
	r.transition(StateFailed)
	r.outcome.Error = err.Error()
	r.logger.Warn("comparison failed", zap.Error(err))
	return r.outcome, logging.NewOperationError("analyze_and_compare", r.outcome.RequestID, err)
}

func (o *Orchestrator) detector(r *run) detect.Detector {
	return &detect.Chain{
		Primary:    o.deps.Detector,
		Fallback:   o.deps.FallbackDetector,
		Timeout:    o.opts.BackendTimeout,
		Logger:     r.logger,
		OnFallback: func(error) { r.markFallback(StageDetection) },
	}
}

func (o *Orchestrator) describer(r *run) descriptor.Service {
	return &descriptor.Chain{
		Primary:    o.deps.Descriptors,
		Fallback:   o.deps.FallbackDescriptors,
		Logger:     r.logger,
		OnFallback: func(error) { r.markFallback(StageDescription) },
	}
}

// stageError maps a stage failure to the error reported to the caller.
func stageError(stage string, err error) error {
	if backend.IsUnavailable(err) || errors.Is(err, descriptor.ErrNoService) || errors.Is(err, detect.ErrNoDetector) {
		return fmt.Errorf("%s: %w: %w", stage, ErrNoFallback, err)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// AnalyzeReference describes the missing person from a reference photo.
func (o *Orchestrator) AnalyzeReference(ctx context.Context, image []byte) (descriptor.PersonDescriptor, error) {
	r := o.newRun("analyze_reference")
	if _, err := imaging.Decode(image); err != nil {
		return descriptor.PersonDescriptor{}, err
	}

	desc, err := o.describer(r).Describe(ctx, image)
	if err != nil {
		return descriptor.PersonDescriptor{}, logging.NewOperationError("analyze_reference", r.outcome.RequestID, stageError(StageDescription, err))
	}
	r.logger.Info("reference analyzed", zap.String("source", desc.Source), zap.Bool("error", desc.IsError()))
	return desc, nil
}

// AnalyzeAndCompare finds everyone in the search image and ranks them against the
// person in the reference image. Only undecodable input, cancellation and stages with
// no working backend nor fallback fail the request; the returned outcome then carries
// state Failed.
func (o *Orchestrator) AnalyzeAndCompare(ctx context.Context, reference, search []byte) (*Outcome, error) {
	r := o.newRun("analyze_and_compare")

	searchImg, err := imaging.Decode(search)
	if err != nil {
		return r.fail(err)
	}
	if _, err := imaging.Decode(reference); err != nil {
		return r.fail(err)
	}

	r.transition(StateDetecting)
	dets, err := o.detector(r).Detect(ctx, searchImg)
	if err != nil {
		return r.fail(stageError(StageDetection, err))
	}
	r.stageDone(StageDetection)

	return o.describeAndScore(ctx, r, referenceInput{image: reference}, []frameImage{{img: searchImg}}, dets)
}

// CompareWithDescriptor works like AnalyzeAndCompare against an already described
// missing person, such as the stored reference of a case.
func (o *Orchestrator) CompareWithDescriptor(ctx context.Context, reference descriptor.PersonDescriptor, search []byte) (*Outcome, error) {
	r := o.newRun("compare_with_descriptor")
	if reference.IsError() {
		return r.fail(ErrInvalidReference)
	}

	searchImg, err := imaging.Decode(search)
	if err != nil {
		return r.fail(err)
	}

	r.transition(StateDetecting)
	dets, err := o.detector(r).Detect(ctx, searchImg)
	if err != nil {
		return r.fail(stageError(StageDetection, err))
	}
	r.stageDone(StageDetection)

	return o.describeAndScore(ctx, r, referenceInput{known: &reference}, []frameImage{{img: searchImg}}, dets)
}

// AnalyzeAndCompareFrames works like AnalyzeAndCompare on video frames. At most
// Options.MaxFrames frames are used and every result carries its frame index.
func (o *Orchestrator) AnalyzeAndCompareFrames(ctx context.Context, reference []byte, frames [][]byte) (*Outcome, error) {
	r := o.newRun("analyze_and_compare_frames")

	if _, err := imaging.Decode(reference); err != nil {
		return r.fail(err)
	}
	if len(frames) > o.opts.MaxFrames {
		r.logger.Info("frame count capped", zap.Int("frames", len(frames)), zap.Int("max", o.opts.MaxFrames))
		frames = frames[:o.opts.MaxFrames]
	}

	images := make([]image.Image, len(frames))
	decoded := make([]frameImage, len(frames))
	for i, data := range frames {
		img, err := imaging.Decode(data)
		if err != nil {
			return r.fail(fmt.Errorf("frame %d: %w", i, err))
		}
		images[i] = img
		idx := i
		decoded[i] = frameImage{img: img, index: &idx}
	}

	r.transition(StateDetecting)
	dets, err := detect.DetectFrames(ctx, o.detector(r), images, o.opts.MaxFrames)
	if err != nil {
		return r.fail(stageError(StageDetection, err))
	}
	r.stageDone(StageDetection)

	return o.describeAndScore(ctx, r, referenceInput{image: reference}, decoded, dets)
}

// referenceInput is either a reference photo still to be described or a known descriptor.
type referenceInput struct {
	image []byte
	known *descriptor.PersonDescriptor
}

type frameImage struct {
	img   image.Image
	index *int // nil for a still image
}

// personGroup holds the encoded crops of one image or frame.
type personGroup struct {
	frame *int
	crops [][]byte
}

// groupCrops crops every detection out of its frame and encodes it, keeping frame order.
func (o *Orchestrator) groupCrops(r *run, frames []frameImage, dets []detect.Detection) ([]personGroup, int) {
	byFrame := make(map[int][]detect.Detection)
	for _, d := range dets {
		idx := 0
		if d.FrameIndex != nil {
			idx = *d.FrameIndex
		}
		byFrame[idx] = append(byFrame[idx], d)
	}

	var groups []personGroup
	total := 0
	for i, f := range frames {
		subs, skipped := region.ExtractAll(f.img, byFrame[i])
		if skipped > 0 {
			r.logger.Debug("dropped empty regions", zap.Int("frame", i), zap.Int("count", skipped))
		}

		group := personGroup{frame: f.index}
		for _, sub := range subs {
			data, err := sub.JPEG()
			if err != nil {
				r.logger.Warn("failed to encode person crop", zap.Int("frame", i), zap.Error(err))
				continue
			}
			group.crops = append(group.crops, data)
		}
		if len(group.crops) > 0 {
			groups = append(groups, group)
			total += len(group.crops)
		}
	}
	return groups, total
}

// describeReference describes the missing person. An answer that yields an error
// descriptor is described again with the fallback service, which degrades the stage.
func (o *Orchestrator) describeReference(ctx context.Context, r *run, describer descriptor.Service, image []byte) (descriptor.PersonDescriptor, error) {
	ref, err := describer.Describe(ctx, image)
	if err != nil {
		return ref, stageError(StageDescription, err)
	}
	if !ref.IsError() {
		return ref, nil
	}
	if o.deps.FallbackDescriptors == nil {
		return ref, fmt.Errorf("%s: %w: %s", StageDescription, ErrInvalidReference, ref.Error)
	}

	r.logger.Warn("reference description unusable, using fallback", zap.String("reason", ref.Error))
	r.markFallback(StageDescription)
	ref, err = o.deps.FallbackDescriptors.Describe(ctx, image)
	if err != nil {
		return ref, stageError(StageDescription, err)
	}
	if ref.IsError() {
		return ref, fmt.Errorf("%s: %w: %s", StageDescription, ErrInvalidReference, ref.Error)
	}
	return ref, nil
}

func (o *Orchestrator) describeAndScore(ctx context.Context, r *run, reference referenceInput, frames []frameImage, dets []detect.Detection) (*Outcome, error) {
	groups, count := o.groupCrops(r, frames, dets)
	r.outcome.DetectedCount = count

	if count == 0 {
		if o.opts.RequireDetections {
			return r.fail(ErrNoDetections)
		}
		return r.finish(constants.StatusNoPeopleDetected), nil
	}

	r.transition(StateDescribing)
	describer := o.describer(r)

	var ref descriptor.PersonDescriptor
	if reference.known != nil {
		ref = *reference.known
	} else {
		described, err := o.describeReference(ctx, r, describer, reference.image)
		if err != nil {
			return r.fail(err)
		}
		ref = described
	}
	r.outcome.Reference = &ref

	var candidates []descriptor.PersonDescriptor
	for _, g := range groups {
		descs, err := describer.DescribeMany(ctx, g.crops)
		if err != nil {
			return r.fail(stageError(StageDescription, err))
		}
		for _, d := range descs {
			candidates = append(candidates, d.WithFrame(g.frame))
		}
	}
	r.stageDone(StageDescription)

	r.transition(StateScoring)
	results, err := similarity.ScoreAll(ctx, o.deps.Scorer, ref, candidates, o.opts.Concurrency)
	if err != nil {
		return r.fail(stageError(StageScoring, err))
	}
	for _, res := range results {
		if res.Method == constants.MethodHeuristic {
			r.markFallback(StageScoring)
		}
	}
	r.stageDone(StageScoring)

	r.outcome.Results = results
	if len(results) == 0 {
		return r.finish(constants.StatusNoPeopleDetected), nil
	}
	return r.finish(constants.StatusCompleted), nil
}
