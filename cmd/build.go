package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/findandseek/internal/cases"
	"github.com/kozaktomas/findandseek/internal/config"
	"github.com/kozaktomas/findandseek/internal/database/postgres"
	"github.com/kozaktomas/findandseek/internal/descriptor"
	"github.com/kozaktomas/findandseek/internal/detect"
	"github.com/kozaktomas/findandseek/internal/pipeline"
	"github.com/kozaktomas/findandseek/internal/similarity"
	"github.com/kozaktomas/findandseek/internal/vision"
)

const providerNone = "none"

// newProvider creates the vision provider selected by name. "none" yields a nil provider.
func newProvider(ctx context.Context, cfg *config.Config, name string) (vision.Provider, error) {
	switch name {
	case providerNone, "":
		return nil, nil
	case "openai":
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN environment variable is required")
		}
		model := cfg.OpenAI.Model
		if model == "" {
			model = "gpt-4.1-mini"
		}
		pricing := cfg.GetModelPricing(model)
		return vision.NewOpenAIProvider(cfg.OpenAI.Token, model,
			vision.RequestPricing{Input: pricing.Standard.Input, Output: pricing.Standard.Output},
		), nil
	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
		pricing := cfg.GetModelPricing("gemini-2.5-flash")
		provider, err := vision.NewGeminiProvider(ctx, cfg.Gemini.APIKey,
			vision.RequestPricing{Input: pricing.Standard.Input, Output: pricing.Standard.Output},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini provider: %w", err)
		}
		return provider, nil
	case "ollama":
		return vision.NewOllamaProvider(cfg.Ollama.URL, cfg.Ollama.Model), nil
	case "llamacpp":
		provider, err := vision.NewLlamaCppProvider(cfg.LlamaCpp.URL, cfg.LlamaCpp.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp provider: %w", err)
		}
		return provider, nil
	}
	return nil, fmt.Errorf("unknown provider: %s (use openai, gemini, ollama, llamacpp or none)", name)
}

// newDetector creates the primary person detector. The returned close function is never nil.
func newDetector(cfg *config.Config, logger *zap.Logger) (detect.Detector, func() error, error) {
	noop := func() error { return nil }
	opts := detect.Options{
		Threshold:        cfg.Detector.Threshold,
		Padding:          cfg.Detector.Padding,
		OverlapThreshold: cfg.Detector.OverlapThreshold,
	}

	switch cfg.Detector.Backend {
	case providerNone, "":
		return nil, noop, nil
	case "sidecar":
		return detect.NewSidecarDetector(cfg.Detector.URL, opts), noop, nil
	case "opencv":
		d, err := detect.NewOpenCVDetector(cfg.Detector.ModelPath, cfg.Detector.ConfigPath, opts)
		if err != nil {
			// the synthetic detector still keeps the pipeline usable
			logger.Warn("opencv detector unavailable, using heuristic detection", zap.Error(err))
			return nil, noop, nil
		}
		return d, d.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown detector backend: %s (use sidecar, opencv or none)", cfg.Detector.Backend)
}

// components is everything the pipeline runs on.
type components struct {
	orchestrator *pipeline.Orchestrator
	detector     detect.Detector // nil when only the fallback detector runs
	providers    []vision.Provider
	close        func() error
}

// buildPipeline wires the configured backends and their heuristic fallbacks into an orchestrator.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	timeout := cfg.Pipeline.BackendTimeout
	weights := similarity.WeightsFromConfig(cfg.Scoring)

	describeProvider, err := newProvider(ctx, cfg, cfg.Pipeline.DescriptorProvider)
	if err != nil {
		return nil, err
	}
	scoreProvider := describeProvider
	if cfg.Pipeline.ScorerProvider != cfg.Pipeline.DescriptorProvider {
		if scoreProvider, err = newProvider(ctx, cfg, cfg.Pipeline.ScorerProvider); err != nil {
			return nil, err
		}
	}

	det, closeDetector, err := newDetector(cfg, logger)
	if err != nil {
		return nil, err
	}

	c := &components{detector: det, close: closeDetector}
	deps := pipeline.Dependencies{
		Detector:            det,
		FallbackDetector:    detect.NewFallbackDetector(cfg.Detector.Threshold),
		FallbackDescriptors: descriptor.NewHeuristicService(),
		Scorer:              similarity.NewHeuristicScorer(weights),
		Logger:              logger,
	}
	if describeProvider != nil {
		deps.Descriptors = descriptor.NewModelService(describeProvider, timeout, cfg.Pipeline.Concurrency, logger)
		c.providers = append(c.providers, describeProvider)
	}
	if scoreProvider != nil {
		deps.Scorer = similarity.NewModelScorer(scoreProvider, timeout, weights, logger)
		if scoreProvider != describeProvider {
			c.providers = append(c.providers, scoreProvider)
		}
	}

	c.orchestrator = pipeline.New(deps, pipeline.Options{
		Concurrency:       cfg.Pipeline.Concurrency,
		BackendTimeout:    timeout,
		RequireDetections: cfg.Pipeline.RequireDetections,
		MaxFrames:         cfg.Detector.MaxFrames,
	})

	logger.Info("pipeline ready",
		zap.String("detector", c.orchestrator.DetectorName()),
		zap.String("descriptor_provider", cfg.Pipeline.DescriptorProvider),
		zap.String("scorer", deps.Scorer.Method()),
		zap.Int("concurrency", cfg.Pipeline.Concurrency),
		zap.Duration("backend_timeout", timeout))
	return c, nil
}

// probeDetector logs whether the sidecar detector answers its health check.
func probeDetector(ctx context.Context, d detect.Detector, logger *zap.Logger) {
	sidecar, ok := d.(*detect.SidecarDetector)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sidecar.Health(ctx); err != nil {
		logger.Warn("detector sidecar not reachable, heuristic detection will be used until it is", zap.Error(err))
		return
	}
	logger.Info("detector sidecar healthy")
}

// openStore opens the configured case store.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cases.Store, error) {
	switch cfg.Cases.Backend {
	case "memory", "":
		logger.Info("using in-memory case store, cases are lost on restart")
		return cases.NewMemoryStore(), nil
	case "postgres":
		pool, err := postgres.Open(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		logger.Info("using PostgreSQL case store")
		return cases.NewPostgresStore(pool), nil
	case "redis":
		client, err := cases.OpenRedis(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		logger.Info("using Redis case store", zap.String("prefix", cfg.Redis.Prefix))
		return cases.NewRedisStore(client, cfg.Redis.Prefix), nil
	}
	return nil, fmt.Errorf("unknown cases backend: %s (use memory, postgres or redis)", cfg.Cases.Backend)
}

// printUsage prints token usage and cost of every model provider that was called.
func printUsage(providers []vision.Provider) {
	for _, p := range providers {
		usage := p.GetUsage()
		if usage.InputTokens == 0 && usage.OutputTokens == 0 {
			continue
		}
		fmt.Printf("\nToken usage (%s): %d input, %d output, $%.4f\n",
			p.Name(), usage.InputTokens, usage.OutputTokens, usage.TotalCost)
	}
}
