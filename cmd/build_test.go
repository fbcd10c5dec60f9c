package cmd

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/findandseek/internal/config"
	"github.com/kozaktomas/findandseek/internal/constants"
)

func heuristicConfig(t *testing.T) *config.Config {
	t.Helper()
	scoring, err := config.LoadScoring("")
	if err != nil {
		t.Fatalf("LoadScoring: %v", err)
	}
	return &config.Config{
		Detector: config.DetectorConfig{
			Backend:   "none",
			Threshold: 0.3,
			MaxFrames: 50,
		},
		Pipeline: config.PipelineConfig{
			DescriptorProvider: "none",
			ScorerProvider:     "none",
			Concurrency:        2,
			BackendTimeout:     time.Second,
		},
		Cases:   config.CasesConfig{Backend: "memory"},
		Scoring: scoring,
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantNil  bool
		wantErr  bool
	}{
		{"none", "none", true, false},
		{"empty", "", true, false},
		{"openai without token", "openai", false, true},
		{"gemini without key", "gemini", false, true},
		{"ollama", "ollama", false, false},
		{"llamacpp", "llamacpp", false, false},
		{"unknown", "claude", false, true},
	}

	cfg := &config.Config{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newProvider(context.Background(), cfg, tt.provider)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newProvider(%q) error = %v, wantErr %v", tt.provider, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (p == nil) != tt.wantNil {
				t.Errorf("newProvider(%q) = %v, want nil %v", tt.provider, p, tt.wantNil)
			}
		})
	}
}

func TestNewDetector(t *testing.T) {
	cfg := heuristicConfig(t)

	d, closeFn, err := newDetector(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("newDetector(none): %v", err)
	}
	if d != nil {
		t.Errorf("expected no primary detector, got %s", d.Name())
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}

	cfg.Detector.Backend = "sidecar"
	d, _, err = newDetector(cfg, zap.NewNop())
	if err != nil || d == nil {
		t.Fatalf("newDetector(sidecar) = %v, %v", d, err)
	}

	cfg.Detector.Backend = "yolo"
	if _, _, err := newDetector(cfg, zap.NewNop()); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestBuildPipeline_HeuristicOnly(t *testing.T) {
	cfg := heuristicConfig(t)

	comps, err := buildPipeline(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("buildPipeline: %v", err)
	}
	defer comps.close()

	if len(comps.providers) != 0 {
		t.Errorf("expected no model providers, got %d", len(comps.providers))
	}
	if got := comps.orchestrator.DetectorName(); got != "none" {
		t.Errorf("DetectorName() = %q, want none", got)
	}

	img := image.NewRGBA(image.Rect(0, 0, 60, 120))
	for y := range 120 {
		for x := range 60 {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := comps.orchestrator.AnalyzeAndCompare(context.Background(), buf.Bytes(), buf.Bytes())
	if err != nil {
		t.Fatalf("AnalyzeAndCompare: %v", err)
	}
	if out.Method != constants.MethodHeuristic {
		t.Errorf("Method = %q, want %q", out.Method, constants.MethodHeuristic)
	}
	if out.DetectedCount != 1 {
		t.Errorf("DetectedCount = %d, want 1", out.DetectedCount)
	}
}

func TestBuildPipeline_UnknownProvider(t *testing.T) {
	cfg := heuristicConfig(t)
	cfg.Pipeline.DescriptorProvider = "bogus"
	cfg.Pipeline.ScorerProvider = "bogus"

	if _, err := buildPipeline(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestOpenStore(t *testing.T) {
	cfg := heuristicConfig(t)

	store, err := openStore(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("openStore(memory): %v", err)
	}
	store.Close()

	cfg.Cases.Backend = "postgres"
	if _, err := openStore(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("expected error for postgres without DATABASE_URL")
	}

	cfg.Cases.Backend = "mongo"
	if _, err := openStore(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("expected error for unknown backend")
	}
}
