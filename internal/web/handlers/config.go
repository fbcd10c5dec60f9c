package handlers

import (
	"net/http"

	"github.com/kozaktomas/findandseek/internal/config"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Providers          []ProviderInfo       `json:"providers"`
	DescriptorProvider string               `json:"descriptor_provider"`
	ScorerProvider     string               `json:"scorer_provider"`
	Detector           string               `json:"detector"`
	CasesBackend       string               `json:"cases_backend"`
	Threshold          float64              `json:"detection_threshold"`
	MaxFrames          int                  `json:"max_frames"`
	Concurrency        int                  `json:"concurrency"`
	BackendTimeoutSec  int                  `json:"backend_timeout_sec"`
	Scoring            config.ScoringConfig `json:"scoring"`
}

// ProviderInfo represents information about a vision provider
type ProviderInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Get returns the active pipeline configuration. Secrets are never included.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	providers := []ProviderInfo{
		{
			Name:      "openai",
			Available: h.config.OpenAI.Token != "",
		},
		{
			Name:      "gemini",
			Available: h.config.Gemini.APIKey != "",
		},
		{
			Name:      "ollama",
			Available: true, // probed lazily, failures fall back
		},
		{
			Name:      "llamacpp",
			Available: true,
		},
	}

	response := ConfigResponse{
		Providers:          providers,
		DescriptorProvider: h.config.Pipeline.DescriptorProvider,
		ScorerProvider:     h.config.Pipeline.ScorerProvider,
		Detector:           h.config.Detector.Backend,
		CasesBackend:       h.config.Cases.Backend,
		Threshold:          h.config.Detector.Threshold,
		MaxFrames:          h.config.Detector.MaxFrames,
		Concurrency:        h.config.Pipeline.Concurrency,
		BackendTimeoutSec:  int(h.config.Pipeline.BackendTimeout.Seconds()),
		Scoring:            h.config.Scoring,
	}

	respondJSON(w, http.StatusOK, response)
}
