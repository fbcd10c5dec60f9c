package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/findandseek/internal/constants"
)

//go:embed prices.yaml
var pricesYAML []byte

//go:embed scoring.yaml
var scoringYAML []byte

type Config struct {
	OpenAI   OpenAIConfig
	Gemini   GeminiConfig
	Ollama   OllamaConfig
	LlamaCpp LlamaCppConfig
	Detector DetectorConfig
	Pipeline PipelineConfig
	Cases    CasesConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
	Web      WebConfig
	Prices   PricesConfig
	Scoring  ScoringConfig
}

type OpenAIConfig struct {
	Token string
	Model string // defaults to gpt-4.1-mini
}

type GeminiConfig struct {
	APIKey string
}

type OllamaConfig struct {
	URL   string // defaults to http://localhost:11434
	Model string // defaults to llama3.2-vision:11b
}

type LlamaCppConfig struct {
	URL   string // defaults to http://localhost:8080
	Model string // defaults to llava
}

// DetectorConfig selects and tunes the person detector.
type DetectorConfig struct {
	Backend          string  // sidecar, opencv or none
	URL              string  // sidecar base URL, defaults to http://localhost:8000
	ModelPath        string  // OpenCV DNN weights (e.g. frozen_inference_graph.pb)
	ConfigPath       string  // OpenCV DNN graph config (e.g. ssd_mobilenet_v2_coco.pbtxt)
	Threshold        float64 // minimum confidence, exclusive
	Padding          float64 // padding ratio per side
	OverlapThreshold float64 // IoU above which duplicates are suppressed
	MaxFrames        int
}

// PipelineConfig controls backend selection and resource bounds of the matching pipeline.
type PipelineConfig struct {
	DescriptorProvider string // openai, gemini, ollama, llamacpp or none
	ScorerProvider     string // same choices, defaults to DescriptorProvider
	Concurrency        int
	BackendTimeout     time.Duration
	RequireDetections  bool
}

// CasesConfig selects the case store backend.
type CasesConfig struct {
	Backend string // memory, postgres or redis
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type RedisConfig struct {
	URL    string // redis://host:6379/0
	Prefix string // key prefix, defaults to findandseek
}

type WebConfig struct {
	AllowedOrigins []string // CORS origins besides localhost
}

type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

type PricesConfig struct {
	Models map[string]ModelPricing `yaml:"models"`
}

type ModelPricing struct {
	Standard RequestPricing `yaml:"standard"`
	Batch    RequestPricing `yaml:"batch"`
}

type RequestPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// ScoringConfig holds the heuristic similarity weights.
type ScoringConfig struct {
	Base           float64 `yaml:"base"`
	Gender         float64 `yaml:"gender"`
	Ethnicity      float64 `yaml:"ethnicity"`
	UpperClothing  float64 `yaml:"upper_clothing"`
	LowerClothing  float64 `yaml:"lower_clothing"`
	MatchThreshold float64 `yaml:"match_threshold"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float in [0, 1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated environment variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	var prices PricesConfig
	if err := yaml.Unmarshal(pricesYAML, &prices); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded prices.yaml: " + err.Error())
	}

	scoring, err := LoadScoring(os.Getenv("SCORING_CONFIG"))
	if err != nil {
		panic(err.Error())
	}

	descriptorProvider := envString("DESCRIPTOR_PROVIDER", "openai")

	return &Config{
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
			Model: os.Getenv("OPENAI_MODEL"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Ollama: OllamaConfig{
			URL:   os.Getenv("OLLAMA_URL"),
			Model: os.Getenv("OLLAMA_MODEL"),
		},
		LlamaCpp: LlamaCppConfig{
			URL:   os.Getenv("LLAMACPP_URL"),
			Model: os.Getenv("LLAMACPP_MODEL"),
		},
		Detector: DetectorConfig{
			Backend:          envString("DETECTOR_BACKEND", "sidecar"),
			URL:              os.Getenv("DETECTOR_URL"),
			ModelPath:        os.Getenv("DETECTOR_MODEL_PATH"),
			ConfigPath:       os.Getenv("DETECTOR_CONFIG_PATH"),
			Threshold:        envFloat("DETECTOR_THRESHOLD", 0.3),
			Padding:          envFloat("DETECTOR_PADDING", 0.1),
			OverlapThreshold: envFloat("DETECTOR_OVERLAP", 0.7),
			MaxFrames:        envInt("MAX_FRAMES", 50),
		},
		Pipeline: PipelineConfig{
			DescriptorProvider: descriptorProvider,
			ScorerProvider:     envString("SCORER_PROVIDER", descriptorProvider),
			Concurrency:        envInt("PIPELINE_CONCURRENCY", constants.DefaultConcurrency),
			BackendTimeout:     time.Duration(envInt("BACKEND_TIMEOUT_SEC", 30)) * time.Second,
			RequireDetections:  envBool("REQUIRE_DETECTIONS"),
		},
		Cases: CasesConfig{
			Backend: envString("CASES_BACKEND", "memory"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:    os.Getenv("REDIS_URL"),
			Prefix: envString("REDIS_PREFIX", "findandseek"),
		},
		Logging: LoggingConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
		Web: WebConfig{
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Prices:  prices,
		Scoring: scoring,
	}
}

// LoadScoring returns the embedded heuristic weights, overlaid with the YAML file at path when set.
// Keys missing from the override keep their embedded values.
func LoadScoring(path string) (ScoringConfig, error) {
	var scoring ScoringConfig
	if err := yaml.Unmarshal(scoringYAML, &scoring); err != nil {
		return ScoringConfig{}, fmt.Errorf("failed to unmarshal embedded scoring.yaml: %w", err)
	}
	if path == "" {
		return scoring, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ScoringConfig{}, fmt.Errorf("failed to read scoring config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &scoring); err != nil {
		return ScoringConfig{}, fmt.Errorf("failed to parse scoring config %s: %w", path, err)
	}
	return scoring, nil
}

// GetModelPricing returns pricing for a specific model, with fallback defaults
func (c *Config) GetModelPricing(modelName string) ModelPricing {
	if pricing, ok := c.Prices.Models[modelName]; ok {
		return pricing
	}
	// Return zero pricing if model not found
	return ModelPricing{}
}
