// Package vision talks to vision-capable language models (OpenAI, Gemini,
// Ollama, llama.cpp) and turns their free-text answers into JSON.
package vision

import (
	"context"
	"sync"
)

// Provider defines the interface for vision model backends.
// Implementations are safe for concurrent use.
type Provider interface {
	Name() string
	// MaxImages is the number of images a single request may carry.
	MaxImages() int
	// Complete sends the request and returns the model's answer. When req.Validate
	// keeps rejecting the answer, the last answer is returned with a *ParseError.
	// Transport failures are reported as backend.ErrUnavailable.
	Complete(ctx context.Context, req Request) (string, error)

	// Usage tracking.
	GetUsage() Usage
	ResetUsage()
}

// Request is one prompt for a vision model.
type Request struct {
	Instructions string   // system prompt
	Text         string   // user message
	Images       [][]byte // encoded images, resized before sending
	MaxTokens    int
	// Validate checks an answer; a non-nil error is fed back to the model for another attempt.
	Validate func(content string) error
}

// Usage tracks token usage and calculates cost.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalCost    float64 `json:"total_cost"` // in USD
}

// RequestPricing holds input/output prices per 1M tokens
type RequestPricing struct {
	Input  float64
	Output float64
}

// usageTracker is embedded by providers to account tokens from concurrent requests.
type usageTracker struct {
	mu      sync.Mutex
	usage   Usage
	pricing RequestPricing
}

func (t *usageTracker) trackUsage(inputTokens, outputTokens int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.InputTokens += int(inputTokens)
	t.usage.OutputTokens += int(outputTokens)
	t.usage.TotalCost += float64(inputTokens) / 1_000_000 * t.pricing.Input
	t.usage.TotalCost += float64(outputTokens) / 1_000_000 * t.pricing.Output
}

func (t *usageTracker) GetUsage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

func (t *usageTracker) ResetUsage() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = Usage{}
}

const (
	maxRetries       = 3
	defaultMaxTokens = 800
	maxImageSize     = 800
)

func maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}

// retryMessage is sent back to the model after an answer failed validation.
func retryMessage(err error) string {
	return "JSON parse error: " + err.Error() + ". Please fix the JSON and try again." +
		" Remember to escape quotes inside strings with backslash." +
		" Output ONLY valid JSON, no other text."
}
