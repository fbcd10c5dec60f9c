package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kozaktomas/findandseek/internal/backend"
	"github.com/kozaktomas/findandseek/internal/imaging"
)

const (
	defaultLlamaCppURL   = "http://localhost:8080"
	defaultLlamaCppModel = "llava"
)

// LlamaCppProvider implements Provider using a llama.cpp server.
type LlamaCppProvider struct {
	usageTracker
	parsedURL *url.URL
	model     string
	client    *http.Client
}

// NewLlamaCppProvider creates a new llama.cpp provider with the given config.
func NewLlamaCppProvider(baseURL, model string) (*LlamaCppProvider, error) {
	if baseURL == "" {
		baseURL = defaultLlamaCppURL
	}
	if model == "" {
		model = defaultLlamaCppModel
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid llama.cpp URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid llama.cpp URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Host == "" {
		return nil, errors.New("invalid llama.cpp URL: missing host")
	}
	return &LlamaCppProvider{
		parsedURL: parsed,
		model:     model,
		client:    &http.Client{},
	}, nil
}

// Name returns the provider name.
func (p *LlamaCppProvider) Name() string {
	return p.model
}

// MaxImages returns 1; llava style models take a single image per prompt.
func (p *LlamaCppProvider) MaxImages() int {
	return 1
}

// llamaCppRequest represents a request to the llama.cpp OpenAI-compatible API.
type llamaCppRequest struct {
	Model       string            `json:"model"`
	Messages    []llamaCppMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Stream      bool              `json:"stream"`
}

type llamaCppMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []llamaCppContentPart
}

type llamaCppContentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *llamaCppImageURL `json:"image_url,omitempty"`
}

type llamaCppImageURL struct {
	URL string `json:"url"`
}

type llamaCppResponse struct {
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends the request to llama.cpp, retrying with parse feedback while Validate fails.
func (p *LlamaCppProvider) Complete(ctx context.Context, req Request) (string, error) {
	if len(req.Images) > p.MaxImages() {
		return "", fmt.Errorf("too many images for %s: %d > %d", p.model, len(req.Images), p.MaxImages())
	}

	parts := []llamaCppContentPart{{Type: "text", Text: req.Text}}
	for _, img := range req.Images {
		resized, err := imaging.ResizeImage(img, maxImageSize)
		if err != nil {
			return "", fmt.Errorf("failed to resize image: %w", err)
		}
		imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(resized)
		parts = append(parts, llamaCppContentPart{Type: "image_url", ImageURL: &llamaCppImageURL{URL: imageURL}})
	}

	messages := []llamaCppMessage{
		{Role: "system", Content: req.Instructions},
		{Role: "user", Content: parts},
	}

	var lastError error
	var lastResponse string

	for range maxRetries {
		resp, err := p.sendRequest(ctx, messages, maxTokens(req))
		if err != nil {
			return "", backend.Unavailable(p.model, fmt.Errorf("llama.cpp API error: %w", err))
		}

		p.trackUsage(int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))

		if len(resp.Choices) == 0 {
			return "", &ParseError{Err: errors.New("no response from llama.cpp")}
		}

		content := resp.Choices[0].Message.Content
		lastResponse = content

		if req.Validate == nil {
			return content, nil
		}
		if err := req.Validate(content); err != nil {
			lastError = err
			messages = append(messages,
				llamaCppMessage{Role: "assistant", Content: content},
				llamaCppMessage{Role: "user", Content: retryMessage(err)},
			)
			continue
		}

		return content, nil
	}

	return lastResponse, &ParseError{
		Raw: lastResponse,
		Err: fmt.Errorf("invalid JSON after %d attempts: %w", maxRetries, parseCause(lastError)),
	}
}

func (p *LlamaCppProvider) sendRequest(ctx context.Context, messages []llamaCppMessage, maxTokens int) (*llamaCppResponse, error) {
	reqBody := llamaCppRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: 0.1,
		Stream:      false,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqURL := p.parsedURL.JoinPath("/v1/chat/completions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var llamaResp llamaCppResponse
	if err := json.Unmarshal(body, &llamaResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &llamaResp, nil
}
