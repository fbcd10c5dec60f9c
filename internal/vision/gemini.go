package vision

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/kozaktomas/findandseek/internal/backend"
	"github.com/kozaktomas/findandseek/internal/imaging"
)

const geminiModel = "gemini-2.5-flash"

type GeminiProvider struct {
	usageTracker
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string, pricing RequestPricing) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		usageTracker: usageTracker{pricing: pricing},
		client:       client,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return geminiModel
}

func (p *GeminiProvider) MaxImages() int {
	return 16
}

func (p *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	if len(req.Images) > p.MaxImages() {
		return "", fmt.Errorf("too many images for %s: %d > %d", geminiModel, len(req.Images), p.MaxImages())
	}

	parts := []*genai.Part{{Text: req.Instructions + "\n\n" + req.Text}}
	for _, img := range req.Images {
		resized, err := imaging.ResizeImage(img, maxImageSize)
		if err != nil {
			return "", fmt.Errorf("failed to resize image: %w", err)
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: resized, MIMEType: "image/jpeg"}})
	}

	contents := []*genai.Content{{Role: "user", Parts: parts}}
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		MaxOutputTokens:  int32(maxTokens(req)),
	}

	var lastError error
	var lastResponse string

	for range maxRetries {
		result, err := p.client.Models.GenerateContent(ctx, geminiModel, contents, config)
		if err != nil {
			return "", backend.Unavailable(geminiModel, fmt.Errorf("gemini API error: %w", err))
		}

		// Track usage
		if result.UsageMetadata != nil {
			p.trackUsage(int64(result.UsageMetadata.PromptTokenCount), int64(result.UsageMetadata.CandidatesTokenCount))
		}

		content := result.Text()
		if content == "" {
			return "", &ParseError{Err: errors.New("empty response from Gemini")}
		}
		lastResponse = content

		if req.Validate == nil {
			return content, nil
		}
		if err := req.Validate(content); err != nil {
			lastError = err

			// Add model response and error feedback to contents for retry
			contents = append(contents,
				&genai.Content{
					Role:  "model",
					Parts: []*genai.Part{{Text: content}},
				},
				&genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: retryMessage(err)}},
				},
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
