package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/kozaktomas/findandseek/internal/backend"
	"github.com/kozaktomas/findandseek/internal/imaging"
)

const defaultOpenAIModel = openai.ChatModelGPT4_1Mini

type OpenAIProvider struct {
	usageTracker
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates an OpenAI provider. Extra request options (e.g. a base URL)
// are passed to the client.
func NewOpenAIProvider(apiKey, model string, pricing RequestPricing, opts ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = defaultOpenAIModel
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIProvider{
		usageTracker: usageTracker{pricing: pricing},
		client:       &client,
		model:        model,
	}
}

func (p *OpenAIProvider) Name() string {
	return p.model
}

func (p *OpenAIProvider) MaxImages() int {
	return 10
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	if len(req.Images) > p.MaxImages() {
		return "", fmt.Errorf("too many images for %s: %d > %d", p.model, len(req.Images), p.MaxImages())
	}

	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.Text)}
	for _, img := range req.Images {
		// Resize image to max 800px to save costs
		resized, err := imaging.ResizeImage(img, maxImageSize)
		if err != nil {
			return "", fmt.Errorf("failed to resize image: %w", err)
		}
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(resized),
			Detail: "low",
		}))
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(req.Instructions),
				},
			},
		},
		{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: parts,
				},
			},
		},
	}

	var lastError error
	var lastResponse string

	for range maxRetries {
		resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:    p.model,
			Messages: messages,
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
			MaxTokens: openai.Int(int64(maxTokens(req))),
		})
		if err != nil {
			return "", backend.Unavailable(p.model, fmt.Errorf("OpenAI API error: %w", err))
		}

		if len(resp.Choices) == 0 {
			return "", &ParseError{Err: errors.New("no response from OpenAI")}
		}

		// Track usage
		if resp.Usage.PromptTokens > 0 || resp.Usage.CompletionTokens > 0 {
			p.trackUsage(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}

		content := resp.Choices[0].Message.Content
		lastResponse = content

		if req.Validate == nil {
			return content, nil
		}
		if err := req.Validate(content); err != nil {
			lastError = err

			// Add assistant response and error feedback to messages for retry
			messages = append(messages,
				openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						Content: openai.ChatCompletionAssistantMessageParamContentUnion{
							OfString: openai.String(content),
						},
					},
				},
				openai.ChatCompletionMessageParamUnion{
					OfUser: &openai.ChatCompletionUserMessageParam{
						Content: openai.ChatCompletionUserMessageParamContentUnion{
							OfString: openai.String(retryMessage(err)),
						},
					},
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
