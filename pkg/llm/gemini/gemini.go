// Package gemini implements llm.Client against the Google GenAI SDK.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"orchestrator/pkg/agent/llmerrors"
	"orchestrator/pkg/llm"
)

// Client wraps the Google GenAI client. The underlying *genai.Client is
// created lazily on first Complete because construction requires a context.
type Client struct {
	sdk    *genai.Client
	apiKey string
	model  string
}

// New creates a Gemini-backed client.
func New(apiKey, model string) *Client {
	return &Client{apiKey: apiKey, model: model}
}

func (c *Client) ModelName() string { return c.model }

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := req.Validate(); err != nil {
		return llm.Response{}, err
	}

	if c.sdk == nil {
		sdk, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: c.apiKey, Backend: genai.BackendGeminiAPI})
		if err != nil {
			return llm.Response{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "failed to create Gemini client")
		}
		c.sdk = sdk
	}

	var system string
	var contents []*genai.Content
	for _, m := range req.Transcript {
		if m.Role == llm.RoleSystem {
			system = m.Content
			continue
		}
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}
	if len(contents) == 0 {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "transcript has no user/assistant content")
	}

	temperature := req.Temperature
	//nolint:gosec // MaxTokens validated by Request.Validate.
	maxTokens := int32(req.MaxTokens)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: maxTokens,
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	result, err := c.sdk.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return llm.Response{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "Gemini API call failed")
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	text := result.Text()
	if text == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no text output from Gemini")
	}

	usage := llm.Usage{}
	if result.UsageMetadata != nil {
		usage.PromptTokens = int(result.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(result.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(result.UsageMetadata.TotalTokenCount)
	}

	return llm.Response{
		Content:      text,
		FinishReason: fmt.Sprintf("%v", result.Candidates[0].FinishReason),
		Model:        c.model,
		Usage:        usage,
	}, nil
}
