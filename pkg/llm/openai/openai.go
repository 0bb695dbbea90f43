// Package openai implements llm.Client against the official OpenAI Go SDK's
// Responses API.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"orchestrator/pkg/agent/llmerrors"
	"orchestrator/pkg/llm"
)

// Client wraps the official OpenAI client.
type Client struct {
	sdk   openai.Client
	model string
}

// New creates an OpenAI Responses-API-backed client.
func New(apiKey, model string) *Client {
	return &Client{sdk: openai.NewClient(option.WithAPIKey(apiKey)), model: model}
}

func (c *Client) ModelName() string { return c.model }

// Complete implements llm.Client by concatenating the transcript into a
// single role-labelled input string for the Responses API.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := req.Validate(); err != nil {
		return llm.Response{}, err
	}

	var input strings.Builder
	for _, m := range req.Transcript {
		switch m.Role {
		case llm.RoleSystem:
			fmt.Fprintf(&input, "System: %s\n\n", m.Content)
		case llm.RoleAssistant:
			fmt.Fprintf(&input, "Assistant: %s\n\n", m.Content)
		default:
			fmt.Fprintf(&input, "User: %s\n\n", m.Content)
		}
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(int64(req.MaxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(input.String())},
	}

	resp, err := c.sdk.Responses.New(ctx, params)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if resp == nil {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	content := resp.OutputText()
	if content == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no text output from OpenAI Responses API")
	}

	return llm.Response{
		Content: content,
		Model:   c.model,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func classifyError(err error) *llmerrors.Error {
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "429"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, err.Error())
	case strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, err.Error())
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "404"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, err.Error())
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "timeout"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, err.Error())
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, err.Error())
	}
}
