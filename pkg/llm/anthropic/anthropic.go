// Package anthropic implements llm.Client against the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"orchestrator/pkg/agent/llmerrors"
	"orchestrator/pkg/llm"
)

// Client wraps the Anthropic SDK client to implement llm.Client.
type Client struct {
	sdk   anthropic.Client
	model string
}

// New creates an Anthropic-backed client. Retries are handled by
// llm.WithRetry at a higher layer, so the SDK's own retry is disabled.
func New(apiKey, model string) *Client {
	return &Client{
		sdk:   anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model: model,
	}
}

func (c *Client) ModelName() string { return c.model }

// ensureAlternation extracts system messages into a top-level prompt and
// merges consecutive non-assistant turns so the transcript satisfies
// Anthropic's strict user/assistant alternation requirement.
func ensureAlternation(transcript []llm.Message) (system string, alternating []llm.Message, err error) {
	if len(transcript) == 0 {
		return "", nil, fmt.Errorf("transcript must not be empty")
	}

	var systemParts []string
	var rest []llm.Message
	for _, m := range transcript {
		if m.Role == llm.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	system = strings.Join(systemParts, "\n\n")
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("transcript must have at least one non-system message")
	}

	var merged []llm.Message
	var userParts []string
	flush := func() {
		if len(userParts) > 0 {
			merged = append(merged, llm.Message{Role: llm.RoleUser, Content: strings.Join(userParts, "\n\n")})
			userParts = nil
		}
	}
	for _, m := range rest {
		if m.Role == llm.RoleAssistant {
			flush()
			merged = append(merged, m)
			continue
		}
		if m.Content != "" {
			userParts = append(userParts, m.Content)
		}
	}
	flush()

	if merged[0].Role != llm.RoleUser {
		return "", nil, fmt.Errorf("first message must be user role after merge")
	}
	if merged[len(merged)-1].Role != llm.RoleUser {
		merged = append(merged, llm.Message{Role: llm.RoleUser, Content: "(continue)"})
	}
	for i := 1; i < len(merged); i++ {
		if merged[i].Role == merged[i-1].Role {
			return "", nil, fmt.Errorf("alternation violation at index %d", i)
		}
	}
	return system, merged, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := req.Validate(); err != nil {
		return llm.Response{}, err
	}

	system, turns, err := ensureAlternation(req.Transcript)
	if err != nil {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, err.Error())
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == llm.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		Messages:    messages,
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system, Type: "text"}}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Anthropic")
	}

	var text string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			text += resp.Content[i].AsText().Text
		}
	}

	return llm.Response{
		Content:      text,
		FinishReason: string(resp.StopReason),
		Model:        c.model,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

// classifyError maps Anthropic SDK errors onto llmerrors.ErrorType by status
// code substring, mirroring the transient/permanent split of spec.md §7.
func classifyError(err error) *llmerrors.Error {
	errStr := err.Error()
	status := extractStatusCode(errStr)

	switch {
	case status == 429:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, status, errStr)
	case status >= 500 && status < 600:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, status, errStr)
	case status == 401 || status == 403:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, status, errStr)
	case status >= 400 && status < 500:
		return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, status, errStr)
	case strings.Contains(strings.ToLower(errStr), "timeout") ||
		strings.Contains(strings.ToLower(errStr), "connection reset") ||
		strings.Contains(strings.ToLower(errStr), "eof"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, errStr)
	default:
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, errStr)
	}
}

func extractStatusCode(errStr string) int {
	for _, code := range []string{"400", "401", "403", "404", "429", "500", "502", "503", "504"} {
		if strings.Contains(errStr, code) {
			n, _ := strconv.Atoi(code)
			return n
		}
	}
	return 0
}
