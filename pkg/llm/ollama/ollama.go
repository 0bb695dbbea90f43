// Package ollama implements llm.Client against a local Ollama runtime.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"orchestrator/pkg/agent/llmerrors"
	"orchestrator/pkg/llm"
)

// Client wraps the Ollama HTTP API client.
type Client struct {
	sdk     *api.Client
	model   string
	hostURL string
}

// New creates an Ollama-backed client pointed at hostURL (e.g. http://localhost:11434).
func New(hostURL, model string) *Client {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	return &Client{sdk: api.NewClient(parsed, http.DefaultClient), model: model, hostURL: hostURL}
}

func (c *Client) ModelName() string { return c.model }

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if err := req.Validate(); err != nil {
		return llm.Response{}, err
	}

	messages := make([]api.Message, 0, len(req.Transcript))
	for _, m := range req.Transcript {
		messages = append(messages, api.Message{Role: string(m.Role), Content: m.Content})
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	var resp api.ChatResponse
	err := c.sdk.Chat(ctx, chatReq, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if resp.Message.Content == "" {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Ollama")
	}

	return llm.Response{
		Content: resp.Message.Content,
		Model:   c.model,
		Usage: llm.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}

func classifyError(err error) *llmerrors.Error {
	errStr := err.Error()
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, fmt.Sprintf("ollama request failed: %s", errStr))
}
