// Package llmfactory selects and constructs a provider-backed llm.Client.
// It is split out from pkg/llm (the teacher's own pkg/agent/llm-vs-pkg/agent
// split) so the interface package stays a leaf: pkg/llm/anthropic,
// .../openai, .../gemini, and .../ollama all import orchestrator/pkg/llm for
// the Client/Request/Response types, so orchestrator/pkg/llm itself cannot
// import them back without an import cycle.
package llmfactory

import (
	"fmt"
	"os"

	"orchestrator/pkg/llm"
	"orchestrator/pkg/llm/anthropic"
	"orchestrator/pkg/llm/gemini"
	"orchestrator/pkg/llm/ollama"
	"orchestrator/pkg/llm/openai"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/orchconfig"
)

// New selects a provider backend by orchconfig.Model.Provider and wraps it
// with the shared retry middleware, per spec.md §4.3 ("selection is
// config-driven and invisible to callers").
func New(model orchconfig.Model) (llm.Client, error) {
	var client llm.Client
	switch model.Provider {
	case orchconfig.ProviderAnthropic:
		client = anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), model.Name)
	case orchconfig.ProviderOpenAI:
		client = openai.New(os.Getenv("OPENAI_API_KEY"), model.Name)
	case orchconfig.ProviderGemini:
		client = gemini.New(os.Getenv("GEMINI_API_KEY"), model.Name)
	case orchconfig.ProviderOllama:
		host := os.Getenv("OLLAMA_HOST")
		if host == "" {
			host = "http://localhost:11434"
		}
		client = ollama.New(host, model.Name)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q for model %q", model.Provider, model.Name)
	}

	logger := logx.NewLogger(fmt.Sprintf("llm.%s", model.Provider))
	return llm.WithRetry(client, llm.DefaultRetryPolicy, logger), nil
}
