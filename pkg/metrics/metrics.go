// Package metrics provides process-local Prometheus instrumentation for the
// orchestration core: LLM token usage, Ralph iteration counts, and Agent
// Manager queue depth.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LLMTokensTotal counts tokens consumed per model and token type (prompt/completion).
//
//nolint:gochecknoglobals // Prometheus collectors are process-wide by convention.
var LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "llm_tokens_total",
	Help: "Total LLM tokens consumed, labeled by model and token type.",
}, []string{"model", "type"})

// LLMRequestDuration records LLM completion latency per model.
//
//nolint:gochecknoglobals
var LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "llm_request_duration_seconds",
	Help:    "LLM completion request latency in seconds.",
	Buckets: prometheus.DefBuckets,
}, []string{"model"})

// LLMRequestErrors counts classified LLM errors by type.
//
//nolint:gochecknoglobals
var LLMRequestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "llm_request_errors_total",
	Help: "LLM request errors, labeled by classified error type.",
}, []string{"error_type"})

// RalphIterations counts Ralph Loop iterations by outcome (completed, retried, failed).
//
//nolint:gochecknoglobals
var RalphIterations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ralph_iterations_total",
	Help: "Ralph Loop story iterations, labeled by outcome.",
}, []string{"outcome"})

// RalphStoryAttempts records the number of attempts a story took before terminating.
//
//nolint:gochecknoglobals
var RalphStoryAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "ralph_story_attempts",
	Help:    "Number of attempts a story took before reaching a terminal state.",
	Buckets: []float64{1, 2, 3, 4, 5, 8},
})

// AgentManagerQueueDepth reports current inbox/outbox depth per agent, sampled on send/receive.
//
//nolint:gochecknoglobals
var AgentManagerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "agent_manager_queue_depth",
	Help: "Current depth of an agent's inbox or outbox.",
}, []string{"agent_id", "queue"})

// AgentManagerActiveAgents reports the number of non-terminated agents.
//
//nolint:gochecknoglobals
var AgentManagerActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "agent_manager_active_agents",
	Help: "Number of agents currently registered and not terminated.",
})

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
