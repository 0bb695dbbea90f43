// Package orchconfig holds the process-wide configuration singleton for the
// orchestration core: model registry, resilience tuning, and the knobs owned
// by the Orchestrator, Agent Manager, Ralph Loop and Realtime Bus.
//
// Mirrors the separation-of-concerns/atomic-update discipline of
// orchestrator/pkg/config: a single *Config guarded by a mutex, loaded once
// via Load, read by value via Get, mutated only through UpdateRalph.
package orchconfig

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"orchestrator/pkg/logx"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// Model describes one LLM model entry in the registry.
type Model struct {
	Name            string  `yaml:"name" json:"name"`
	Provider        string  `yaml:"provider" json:"provider"`
	MaxTPM          int     `yaml:"max_tpm" json:"max_tpm"`
	MaxOutputTokens int     `yaml:"max_output_tokens" json:"max_output_tokens"`
	CostPerMillion  float64 `yaml:"cost_per_million" json:"cost_per_million"`
	DailyBudget     float64 `yaml:"daily_budget" json:"daily_budget"`
}

// RetryConfig mirrors llmerrors.RetryConfig for the top-level resilience section.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor"`
	Jitter        bool          `yaml:"jitter" json:"jitter"`
}

// CircuitBreakerConfig holds circuit-breaker tuning values; no circuit breaker
// in this module reads them.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold" json:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout" json:"timeout"`
}

// ResilienceConfig bundles retry/circuit-breaker tuning values. The LLM client
// factory does not read them: every provider is wrapped with
// llm.DefaultRetryPolicy.
type ResilienceConfig struct {
	Retry          RetryConfig          `yaml:"retry" json:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	RequestTimeout time.Duration        `yaml:"request_timeout" json:"request_timeout"`
}

// SessionConfig governs Session Store (C1) policy.
type SessionConfig struct {
	TTL                  time.Duration `yaml:"ttl" json:"ttl"`
	MaxMessagesPerSession int          `yaml:"max_messages_per_session" json:"max_messages_per_session"`
}

// AgentsConfig governs Agent Manager (C5) policy.
type AgentsConfig struct {
	MaxParallelAgents int               `yaml:"max_parallel_agents" json:"max_parallel_agents"`
	InboxCapacity     int               `yaml:"inbox_capacity" json:"inbox_capacity"`
	OutboxCapacity    int               `yaml:"outbox_capacity" json:"outbox_capacity"`
	RoleModels        map[string]string `yaml:"role_models" json:"role_models"`
	DefaultTaskTimeout time.Duration    `yaml:"default_task_timeout" json:"default_task_timeout"`
}

// QualityGateMode resolves the "quality-gate softness" open question.
type QualityGateMode string

const (
	QualityGateSoft   QualityGateMode = "soft"
	QualityGateStrict QualityGateMode = "strict"
)

// RalphConfig governs the Ralph Loop (C6).
type RalphConfig struct {
	MaxIterations       int             `yaml:"max_iterations" json:"max_iterations"`
	MaxRetriesPerStory  int             `yaml:"max_retries_per_story" json:"max_retries_per_story"`
	StoryTaskTimeout    time.Duration   `yaml:"story_task_timeout" json:"story_task_timeout"`
	QualityGateMode     QualityGateMode `yaml:"quality_gate_mode" json:"quality_gate_mode"`
	TestTimeout         time.Duration   `yaml:"test_timeout" json:"test_timeout"`
	LintTimeout         time.Duration   `yaml:"lint_timeout" json:"lint_timeout"`
	TypeCheckTimeout    time.Duration   `yaml:"typecheck_timeout" json:"typecheck_timeout"`
}

// RealtimeConfig governs the Realtime Bus (C2).
type RealtimeConfig struct {
	RingBufferSize int `yaml:"ring_buffer_size" json:"ring_buffer_size"`
}

// Config is the full process-wide configuration value.
type Config struct {
	Models     map[string]Model  `yaml:"models" json:"models"`
	Resilience ResilienceConfig  `yaml:"resilience" json:"resilience"`
	Session    SessionConfig     `yaml:"session" json:"session"`
	Agents     AgentsConfig      `yaml:"agents" json:"agents"`
	Ralph      RalphConfig       `yaml:"ralph" json:"ralph"`
	Realtime   RealtimeConfig    `yaml:"realtime" json:"realtime"`
	DBPath     string            `yaml:"db_path" json:"db_path"`
	WorkDir    string            `yaml:"work_dir" json:"work_dir"`
}

//nolint:gochecknoglobals // Intentional singleton pattern, mirrors orchestrator/pkg/config.
var (
	current *Config
	mu      sync.RWMutex
	log     = logx.NewLogger("orchconfig")
)

// Default returns a Config populated with the defaults documented in spec.md
// §2/§5/§9 (session TTL, max 100 messages, 8 parallel agents, soft quality gate).
func Default() *Config {
	return &Config{
		Models: map[string]Model{
			"claude-sonnet-4": {Name: "claude-sonnet-4", Provider: ProviderAnthropic, MaxTPM: 3000000, MaxOutputTokens: 8192, CostPerMillion: 3.0, DailyBudget: 10.0},
			"gpt-5":           {Name: "gpt-5", Provider: ProviderOpenAI, MaxTPM: 150000, MaxOutputTokens: 16384, CostPerMillion: 30.0, DailyBudget: 100.0},
			"gemini-2.5-pro":  {Name: "gemini-2.5-pro", Provider: ProviderGemini, MaxTPM: 200000, MaxOutputTokens: 8192, CostPerMillion: 5.0, DailyBudget: 20.0},
			"llama3":          {Name: "llama3", Provider: ProviderOllama, MaxTPM: 0, MaxOutputTokens: 4096, CostPerMillion: 0, DailyBudget: 0},
		},
		Resilience: ResilienceConfig{
			Retry: RetryConfig{
				MaxAttempts:   3,
				InitialDelay:  1 * time.Second,
				MaxDelay:      30 * time.Second,
				BackoffFactor: 2.0,
				Jitter:        true,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			RequestTimeout: 180 * time.Second,
		},
		Session: SessionConfig{
			TTL:                   24 * time.Hour,
			MaxMessagesPerSession: 100,
		},
		Agents: AgentsConfig{
			MaxParallelAgents: 8,
			InboxCapacity:     32,
			OutboxCapacity:    32,
			RoleModels: map[string]string{
				"research":     "claude-sonnet-4",
				"verify":       "claude-sonnet-4",
				"code":         "gpt-5",
				"synthesis":    "claude-sonnet-4",
				"review":       "claude-sonnet-4",
				"orchestrator": "claude-sonnet-4",
			},
			DefaultTaskTimeout: 300 * time.Second,
		},
		Ralph: RalphConfig{
			MaxIterations:      50,
			MaxRetriesPerStory: 3,
			StoryTaskTimeout:   300 * time.Second,
			QualityGateMode:    QualityGateSoft,
			TestTimeout:        60 * time.Second,
			LintTimeout:        30 * time.Second,
			TypeCheckTimeout:   60 * time.Second,
		},
		Realtime: RealtimeConfig{
			RingBufferSize: 50,
		},
		DBPath:  "orchestrator.db",
		WorkDir: ".",
	}
}

// Load reads a YAML config file over the defaults; a missing file is not an
// error (defaults apply). Safe to call once at startup.
func Load(path string) error {
	mu.Lock()
	defer mu.Unlock()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				log.Warn("config file %s not found, using defaults", path)
				current = cfg
				return nil
			}
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	current = cfg
	log.Info("config loaded (models=%d, max_parallel_agents=%d)", len(cfg.Models), cfg.Agents.MaxParallelAgents)
	return nil
}

// Get returns a copy of the current configuration. Initializes to defaults
// on first use if Load was never called.
func Get() Config {
	mu.RLock()
	if current != nil {
		c := *current
		mu.RUnlock()
		return c
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = Default()
	}
	return *current
}

// ModelFor returns the registry entry for a role. It returns an error if the
// role has no mapping or maps to a model missing from the registry.
func ModelFor(role string) (Model, error) {
	cfg := Get()
	name, ok := cfg.Agents.RoleModels[role]
	if !ok {
		return Model{}, fmt.Errorf("no model mapped for role %q", role)
	}
	model, ok := cfg.Models[name]
	if !ok {
		return Model{}, fmt.Errorf("role %q maps to unknown model %q", role, name)
	}
	return model, nil
}

// UpdateRalph atomically replaces the Ralph section of the config.
func UpdateRalph(r RalphConfig) {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = Default()
	}
	current.Ralph = r
}
