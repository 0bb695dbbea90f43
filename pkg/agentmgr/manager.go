package agentmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"orchestrator/pkg/llm"
	"orchestrator/pkg/llmfactory"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/memory"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/orchconfig"
	"orchestrator/pkg/realtime"
)

// llmFactory resolves the Client for a role, indirected so tests can inject
// a fake without touching orchconfig/env.
type llmFactory func(role Role) (llm.Client, error)

// Manager is the C5 singleton: agent registry, router goroutine, and the
// bounded inbox/outbox discipline of spec.md §4.5/§5.
type Manager struct {
	mu     sync.RWMutex
	agents map[string]*Agent

	cfg       orchconfig.AgentsConfig
	newClient llmFactory
	memClient *memory.Client
	bus       *realtime.Bus
	logger    *logx.Logger

	routerCancel context.CancelFunc
	routerDone   chan struct{}
}

// New constructs a Manager. memClient/bus may be nil in tests that don't
// need diary writes or bus broadcasts.
func New(cfg orchconfig.AgentsConfig, memClient *memory.Client, bus *realtime.Bus) *Manager {
	return &Manager{
		agents: make(map[string]*Agent),
		cfg:    cfg,
		newClient: func(role Role) (llm.Client, error) {
			model, err := orchconfig.ModelFor(string(role))
			if err != nil {
				return nil, err
			}
			return llmfactory.New(model)
		},
		memClient: memClient,
		bus:       bus,
		logger:    logx.NewLogger("agentmgr"),
	}
}

// NewWithFactory constructs a Manager using a custom LLM client factory,
// for callers (tests, alternative deployments) that need to bypass
// orchconfig/env-driven provider resolution.
func NewWithFactory(cfg orchconfig.AgentsConfig, memClient *memory.Client, bus *realtime.Bus, factory func(role Role) (llm.Client, error)) *Manager {
	m := New(cfg, memClient, bus)
	m.newClient = factory
	return m
}

// Start launches the single background router goroutine. A panic inside the
// router is Internal-fatal per spec.md §4.5/§7 and is allowed to propagate
// to the process's top-level recover (there is none here by design: a
// router crash must be loud, not swallowed).
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.routerCancel = cancel
	m.routerDone = make(chan struct{})
	go m.routeMessages(ctx)
}

// Stop cancels the router goroutine and waits for it to exit.
func (m *Manager) Stop() {
	if m.routerCancel != nil {
		m.routerCancel()
	}
	if m.routerDone != nil {
		<-m.routerDone
	}
}

func (m *Manager) inboxCapacity() int {
	if m.cfg.InboxCapacity > 0 {
		return m.cfg.InboxCapacity
	}
	return defaultInboxCapacity
}

func (m *Manager) outboxCapacity() int {
	if m.cfg.OutboxCapacity > 0 {
		return m.cfg.OutboxCapacity
	}
	return defaultOutboxCapacity
}

// CreateAgent registers a new agent, rejecting a name collision with any
// non-terminated agent (spec.md §8's boundary behavior).
func (m *Manager) CreateAgent(name string, role Role, systemPrompt, model string, capabilities []string, parentID string) (*Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.agents {
		if a.Name == name && a.Status != StatusTerminated {
			return nil, ErrAgentNameInUse
		}
	}

	if systemPrompt == "" {
		systemPrompt = systemPromptFor(role)
	}

	agent := &Agent{
		ID:           uuid.NewString(),
		Name:         name,
		Role:         role,
		SystemPrompt: systemPrompt,
		Model:        model,
		Capabilities: capabilities,
		ParentID:     parentID,
		Status:       StatusPending,
		CreatedAt:    time.Now().UTC(),
		inbox:        make(chan inboundMessage, m.inboxCapacity()),
		outbox:       make(chan outboundMessage, m.outboxCapacity()),
	}
	m.agents[agent.ID] = agent
	metrics.AgentManagerActiveAgents.Set(float64(len(m.agents)))

	m.emit(realtime.AgentChannel(agent.ID), realtime.KindAgentCreated, agent)
	return agent, nil
}

// TerminateAgent cancels the agent's in-flight task, drains its inbox, and
// removes it from the registry.
func (m *Manager) TerminateAgent(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, ok := m.agents[id]
	if !ok {
		return false, ErrAgentNotFound
	}

	if agent.cancel != nil {
		agent.cancel()
	}
drain:
	for {
		select {
		case <-agent.inbox:
		default:
			break drain
		}
	}

	agent.Status = StatusTerminated
	delete(m.agents, id)
	metrics.AgentManagerActiveAgents.Set(float64(len(m.agents)))
	metrics.AgentManagerQueueDepth.DeleteLabelValues(id, "inbox")
	metrics.AgentManagerQueueDepth.DeleteLabelValues(id, "outbox")

	m.emit(realtime.AgentChannel(id), realtime.KindAgentDeleted, map[string]string{"agent_id": id})
	return true, nil
}

// Get returns a snapshot copy of one agent's state.
func (m *Manager) Get(id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	copied := *agent
	return &copied, nil
}

func (m *Manager) setStatus(id string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent, ok := m.agents[id]; ok {
		agent.Status = status
	}
}

func (m *Manager) emit(channel string, kind realtime.EventKind, payload any) {
	if m.bus != nil {
		m.bus.Broadcast(channel, kind, payload)
	}
}

func (m *Manager) clientFor(role Role) (llm.Client, error) {
	client, err := m.newClient(role)
	if err != nil {
		return nil, fmt.Errorf("resolve llm client for role %s: %w", role, err)
	}
	return client, nil
}
