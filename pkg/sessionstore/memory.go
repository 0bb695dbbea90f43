package sessionstore

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process fallback used when the primary SQLite
// backend is unreachable at startup. It loses data on restart, per spec.md
// §4.1's documented tiered-storage policy.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	messages    map[string][]Message
	context     map[string]map[string]any
	workflows   map[string]map[string]*Workflow
	maxMessages int
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore(maxMessagesPerSession int) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*Session),
		messages:    make(map[string][]Message),
		context:     make(map[string]map[string]any),
		workflows:   make(map[string]map[string]*Workflow),
		maxMessages: maxMessagesPerSession,
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateSession(sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if _, exists := m.sessions[sessionID]; exists {
		return sessionID, nil
	}
	now := time.Now().UTC()
	m.sessions[sessionID] = &Session{ID: sessionID, CreatedAt: now, UpdatedAt: now, Status: StatusActive}
	return sessionID, nil
}

func (m *MemoryStore) SessionExists(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

func (m *MemoryStore) GetSession(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *sess
	return &copied, nil
}

func (m *MemoryStore) AppendMessage(sessionID string, role Role, content string, metadata map[string]any) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		now := time.Now().UTC()
		m.sessions[sessionID] = &Session{ID: sessionID, CreatedAt: now, UpdatedAt: now, Status: StatusActive}
	}

	msg := Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	if m.maxMessages > 0 && len(m.messages[sessionID]) > m.maxMessages {
		overflow := len(m.messages[sessionID]) - m.maxMessages
		m.messages[sessionID] = m.messages[sessionID][overflow:]
	}

	sess := m.sessions[sessionID]
	sess.MessageCount = len(m.messages[sessionID])
	sess.UpdatedAt = msg.Timestamp

	return &msg, nil
}

func (m *MemoryStore) RecentContext(sessionID string, n int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.messages[sessionID]
	if n >= len(all) || n <= 0 {
		out := make([]Message, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]Message, n)
	copy(out, all[len(all)-n:])
	return out, nil
}

func (m *MemoryStore) SetContext(sessionID, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.context[sessionID] == nil {
		m.context[sessionID] = make(map[string]any)
	}
	m.context[sessionID][key] = value
	return nil
}

func (m *MemoryStore) GetContext(sessionID, key string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.context[sessionID][key], nil
}

func (m *MemoryStore) GetAllContext(sessionID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.context[sessionID]))
	for k, v := range m.context[sessionID] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SaveWorkflow(sessionID string, wf *Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workflows[sessionID] == nil {
		m.workflows[sessionID] = make(map[string]*Workflow)
	}
	copied := *wf
	m.workflows[sessionID][wf.WorkflowID] = &copied
	if sess, ok := m.sessions[sessionID]; ok {
		sess.ActiveWorkflowID = wf.WorkflowID
	}
	return nil
}

func (m *MemoryStore) GetWorkflow(sessionID, workflowID string) (*Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[sessionID][workflowID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *wf
	return &copied, nil
}
