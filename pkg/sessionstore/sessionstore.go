// Package sessionstore implements the Session Store (C1): durable
// per-conversation history with a tiered storage fallback.
//
// Grounded on orchestrator/pkg/persistence's singleton *sql.DB pattern
// (WAL mode, single-writer pool) and its upsert SQL idiom
// (INSERT ... ON CONFLICT ... DO UPDATE SET ... = excluded....).
package sessionstore

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrStorageUnavailable is the sentinel the SQLite backend returns when a
// database operation fails (for AppendMessage, after its bounded retries),
// per spec.md §7. The in-process fallback never returns it.
var ErrStorageUnavailable = errors.New("sessionstore: storage unavailable")

// ErrSessionNotFound indicates the session id has expired or never existed.
var ErrSessionNotFound = errors.New("sessionstore: session not found")

type SessionStatus string

const (
	StatusActive SessionStatus = "active"
	StatusClosed SessionStatus = "closed"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Session is the top-level per-conversation record.
type Session struct {
	ID                string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	MessageCount      int
	ActiveWorkflowID  string
	Status            SessionStatus
}

// Message is an immutable entry in a session's ordered history.
type Message struct {
	ID        string
	SessionID string
	Role      Role
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// WorkflowKind enumerates the workflows a session can track.
type WorkflowKind string

const (
	WorkflowRalph                       WorkflowKind = "ralph"
	WorkflowResearchVerifySynthesize    WorkflowKind = "research_verify_synthesize"
	WorkflowSingleAgent                 WorkflowKind = "single_agent"
)

type WorkflowStatus string

const (
	WorkflowInitialized WorkflowStatus = "initialized"
	WorkflowRunning     WorkflowStatus = "running"
	WorkflowCompleted   WorkflowStatus = "completed"
	WorkflowFailed      WorkflowStatus = "failed"
)

// Workflow is the transient record referenced by Session.ActiveWorkflowID.
type Workflow struct {
	WorkflowID    string
	Kind          WorkflowKind
	Status        WorkflowStatus
	Steps         []string
	StartedAt     time.Time
	FinishedAt    time.Time
	ResultsByStep map[string]any
}

// Store is the C1 contract. Both the SQLite-backed implementation and the
// in-memory fallback satisfy it identically, per spec.md §4.1.
type Store interface {
	CreateSession(sessionID string) (string, error)
	SessionExists(sessionID string) bool
	GetSession(sessionID string) (*Session, error)
	AppendMessage(sessionID string, role Role, content string, metadata map[string]any) (*Message, error)
	RecentContext(sessionID string, n int) ([]Message, error)
	SetContext(sessionID, key string, value any) error
	GetContext(sessionID, key string) (any, error)
	GetAllContext(sessionID string) (map[string]any, error)
	SaveWorkflow(sessionID string, wf *Workflow) error
	GetWorkflow(sessionID, workflowID string) (*Workflow, error)
	Close() error
}

func marshalMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMetadata(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return map[string]any{}
	}
	return m
}
