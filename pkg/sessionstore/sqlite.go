package sessionstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"orchestrator/pkg/logx"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	active_workflow_id TEXT,
	status TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(session_id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	metadata_json TEXT NOT NULL DEFAULT '{}',
	seq INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);

CREATE TABLE IF NOT EXISTS context_entries (
	session_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value_json TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, key)
);

CREATE TABLE IF NOT EXISTS workflows (
	session_id TEXT NOT NULL,
	workflow_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	steps_json TEXT NOT NULL DEFAULT '[]',
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	results_json TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (session_id, workflow_id)
);
`

// appendRetryAttempts and appendRetryBackoff bound the retry spec.md §4.1
// requires before AppendMessage surfaces ErrStorageUnavailable: a single
// writer connection means a transient SQLITE_BUSY under load is usually
// gone by the next attempt.
const (
	appendRetryAttempts = 3
	appendRetryBackoff  = 20 * time.Millisecond
)

// SQLiteStore is the durable primary backend for C1, opened with WAL mode
// and a single-writer connection pool, per orchestrator/pkg/persistence/db.go.
type SQLiteStore struct {
	db          *sql.DB
	log         *logx.Logger
	maxMessages int
}

// OpenSQLite opens (creating if needed) a SQLite-backed Store at dbPath.
func OpenSQLite(dbPath string, maxMessagesPerSession int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteStore{
		db:          db,
		log:         logx.NewLogger("sessionstore"),
		maxMessages: maxMessagesPerSession,
	}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) CreateSession(sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, created_at, updated_at, message_count, status)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sessionID, now, now, StatusActive)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return sessionID, nil
}

func (s *SQLiteStore) SessionExists(sessionID string) bool {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&one)
	return err == nil
}

func (s *SQLiteStore) GetSession(sessionID string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT session_id, created_at, updated_at, message_count, COALESCE(active_workflow_id, ''), status
		FROM sessions WHERE session_id = ?`, sessionID)

	var sess Session
	var status string
	if err := row.Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount, &sess.ActiveWorkflowID, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	sess.Status = SessionStatus(status)
	return &sess, nil
}

// AppendMessage inserts a message, retrying a bounded number of times on a
// storage-unavailable error before surfacing it, per spec.md §4.1.
func (s *SQLiteStore) AppendMessage(sessionID string, role Role, content string, metadata map[string]any) (*Message, error) {
	var msg *Message
	var err error
	for attempt := 0; attempt < appendRetryAttempts; attempt++ {
		msg, err = s.appendMessageOnce(sessionID, role, content, metadata)
		if err == nil || !errors.Is(err, ErrStorageUnavailable) {
			return msg, err
		}
		s.log.Warn("append message attempt %d/%d failed: %v", attempt+1, appendRetryAttempts, err)
		time.Sleep(appendRetryBackoff)
	}
	return msg, err
}

func (s *SQLiteStore) appendMessageOnce(sessionID string, role Role, content string, metadata map[string]any) (*Message, error) {
	if !s.SessionExists(sessionID) {
		if _, err := s.CreateSession(sessionID); err != nil {
			return nil, err
		}
	}

	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, sessionID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if _, err := tx.Exec(`INSERT INTO messages (id, session_id, role, content, timestamp, metadata_json, seq) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(role), content, msg.Timestamp, metaJSON, seq); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if s.maxMessages > 0 {
		if _, err := tx.Exec(`
			DELETE FROM messages WHERE session_id = ? AND seq <= (
				SELECT COALESCE(MAX(seq), 0) - ? FROM messages WHERE session_id = ?
			)`, sessionID, s.maxMessages, sessionID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if _, err := tx.Exec(`UPDATE sessions SET message_count = ?, updated_at = ? WHERE session_id = ?`,
		count, msg.Timestamp, sessionID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return msg, nil
}

func (s *SQLiteStore) RecentContext(sessionID string, n int) ([]Message, error) {
	if n <= 0 {
		n = -1 // negative LIMIT means no limit: return every message, as MemoryStore does
	}
	rows, err := s.db.Query(`
		SELECT id, role, content, timestamp, metadata_json FROM messages
		WHERE session_id = ? ORDER BY seq DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var role, metaJSON string
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.Timestamp, &metaJSON); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		m.SessionID = sessionID
		m.Role = Role(role)
		m.Metadata = unmarshalMetadata(metaJSON)
		msgs = append(msgs, m)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) SetContext(sessionID, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal context value: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO context_entries (session_id, key, value_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, key) DO UPDATE SET
			value_json = excluded.value_json, updated_at = excluded.updated_at`,
		sessionID, key, string(b), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) GetContext(sessionID, key string) (any, error) {
	var valueJSON string
	err := s.db.QueryRow(`SELECT value_json FROM context_entries WHERE session_id = ? AND key = ?`, sessionID, key).Scan(&valueJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	var value any
	if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
		return nil, fmt.Errorf("unmarshal context value: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) GetAllContext(sessionID string) (map[string]any, error) {
	rows, err := s.db.Query(`SELECT key, value_json FROM context_entries WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	result := make(map[string]any)
	for rows.Next() {
		var key, valueJSON string
		if err := rows.Scan(&key, &valueJSON); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		var value any
		if err := json.Unmarshal([]byte(valueJSON), &value); err == nil {
			result[key] = value
		}
	}
	return result, nil
}

func (s *SQLiteStore) SaveWorkflow(sessionID string, wf *Workflow) error {
	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	resultsJSON, err := json.Marshal(wf.ResultsByStep)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	var finishedAt any
	if !wf.FinishedAt.IsZero() {
		finishedAt = wf.FinishedAt
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		INSERT INTO workflows (session_id, workflow_id, kind, status, steps_json, started_at, finished_at, results_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, workflow_id) DO UPDATE SET
			status = excluded.status, steps_json = excluded.steps_json,
			finished_at = excluded.finished_at, results_json = excluded.results_json`,
		sessionID, wf.WorkflowID, string(wf.Kind), string(wf.Status), string(stepsJSON), wf.StartedAt, finishedAt, string(resultsJSON)); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if _, err := tx.Exec(`UPDATE sessions SET active_workflow_id = ? WHERE session_id = ?`, wf.WorkflowID, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetWorkflow(sessionID, workflowID string) (*Workflow, error) {
	row := s.db.QueryRow(`
		SELECT kind, status, steps_json, started_at, finished_at, results_json
		FROM workflows WHERE session_id = ? AND workflow_id = ?`, sessionID, workflowID)

	var wf Workflow
	wf.WorkflowID = workflowID
	var kind, status, stepsJSON, resultsJSON string
	var finishedAt sql.NullTime
	if err := row.Scan(&kind, &status, &stepsJSON, &wf.StartedAt, &finishedAt, &resultsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	wf.Kind = WorkflowKind(kind)
	wf.Status = WorkflowStatus(status)
	if finishedAt.Valid {
		wf.FinishedAt = finishedAt.Time
	}
	_ = json.Unmarshal([]byte(stepsJSON), &wf.Steps)
	wf.ResultsByStep = make(map[string]any)
	_ = json.Unmarshal([]byte(resultsJSON), &wf.ResultsByStep)
	return &wf, nil
}
