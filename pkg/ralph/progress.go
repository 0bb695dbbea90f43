package ralph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ProgressAttempt is one recorded attempt against a story, persisted in the
// progress file.
type ProgressAttempt struct {
	AttemptNumber int       `json:"attempt_number"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Progress is the on-disk shape of {work_dir}/.ralph/progress.json.
type Progress struct {
	PRD           PRDSnapshot                    `json:"prd"`
	Iteration     int                            `json:"iteration"`
	StartedAt     time.Time                      `json:"started_at"`
	StoryAttempts map[string][]ProgressAttempt   `json:"story_attempts"`
	Timestamp     time.Time                      `json:"timestamp"`
}

// PRDSnapshot is the serializable subset of PRD persisted alongside progress.
type PRDSnapshot struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	BranchName  string         `json:"branch_name"`
	Stories     []StorySnapshot `json:"stories"`
}

// StorySnapshot is the serializable subset of Story.
type StorySnapshot struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CommitRef   string     `json:"commit_ref,omitempty"`
}

func snapshotPRD(p *PRD) PRDSnapshot {
	snap := PRDSnapshot{Name: p.Name, Description: p.Description, BranchName: p.BranchName}
	for _, s := range p.Stories {
		snap.Stories = append(snap.Stories, StorySnapshot{
			ID: s.ID, Title: s.Title, Status: s.Status, Attempts: s.Attempts,
			LastError: s.LastError, CompletedAt: s.CompletedAt, CommitRef: s.CommitRef,
		})
	}
	return snap
}

func progressPath(workDir string) string {
	return filepath.Join(workDir, ".ralph", "progress.json")
}

// writeProgress overwrites the progress file atomically via write-to-temp +
// rename, mirroring the teacher's atomic-config-write discipline
// (orchestrator/pkg/config's documented "atomic updates by subsystem").
func writeProgress(workDir string, prog *Progress) error {
	dir := filepath.Join(workDir, ".ralph")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create progress dir: %w", err)
	}

	data, err := json.MarshalIndent(prog, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	path := progressPath(workDir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write progress temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename progress temp file: %w", err)
	}
	return nil
}

// readProgress loads a previously written progress file, if any.
func readProgress(workDir string) (*Progress, error) {
	data, err := os.ReadFile(progressPath(workDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read progress file: %w", err)
	}
	var prog Progress
	if err := json.Unmarshal(data, &prog); err != nil {
		return nil, fmt.Errorf("parse progress file: %w", err)
	}
	return &prog, nil
}
