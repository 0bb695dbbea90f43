// Package memory implements the Memory Client (C4): an append-only local
// diary/reflection file tree plus a best-effort remote commit/query against
// orchestrator/pkg/memoryservice, grounded on orchestrator/pkg/persistence's
// local-durable-plus-remote-degrade shape.
package memory

import "time"

// QualityCheckResult is one quality-gate check's outcome, as recorded by an
// attempt (see orchestrator/pkg/ralph).
type QualityCheckResult struct {
	Name          string `json:"name"`
	Passed        bool   `json:"passed"`
	OutputExcerpt string `json:"output_excerpt,omitempty"`
}

// DiaryEntry is the append-only per-attempt record of spec.md §3. Never
// mutated after Diary returns its id.
type DiaryEntry struct {
	ID             string                 `json:"id"`
	StoryID        string                 `json:"story_id"`
	StoryTitle     string                 `json:"story_title"`
	AttemptNumber  int                    `json:"attempt_number"`
	Success        bool                   `json:"success"`
	ChangesMade    int                    `json:"changes_made_count"`
	CodeExcerpt    string                 `json:"code_excerpt,omitempty"`
	Error          string                 `json:"error,omitempty"`
	QualityChecks  []QualityCheckResult   `json:"quality_check_results,omitempty"`
	FilesTouched   []string               `json:"files_touched,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Metadata       map[string]any         `json:"metadata,omitempty"`
}

// Attempt is the subset of a story's attempt history reflect() derives from.
// Constructed by the caller (orchestrator/pkg/ralph) from its own per-attempt
// bookkeeping, independent of DiaryEntry's storage shape.
type Attempt struct {
	AttemptNumber int
	Success       bool
	ChangesMade   int
	Error         string
	QualityChecks []QualityCheckResult
}

// Reflection is the once-per-story summary of spec.md §3, produced at most
// once per (story_id, completion).
type Reflection struct {
	ID              string    `json:"id"`
	StoryID         string    `json:"story_id"`
	Title           string    `json:"title"`
	TotalAttempts   int       `json:"total_attempts"`
	FinalSuccess    bool      `json:"final_success"`
	FailurePatterns []string  `json:"failure_patterns"`
	SuccessFactors  []string  `json:"success_factors"`
	Insights        []string  `json:"insights"`
	Recommendations []string  `json:"recommendations"`
	FilesTouched    []string  `json:"files_touched,omitempty"`
	CommitRef       string    `json:"commit_ref,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// LearningKind distinguishes a past-learnings hit's provenance, used to
// break score ties per SPEC_FULL.md §9 (reflections preferred over diary
// entries at equal similarity).
type LearningKind string

const (
	KindDiary      LearningKind = "diary"
	KindReflection LearningKind = "reflection"
)

// Learning is one result of QueryPastLearnings.
type Learning struct {
	Content         string       `json:"content"`
	Kind            LearningKind `json:"kind"`
	Score           float64      `json:"score"`
	StoryID         string       `json:"story_id"`
	Title           string       `json:"title"`
	Insights        []string     `json:"insights,omitempty"`
	Recommendations []string     `json:"recommendations,omitempty"`
}
