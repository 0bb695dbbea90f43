package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"orchestrator/pkg/logx"
	"orchestrator/pkg/memoryservice"
)

const copilotHeader = "# Copilot Memory\n\n## Learnings\n\n"

// Client is the C4 Memory Client: local append-only file tree plus a
// best-effort remote commit/query. Local writes must succeed even when the
// remote service is unreachable (spec.md §4.4).
type Client struct {
	workspaceRoot string
	remote        *memoryservice.Client
	logger        *logx.Logger
	mu            sync.Mutex
}

// New constructs a Client rooted at workspaceRoot. remote may be nil, in
// which case every remote commit/query is skipped (treated as unreachable).
func New(workspaceRoot string, remote *memoryservice.Client) *Client {
	return &Client{
		workspaceRoot: workspaceRoot,
		remote:        remote,
		logger:        logx.NewLogger("memory"),
	}
}

func (c *Client) memoryRoot() string { return filepath.Join(c.workspaceRoot, ".copilot", "memory") }
func (c *Client) diaryDir() string   { return filepath.Join(c.memoryRoot(), "diary") }
func (c *Client) reflectionsDir() string {
	return filepath.Join(c.memoryRoot(), "reflections")
}
func (c *Client) copilotFile() string { return filepath.Join(c.memoryRoot(), "COPILOT.md") }

func (c *Client) ensureDirs() error {
	for _, d := range []string{c.memoryRoot(), c.diaryDir(), c.reflectionsDir()} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create memory dir %s: %w", d, err)
		}
	}
	return nil
}

// Diary writes one DiaryEntry locally and attempts a remote commit. Local
// success is required; remote failure is logged, not propagated, per
// spec.md §4.4.
func (c *Client) Diary(
	ctx context.Context,
	storyID, storyTitle string,
	attempt int,
	success bool,
	changesMade int,
	codeExcerpt, errStr string,
	checks []QualityCheckResult,
	files []string,
	metadata map[string]any,
) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureDirs(); err != nil {
		return "", err
	}

	entry := DiaryEntry{
		ID:            uuid.NewString(),
		StoryID:       storyID,
		StoryTitle:    storyTitle,
		AttemptNumber: attempt,
		Success:       success,
		ChangesMade:   changesMade,
		CodeExcerpt:   codeExcerpt,
		Error:         errStr,
		QualityChecks: checks,
		FilesTouched:  files,
		Timestamp:     time.Now().UTC(),
		Metadata:      metadata,
	}

	path := filepath.Join(c.diaryDir(), fmt.Sprintf("%s-%s-%d.md", entry.Timestamp.Format("2006-01-02"), storyID, attempt))
	if err := os.WriteFile(path, []byte(renderDiaryMarkdown(entry)), 0o644); err != nil {
		return "", fmt.Errorf("write diary entry: %w", err)
	}

	if c.remote != nil {
		artifact := memoryservice.Artifact{
			ArtifactType: memoryservice.ArtifactTypeResearchSnippet,
			Content:      renderDiaryMarkdown(entry),
			CreatedBy:    "ralph",
			Tags:         []string{"diary", storyID},
			Metadata:     map[string]any{"story_id": storyID, "attempt": attempt, "success": success},
		}
		if _, err := c.remote.Commit(ctx, memoryservice.CommitRequest{
			Artifact:  artifact,
			ActorID:   "ralph-loop",
			ActorType: "system",
		}); err != nil {
			c.logger.Warn("remote diary commit failed for story %s attempt %d: %v", storyID, attempt, err)
		}
	}

	return entry.ID, nil
}

// Reflect derives and writes a Reflection per spec.md §4.4's deterministic
// rules, appends a summary to COPILOT.md, and attempts a remote commit.
func (c *Client) Reflect(
	ctx context.Context,
	storyID, title string,
	totalAttempts int,
	finalSuccess bool,
	allAttempts []Attempt,
	filesTouched []string,
	commitRef string,
) (*Reflection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureDirs(); err != nil {
		return nil, err
	}

	buckets := countFailureBuckets(allAttempts)
	successFactors := deriveSuccessFactors(allAttempts)

	refl := &Reflection{
		ID:              uuid.NewString(),
		StoryID:         storyID,
		Title:           title,
		TotalAttempts:   totalAttempts,
		FinalSuccess:    finalSuccess,
		FailurePatterns: deriveFailurePatterns(allAttempts),
		SuccessFactors:  successFactors,
		Insights:        deriveInsights(totalAttempts, finalSuccess, buckets, successFactors),
		Recommendations: deriveRecommendations(buckets),
		FilesTouched:    filesTouched,
		CommitRef:       commitRef,
		Timestamp:       time.Now().UTC(),
	}

	path := filepath.Join(c.reflectionsDir(), fmt.Sprintf("%s-%s.md", refl.Timestamp.Format("2006-01-02"), storyID))
	section := renderReflectionMarkdown(*refl)
	if err := os.WriteFile(path, []byte(section), 0o644); err != nil {
		return nil, fmt.Errorf("write reflection: %w", err)
	}

	if err := c.appendToCopilotFile(section); err != nil {
		c.logger.Warn("failed to append reflection to COPILOT.md: %v", err)
	}

	if c.remote != nil {
		artifact := memoryservice.Artifact{
			ArtifactType: memoryservice.ArtifactTypeResearchSnippet,
			Content:      section,
			CreatedBy:    "ralph",
			Tags:         []string{"reflection", storyID},
			Metadata:     map[string]any{"story_id": storyID, "final_success": finalSuccess},
		}
		if _, err := c.remote.Commit(ctx, memoryservice.CommitRequest{
			Artifact:  artifact,
			ActorID:   "ralph-loop",
			ActorType: "system",
		}); err != nil {
			c.logger.Warn("remote reflection commit failed for story %s: %v", storyID, err)
		}
	}

	return refl, nil
}

func (c *Client) appendToCopilotFile(section string) error {
	path := c.copilotFile()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(copilotHeader), 0o644); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.WriteString(section + "\n")
	return err
}

// QueryPastLearnings asks the remote memory service for semantically
// similar prior records, tolerating an unreachable service by returning an
// empty list. Ties at equal score prefer reflections over diary entries, per
// SPEC_FULL.md §9's resolution of the diary-vs-reflection Open Question.
func (c *Client) QueryPastLearnings(ctx context.Context, queryText string, tags []string, limit int, minSimilarity float64) []Learning {
	if c.remote == nil {
		return nil
	}

	raw := c.remote.Query(ctx, memoryservice.QueryRequest{
		QueryText:     queryText,
		TopK:          limit,
		MinSimilarity: &minSimilarity,
	})
	if len(raw) == 0 {
		return nil
	}

	learnings := make([]Learning, 0, len(raw))
	for _, r := range raw {
		if r.Score < minSimilarity {
			continue
		}
		kind := KindDiary
		if strings.Contains(r.Content, "## Reflection:") {
			kind = KindReflection
		}
		learnings = append(learnings, Learning{
			Content: r.Content,
			Kind:    kind,
			Score:   r.Score,
		})
	}

	sort.SliceStable(learnings, func(i, j int) bool {
		if learnings[i].Score != learnings[j].Score {
			return learnings[i].Score > learnings[j].Score
		}
		return learnings[i].Kind == KindReflection && learnings[j].Kind != KindReflection
	})

	if len(learnings) > limit {
		learnings = learnings[:limit]
	}
	return learnings
}
