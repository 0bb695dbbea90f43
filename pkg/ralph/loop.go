package ralph

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"orchestrator/pkg/agentmgr"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/memory"
	"orchestrator/pkg/metrics"
	"orchestrator/pkg/orchconfig"
)

// Summary is the final report of one Run, per spec.md §4.6 step 3.
type Summary struct {
	Status            string // "completed" | "partial"
	Iterations        int
	DurationSeconds   float64
	StoriesTotal      int
	StoriesCompleted  int
	StoriesFailed     int
	CompletionPercent float64
	CompletedStories  []string
	FailedStories     []string
	TotalAttempts     int
}

// Loop is one instance of the Ralph Loop (C6), driving one PRD. It holds
// non-owning references to the Agent Manager and Memory Client, per
// spec.md §9's cyclic-ownership note.
type Loop struct {
	prd          *PRD
	agents       *agentmgr.Manager
	mem          *memory.Client
	commitDriver CommitDriver
	gate         Gate
	cfg          orchconfig.RalphConfig
	ralphWorkDir string
	projectRoot  string
	logger       *logx.Logger

	attempts map[string][]memory.Attempt // per-story attempt log, for reflect()

	mu      sync.Mutex
	stopped int32
}

// New constructs a Loop bound to the given project tree and PRD.
func New(prd *PRD, agents *agentmgr.Manager, mem *memory.Client, projectRoot, ralphWorkDir string, cfg orchconfig.RalphConfig) *Loop {
	return &Loop{
		prd:          prd,
		agents:       agents,
		mem:          mem,
		commitDriver: NewGitCommitDriver(),
		gate:         NewQualityGate(cfg),
		cfg:          cfg,
		ralphWorkDir: ralphWorkDir,
		projectRoot:  projectRoot,
		logger:       logx.NewLogger("ralph"),
		attempts:     make(map[string][]memory.Attempt),
	}
}

// Stop requests cancellation at the next story boundary, per spec.md §5.
func (l *Loop) Stop() {
	atomic.StoreInt32(&l.stopped, 1)
}

func (l *Loop) isStopped() bool {
	return atomic.LoadInt32(&l.stopped) == 1
}

// Run executes the outer loop of spec.md §4.6 synchronously.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	started := time.Now().UTC()

	if len(l.prd.Stories) == 0 {
		return Summary{Status: "completed", Iterations: 0, DurationSeconds: time.Since(started).Seconds()}, nil
	}

	for i, s := range l.prd.Stories {
		s.Position = i
		if s.Status == "" {
			s.Status = StatusNotStarted
		}
	}

	if err := l.checkoutBranch(ctx); err != nil {
		l.logger.Warn("branch checkout failed, continuing in current tree: %v", err)
	}

	iteration := 0
	totalAttempts := 0

	for iteration < l.cfg.MaxIterations && !l.isStopped() {
		next := nextEligibleStory(l.prd.Stories)
		if next == nil {
			if allResolved(l.prd.Stories) {
				break
			}
			// Nothing eligible but some stories remain not_started/in_progress
			// blocked on dependencies not yet satisfied; give the loop a chance
			// to re-evaluate next iteration without busy-waiting the CPU.
			iteration++
			continue
		}

		if next.Attempts >= l.cfg.MaxRetriesPerStory {
			next.Status = StatusFailed
			continue
		}

		next.Status = StatusInProgress
		next.Attempts++
		iteration++
		totalAttempts++

		l.runAttempt(ctx, next)

		l.persistProgress(iteration, started)
	}

	if l.isStopped() {
		l.commitIfClean(ctx)
	}

	return l.summarize(started, iteration, totalAttempts), nil
}

// runAttempt implements steps 2d-2j of spec.md §4.6 for one story attempt.
func (l *Loop) runAttempt(ctx context.Context, story *Story) {
	learnings := l.queryLearnings(ctx, story)
	prompt := l.buildPrompt(story, learnings)

	agentName := fmt.Sprintf("CodeAgent-%s-%d", story.ID, time.Now().UTC().UnixMilli())
	codeAgent, err := l.agents.CreateAgent(agentName, agentmgr.RoleCode, "", "", nil, "")
	if err != nil {
		l.recordFailure(ctx, story, fmt.Sprintf("create code agent: %v", err), nil)
		return
	}
	defer func() { _, _ = l.agents.TerminateAgent(codeAgent.ID) }()

	timeout := l.cfg.StoryTaskTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	result, err := l.agents.ExecuteTask(ctx, codeAgent.ID, prompt, timeout, false)
	if err != nil {
		l.recordFailure(ctx, story, err.Error(), nil)
		return
	}
	if !result.Success() {
		l.recordFailure(ctx, story, result.Error, nil)
		return
	}

	artifacts := ParseArtifacts(result.Text)
	written, err := WriteArtifacts(l.ralphWorkDir, story.ID, artifacts)
	if err != nil {
		l.recordFailure(ctx, story, err.Error(), written)
		return
	}
	if len(written) == 0 {
		l.recordFailure(ctx, story, "no file artifacts produced", nil)
		return
	}

	checks, hardFail := l.gate.Run(ctx, l.ralphWorkDir)
	if hardFail {
		l.recordFailure(ctx, story, "quality gate hard error", written, checks...)
		return
	}

	l.recordSuccess(ctx, story, written, checks)
}

func (l *Loop) queryLearnings(ctx context.Context, story *Story) []memory.Learning {
	if l.mem == nil {
		return nil
	}
	query := story.Title + " " + story.Description + " " + strings.Join(story.AcceptanceCriteria, " ")
	return l.mem.QueryPastLearnings(ctx, query, []string{"ralph", "code_implementation"}, 5, 0.0)
}

func (l *Loop) buildPrompt(story *Story, learnings []memory.Learning) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n## Acceptance Criteria\n", story.Title, story.Description)
	for i, ac := range story.AcceptanceCriteria {
		fmt.Fprintf(&b, "%d. %s\n", i+1, ac)
	}
	b.WriteString("\n## Implementation Requirements\n")
	b.WriteString("- Produce complete, compilable file artifacts as fenced code blocks labelled `<lang>:<path>`.\n")
	b.WriteString("- Do not omit imports or leave placeholders.\n")

	if len(learnings) > 0 {
		b.WriteString("\n## Learnings from Similar Past Tasks\n")
		for i, lr := range learnings {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", lr.Content)
		}
	}

	if story.Attempts > 1 && story.LastError != "" {
		fmt.Fprintf(&b, "\n## Previous Attempt Failed\n%s\n", story.LastError)
	}

	return b.String()
}

func (l *Loop) recordFailure(ctx context.Context, story *Story, errStr string, files []string, checks ...CheckResult) {
	story.Status = StatusNotStarted
	story.LastError = errStr
	if story.Attempts >= l.cfg.MaxRetriesPerStory {
		story.Status = StatusFailed
		metrics.RalphIterations.WithLabelValues("failed").Inc()
	} else {
		metrics.RalphIterations.WithLabelValues("retried").Inc()
	}
	metrics.RalphStoryAttempts.Observe(float64(story.Attempts))

	l.attempts[story.ID] = append(l.attempts[story.ID], memory.Attempt{
		AttemptNumber: story.Attempts, Success: false, ChangesMade: len(files), Error: errStr,
		QualityChecks: toMemoryChecks(checks),
	})

	if l.mem != nil {
		_, _ = l.mem.Diary(ctx, story.ID, story.Title, story.Attempts, false, len(files), "", errStr, toMemoryChecks(checks), files, nil)
	}

	if story.Status == StatusFailed {
		l.reflect(ctx, story)
	}
}

func (l *Loop) recordSuccess(ctx context.Context, story *Story, files []string, checks []CheckResult) {
	now := time.Now().UTC()
	story.Status = StatusCompleted
	story.CompletedAt = &now
	metrics.RalphIterations.WithLabelValues("completed").Inc()
	metrics.RalphStoryAttempts.Observe(float64(story.Attempts))

	l.attempts[story.ID] = append(l.attempts[story.ID], memory.Attempt{
		AttemptNumber: story.Attempts, Success: true, ChangesMade: len(files), QualityChecks: toMemoryChecks(checks),
	})

	if l.mem != nil {
		_, _ = l.mem.Diary(ctx, story.ID, story.Title, story.Attempts, true, len(files), "", "", toMemoryChecks(checks), files, nil)
	}

	if ref, err := l.commitDriver.Commit(ctx, l.ralphWorkDir, fmt.Sprintf("feat(%s): %s", story.ID, story.Title)); err == nil {
		story.CommitRef = ref
		if _, err := l.commitDriver.Push(ctx, l.ralphWorkDir, l.prd.BranchName); err != nil {
			l.logger.Warn("push failed for story %s: %v", story.ID, err)
		}
	} else {
		l.logger.Warn("commit failed for story %s: %v", story.ID, err)
	}

	l.reflect(ctx, story)
}

func (l *Loop) reflect(ctx context.Context, story *Story) {
	if l.mem == nil {
		return
	}
	_, err := l.mem.Reflect(ctx, story.ID, story.Title, story.Attempts, story.Status == StatusCompleted,
		l.attempts[story.ID], nil, story.CommitRef)
	if err != nil {
		l.logger.Warn("reflect failed for story %s: %v", story.ID, err)
	}
}

func toMemoryChecks(checks []CheckResult) []memory.QualityCheckResult {
	if len(checks) == 0 {
		return nil
	}
	out := make([]memory.QualityCheckResult, len(checks))
	for i, c := range checks {
		out[i] = memory.QualityCheckResult{Name: c.Name, Passed: c.Passed, OutputExcerpt: c.OutputExcerpt}
	}
	return out
}

func (l *Loop) checkoutBranch(ctx context.Context) error {
	cmd := NewGitCommitDriver()
	if _, err := cmd.run(ctx, l.projectRoot, "checkout", "-B", l.prd.BranchName); err != nil {
		return err
	}
	return nil
}

func (l *Loop) commitIfClean(ctx context.Context) {
	driver := NewGitCommitDriver()
	if out, err := driver.run(ctx, l.ralphWorkDir, "status", "--porcelain"); err == nil && strings.TrimSpace(out) != "" {
		_, _ = driver.Commit(ctx, l.ralphWorkDir, "chore(ralph): partial progress")
	}
}

func (l *Loop) persistProgress(iteration int, started time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prog := &Progress{
		PRD:           snapshotPRD(l.prd),
		Iteration:     iteration,
		StartedAt:     started,
		StoryAttempts: make(map[string][]ProgressAttempt, len(l.attempts)),
		Timestamp:     time.Now().UTC(),
	}
	for id, attempts := range l.attempts {
		for _, a := range attempts {
			prog.StoryAttempts[id] = append(prog.StoryAttempts[id], ProgressAttempt{
				AttemptNumber: a.AttemptNumber, Success: a.Success, Error: a.Error, Timestamp: time.Now().UTC(),
			})
		}
	}
	if err := writeProgress(l.projectRoot, prog); err != nil {
		l.logger.Warn("failed to persist progress: %v", err)
	}
}

func allResolved(stories []*Story) bool {
	for _, s := range stories {
		if s.Status != StatusCompleted && s.Status != StatusFailed && s.Status != StatusSkipped {
			return false
		}
	}
	return true
}

func (l *Loop) summarize(started time.Time, iterations, totalAttempts int) Summary {
	status := "completed"
	if l.isStopped() {
		status = "partial"
	}

	var completed, failed []string
	for _, s := range l.prd.Stories {
		switch s.Status {
		case StatusCompleted:
			completed = append(completed, s.ID)
		case StatusFailed:
			failed = append(failed, s.ID)
		}
	}
	if len(failed) > 0 && status == "completed" {
		status = "partial"
	}

	return Summary{
		Status:            status,
		Iterations:        iterations,
		DurationSeconds:   time.Since(started).Seconds(),
		StoriesTotal:      len(l.prd.Stories),
		StoriesCompleted:  len(completed),
		StoriesFailed:     len(failed),
		CompletionPercent: l.prd.CompletionPercentage(),
		CompletedStories:  completed,
		FailedStories:     failed,
		TotalAttempts:     totalAttempts,
	}
}
