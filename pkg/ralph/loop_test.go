package ralph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/agentmgr"
	"orchestrator/pkg/llm"
	"orchestrator/pkg/memory"
	"orchestrator/pkg/orchconfig"
)

type fakeCommitDriver struct {
	commitRef string
	commitErr error
	pushErr   error
}

func (f *fakeCommitDriver) Commit(ctx context.Context, cwd, message string) (string, error) {
	if f.commitErr != nil {
		return "", f.commitErr
	}
	return f.commitRef, nil
}

func (f *fakeCommitDriver) Push(ctx context.Context, cwd, branch string) (bool, error) {
	if f.pushErr != nil {
		return false, f.pushErr
	}
	return true, nil
}

type fakeGate struct {
	checks   []CheckResult
	hardFail bool
}

func (f *fakeGate) Run(ctx context.Context, cwd string) ([]CheckResult, bool) {
	return f.checks, f.hardFail
}

func ralphConfigForTest() orchconfig.RalphConfig {
	return orchconfig.RalphConfig{
		MaxIterations:      10,
		MaxRetriesPerStory: 3,
		StoryTaskTimeout:   time.Second,
		QualityGateMode:    orchconfig.QualityGateSoft,
		TestTimeout:        time.Second,
		LintTimeout:        time.Second,
		TypeCheckTimeout:   time.Second,
	}
}

func agentMgrReturning(content string) *agentmgr.Manager {
	return agentmgr.NewWithFactory(
		orchconfig.AgentsConfig{InboxCapacity: 4, OutboxCapacity: 4, DefaultTaskTimeout: time.Second},
		nil, nil,
		func(role agentmgr.Role) (llm.Client, error) {
			return llm.ClientFunc{Model: "fake", CompleteFunc: func(ctx context.Context, req llm.Request) (llm.Response, error) {
				return llm.Response{Content: content}, nil
			}}, nil
		},
	)
}

func TestRunEmptyPRDCompletesImmediately(t *testing.T) {
	prd := &PRD{Name: "Empty"}
	loop := New(prd, agentMgrReturning(""), nil, t.TempDir(), t.TempDir(), ralphConfigForTest())

	summary, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "completed", summary.Status)
	assert.Equal(t, 0, summary.Iterations)
}

func TestRunStoryExhaustsRetriesWithZeroArtifacts(t *testing.T) {
	mem := memory.New(t.TempDir(), nil)
	prd := &PRD{
		Name:       "One story",
		BranchName: "feature/x",
		Stories: []*Story{
			{ID: "US-001", Title: "Does nothing", Status: StatusNotStarted, AcceptanceCriteria: []string{"a"}},
		},
	}
	loop := New(prd, agentMgrReturning("no code blocks at all"), mem, t.TempDir(), t.TempDir(), ralphConfigForTest())
	loop.commitDriver = &fakeCommitDriver{}

	summary, err := loop.Run(context.Background())
	require.NoError(t, err)

	story := prd.Stories[0]
	assert.Equal(t, StatusFailed, story.Status)
	assert.Equal(t, 3, story.Attempts)
	assert.Equal(t, "partial", summary.Status)
	assert.Len(t, loop.attempts["US-001"], 3)
}

func TestRunStorySucceedsOnFirstAttempt(t *testing.T) {
	mem := memory.New(t.TempDir(), nil)
	prd := &PRD{
		Name:       "One story",
		BranchName: "feature/x",
		Stories: []*Story{
			{ID: "US-001", Title: "Reverse a string", Status: StatusNotStarted, AcceptanceCriteria: []string{"a"}},
		},
	}
	resp := "```python:reverse.py\ndef reverse(s):\n    return s[::-1]\n```\n"
	loop := New(prd, agentMgrReturning(resp), mem, t.TempDir(), t.TempDir(), ralphConfigForTest())
	loop.commitDriver = &fakeCommitDriver{commitRef: "abc123"}
	loop.gate = &fakeGate{checks: []CheckResult{{Name: "test", Passed: true}}}

	summary, err := loop.Run(context.Background())
	require.NoError(t, err)

	story := prd.Stories[0]
	assert.Equal(t, StatusCompleted, story.Status)
	assert.Equal(t, 1, story.Attempts)
	assert.Equal(t, "abc123", story.CommitRef)
	assert.Equal(t, "completed", summary.Status)
	assert.Equal(t, 1, summary.StoriesCompleted)
}
