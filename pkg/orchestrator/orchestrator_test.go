package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestrator/pkg/agentmgr"
	"orchestrator/pkg/llm"
	"orchestrator/pkg/orchconfig"
	"orchestrator/pkg/prd"
	"orchestrator/pkg/realtime"
	"orchestrator/pkg/sessionstore"
)

func testOrchestrator(t *testing.T, complete func(ctx context.Context, req llm.Request) (llm.Response, error)) (*Orchestrator, sessionstore.Store) {
	t.Helper()
	store := sessionstore.NewMemoryStore(0)
	bus := realtime.NewBus(10)

	client := llm.ClientFunc{Model: "fake", CompleteFunc: complete}
	agents := agentmgr.NewWithFactory(
		orchconfig.AgentsConfig{InboxCapacity: 4, OutboxCapacity: 4, DefaultTaskTimeout: time.Second},
		nil, bus,
		func(role agentmgr.Role) (llm.Client, error) { return client, nil },
	)
	builder := prd.New(client, store)

	cfg := orchconfig.RalphConfig{MaxIterations: 5, MaxRetriesPerStory: 1, StoryTaskTimeout: time.Second}
	o := New(store, bus, agents, client, builder, nil, cfg, t.TempDir(), t.TempDir())
	return o, store
}

func TestChatPathAnswersPlainQuestion(t *testing.T) {
	o, _ := testOrchestrator(t, func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{Content: "42"}, nil
	})

	reply, err := o.Chat(context.Background(), "sess", "What's the weather like today?", false)
	require.NoError(t, err)
	assert.Equal(t, "42", reply)
}

func TestChatAppendsUserAndAssistantMessages(t *testing.T) {
	o, store := testOrchestrator(t, func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{Content: "answer"}, nil
	})

	_, err := o.Chat(context.Background(), "sess", "What's up?", false)
	require.NoError(t, err)

	history, err := store.RecentContext("sess", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, sessionstore.RoleUser, history[0].Role)
	assert.Equal(t, sessionstore.RoleAssistant, history[1].Role)
}

func TestChatResearchKeywordStoresPendingTaskThenFallsBackToChat(t *testing.T) {
	o, store := testOrchestrator(t, func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{Content: "noted"}, nil
	})

	_, err := o.Chat(context.Background(), "sess", "I'd like to research competitor pricing strategies", false)
	require.NoError(t, err)

	v, err := store.GetContext("sess", "pending_task")
	require.NoError(t, err)
	assert.Equal(t, "I'd like to research competitor pricing strategies", v)
}

func TestChatWorkflowPathUsesStoredPendingTask(t *testing.T) {
	o, store := testOrchestrator(t, func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{Content: "section text"}, nil
	})
	_, _ = store.CreateSession("sess")
	require.NoError(t, store.SetContext("sess", "pending_task", "research competitor pricing"))

	reply, err := o.Chat(context.Background(), "sess", "ok let's go ahead", false)
	require.NoError(t, err)
	assert.Contains(t, reply, "### Research")
	assert.Contains(t, reply, "### Verification")
	assert.Contains(t, reply, "### Synthesis")
}

func TestExecuteWorkflowRejectsUnknownName(t *testing.T) {
	o, _ := testOrchestrator(t, nil)
	_, err := o.ExecuteWorkflow(context.Background(), "not-a-real-workflow", "task", "sess")
	assert.Error(t, err)
}

func TestFormatTaskResultPrefersErrorOverContent(t *testing.T) {
	result := agentmgr.TaskResult{Text: `{"content":"ignored"}`, Error: "boom"}
	assert.Equal(t, "boom", formatTaskResult(result))
}

func TestFormatTaskResultPrefersRawResponseOverOutput(t *testing.T) {
	result := agentmgr.TaskResult{Text: `{"raw_response":"raw","output":"out"}`}
	assert.Equal(t, "raw", formatTaskResult(result))
}

func TestFormatTaskResultFallsBackToPlainText(t *testing.T) {
	result := agentmgr.TaskResult{Text: "plain text response"}
	assert.Equal(t, "plain text response", formatTaskResult(result))
}

func TestFormatTaskResultTruncatesAt1000Chars(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	result := agentmgr.TaskResult{Text: string(long)}
	assert.Len(t, formatTaskResult(result), sectionTruncateLimit)
}
