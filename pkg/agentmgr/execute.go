package agentmgr

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"orchestrator/pkg/llm"
	"orchestrator/pkg/realtime"
)

// TaskResult is the outcome of one execute_task call.
type TaskResult struct {
	AgentID string
	Text    string
	Error   string
}

func (r TaskResult) Success() bool { return r.Error == "" }

// ExecuteTask composes a prompt from the agent's system prompt, the top-3
// past learnings for taskText (when injectLearnings), and the task itself;
// calls the LLM client; records the attempt; emits an agent event; writes a
// diary entry via the memory client, per spec.md §4.5.
func (m *Manager) ExecuteTask(ctx context.Context, agentID, taskText string, timeout time.Duration, injectLearnings bool) (TaskResult, error) {
	m.mu.RLock()
	agent, ok := m.agents[agentID]
	m.mu.RUnlock()
	if !ok {
		return TaskResult{}, ErrAgentNotFound
	}

	m.setStatus(agentID, StatusRunning)

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	m.mu.Lock()
	agent.cancel = cancel
	m.mu.Unlock()
	defer cancel()

	prompt := m.composePrompt(taskCtx, agent, taskText, injectLearnings)

	client, err := m.clientFor(agent.Role)
	started := time.Now().UTC()
	result := TaskResult{AgentID: agentID}

	if err != nil {
		result.Error = err.Error()
	} else {
		resp, callErr := client.Complete(taskCtx, llm.Request{
			Transcript: []llm.Message{
				{Role: llm.RoleSystem, Content: agent.SystemPrompt},
				{Role: llm.RoleUser, Content: prompt},
			},
			Temperature: 0.2,
			MaxTokens:   4096,
		})
		if callErr != nil {
			if taskCtx.Err() != nil {
				result.Error = "timeout"
			} else {
				result.Error = callErr.Error()
			}
		} else {
			result.Text = resp.Content
		}
	}
	ended := time.Now().UTC()

	m.mu.Lock()
	agent.TaskHistory = append(agent.TaskHistory, TaskAttempt{
		TaskText: taskText, Success: result.Success(), Error: result.Error, Result: result.Text,
		StartedAt: started, EndedAt: ended,
	})
	agent.Status = StatusCompleted
	m.mu.Unlock()

	m.emit(realtime.AgentChannel(agentID), realtime.KindAgentLog, result)

	if m.memClient != nil {
		changes := 0
		if result.Success() {
			changes = 1
		}
		_, _ = m.memClient.Diary(context.Background(), agentID, agent.Name, len(agent.TaskHistory), result.Success(), changes, result.Text, result.Error, nil, nil, nil)
	}

	return result, nil
}

func (m *Manager) composePrompt(ctx context.Context, agent *Agent, taskText string, injectLearnings bool) string {
	prompt := taskText
	if !injectLearnings || m.memClient == nil {
		return prompt
	}

	learnings := m.memClient.QueryPastLearnings(ctx, taskText, nil, 3, 0.0)
	if len(learnings) == 0 {
		return prompt
	}

	section := "\n\n## Learnings from Similar Past Tasks\n"
	for i, l := range learnings {
		if i >= 3 {
			break
		}
		section += fmt.Sprintf("- %s\n", l.Content)
	}
	return prompt + section
}

// CoordinationMode selects how ExecuteParallelTasks joins its results.
type CoordinationMode string

const (
	ModeIndependent     CoordinationMode = "independent"
	ModeCollaborative   CoordinationMode = "collaborative"
	ModeSequentialMerge CoordinationMode = "sequential_merge"
)

// ParallelTask is one unit of work for ExecuteParallelTasks.
type ParallelTask struct {
	AgentID  string
	TaskText string
	Timeout  time.Duration
}

// ExecuteParallelTasks fans all tasks out concurrently and joins per mode.
func (m *Manager) ExecuteParallelTasks(ctx context.Context, tasks []ParallelTask, mode CoordinationMode) (map[string]TaskResult, error) {
	results := make(map[string]TaskResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	out := make(chan TaskResult, len(tasks))

	for _, t := range tasks {
		t := t
		g.Go(func() error {
			r, err := m.ExecuteTask(gctx, t.AgentID, t.TaskText, t.Timeout, true)
			if err != nil {
				r = TaskResult{AgentID: t.AgentID, Error: err.Error()}
			}
			if mode == ModeCollaborative {
				m.emit(realtime.GlobalChannel, realtime.KindAgentCollaboration, map[string]any{
					"agent_id": t.AgentID, "kind": "intermediate_result", "result": r,
				})
			}
			out <- r
			return nil
		})
	}

	_ = g.Wait()
	close(out)
	for r := range out {
		results[r.AgentID] = r
	}
	return results, nil
}

// WorkflowRecord is the result of execute_workflow_parallel.
type WorkflowRecord struct {
	ResearchAgentID  string
	VerifyAgentID    string
	SynthesisAgentID string
	Research         TaskResult
	Verify           TaskResult
	Synthesis        TaskResult
}

// ExecuteResearchVerifySynthesize implements the canonical multi-agent flow
// of spec.md §4.5: research+verify run in parallel (collaborative), then
// synthesis consumes both outputs verbatim. workflowID, if non-empty,
// scopes the intermediate workflow_update(running, ...) markers spec.md
// §8 Scenario S4 requires; callers with no workflow record pass "".
func (m *Manager) ExecuteResearchVerifySynthesize(ctx context.Context, task, parentID, workflowID string) (WorkflowRecord, error) {
	nowMs := time.Now().UTC().UnixMilli()

	research, err := m.CreateAgent(fmt.Sprintf("ResearchAgent-%d", nowMs), RoleResearch, "", "", nil, parentID)
	if err != nil {
		return WorkflowRecord{}, err
	}
	verify, err := m.CreateAgent(fmt.Sprintf("VerifyAgent-%d", nowMs), RoleVerify, "", "", nil, parentID)
	if err != nil {
		return WorkflowRecord{}, err
	}
	synthesis, err := m.CreateAgent(fmt.Sprintf("SynthesisAgent-%d", nowMs), RoleSynthesis, "", "", nil, parentID)
	if err != nil {
		return WorkflowRecord{}, err
	}

	timeout := time.Duration(0)
	if m.cfg.DefaultTaskTimeout > 0 {
		timeout = m.cfg.DefaultTaskTimeout
	} else {
		timeout = 300 * time.Second
	}

	if workflowID != "" {
		m.emit(realtime.WorkflowChannel(workflowID), realtime.KindWorkflowUpdate,
			map[string]string{"status": "running", "phase": "research_verify_parallel"})
	}

	results, err := m.ExecuteParallelTasks(ctx, []ParallelTask{
		{AgentID: research.ID, TaskText: task, Timeout: timeout},
		{AgentID: verify.ID, TaskText: task, Timeout: timeout},
	}, ModeCollaborative)
	if err != nil {
		return WorkflowRecord{}, err
	}

	researchResult := results[research.ID]
	verifyResult := results[verify.ID]

	if workflowID != "" {
		m.emit(realtime.WorkflowChannel(workflowID), realtime.KindWorkflowUpdate,
			map[string]string{"status": "running", "phase": "synthesis"})
	}

	synthPrompt := fmt.Sprintf("Research output:\n%s\n\nVerification output:\n%s\n\nSynthesize a final result from the above.", researchResult.Text, verifyResult.Text)
	synthResult, err := m.ExecuteTask(ctx, synthesis.ID, synthPrompt, timeout, false)
	if err != nil {
		synthResult = TaskResult{AgentID: synthesis.ID, Error: err.Error()}
	}

	return WorkflowRecord{
		ResearchAgentID:  research.ID,
		VerifyAgentID:    verify.ID,
		SynthesisAgentID: synthesis.ID,
		Research:         researchResult,
		Verify:           verifyResult,
		Synthesis:        synthResult,
	}, nil
}
