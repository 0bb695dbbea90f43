// Package orchestrator implements the Orchestrator (C7): the single chat
// entry point that classifies each user message and routes it to the Code
// path (PRD Builder + Ralph Loop), the Workflow path (Agent Manager's
// research/verify/synthesize flow), or a plain LLM chat turn.
//
// The Orchestrator holds references to every other component (C1-C6, C8)
// but nothing holds a reference back into it — the Realtime Bus talks to it
// only through the realtime.ChatHandler callback wired up by cmd/orchestratord,
// per spec.md §9.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"orchestrator/pkg/agentmgr"
	"orchestrator/pkg/llm"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/memory"
	"orchestrator/pkg/orchconfig"
	"orchestrator/pkg/prd"
	"orchestrator/pkg/ralph"
	"orchestrator/pkg/realtime"
	"orchestrator/pkg/sessionstore"
)

const chatSystemPrompt = "You are a helpful engineering assistant embedded in a multi-agent orchestration system. Answer concisely."

const chatHistoryWindow = 20

const sectionTruncateLimit = 1000

// Orchestrator is the C7 singleton.
type Orchestrator struct {
	store      sessionstore.Store
	bus        *realtime.Bus
	agents     *agentmgr.Manager
	llmClient  llm.Client
	prdBuilder *prd.Builder
	mem        *memory.Client
	ralphCfg   orchconfig.RalphConfig

	projectRoot  string
	ralphWorkDir string

	logger *logx.Logger
}

// New constructs an Orchestrator wired to every other component. llmClient
// is the model used for plain chat turns (not for agent task execution,
// which goes through the Agent Manager's own per-role client resolution).
func New(
	store sessionstore.Store,
	bus *realtime.Bus,
	agents *agentmgr.Manager,
	llmClient llm.Client,
	prdBuilder *prd.Builder,
	mem *memory.Client,
	ralphCfg orchconfig.RalphConfig,
	projectRoot, ralphWorkDir string,
) *Orchestrator {
	return &Orchestrator{
		store: store, bus: bus, agents: agents, llmClient: llmClient,
		prdBuilder: prdBuilder, mem: mem, ralphCfg: ralphCfg,
		projectRoot: projectRoot, ralphWorkDir: ralphWorkDir,
		logger: logx.NewLogger("orchestrator"),
	}
}

// ChatHandler adapts Chat to realtime.ChatHandler for wiring into ServeWS,
// without the realtime package importing this one.
func (o *Orchestrator) ChatHandler() realtime.ChatHandler {
	return func(sessionID, message string) {
		if _, err := o.Chat(context.Background(), sessionID, message, true); err != nil {
			o.logger.Error("chat handler failed for session %s: %v", sessionID, err)
		}
	}
}

func (o *Orchestrator) streamf(sessionID, format string, args ...any) {
	o.bus.Broadcast(realtime.ChatChannel(sessionID), realtime.KindChatStream, fmt.Sprintf(format, args...))
}

// Chat implements spec.md §4.7's chat(session_id, user_text, stream?) operation.
func (o *Orchestrator) Chat(ctx context.Context, sessionID, userText string, stream bool) (string, error) {
	if !o.store.SessionExists(sessionID) {
		if _, err := o.store.CreateSession(sessionID); err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
	}
	if _, err := o.store.AppendMessage(sessionID, sessionstore.RoleUser, userText, nil); err != nil {
		return "", fmt.Errorf("append user message: %w", err)
	}

	if stream {
		o.bus.Broadcast(realtime.ChatChannel(sessionID), realtime.KindChatMessage, userText)
	}

	r := classify(userText)

	var reply string
	var err error

	switch r {
	case routeCode:
		reply, err = o.codePath(ctx, sessionID, userText, stream)
	case routeWorkflow:
		task, resolveErr := o.resolvePendingTask(sessionID, userText)
		if resolveErr != nil {
			reply, err = o.chatPath(ctx, sessionID, stream)
			break
		}
		wf, wfErr := o.workflowPath(ctx, sessionID, task, stream)
		if wfErr != nil {
			err = wfErr
			break
		}
		reply = wf
	case routeResearchPending:
		if err = o.store.SetContext(sessionID, "pending_task", userText); err != nil {
			o.logger.Warn("failed to store pending_task for session %s: %v", sessionID, err)
		}
		reply, err = o.chatPath(ctx, sessionID, stream)
	default:
		reply, err = o.chatPath(ctx, sessionID, stream)
	}

	if err != nil {
		return "", err
	}

	if _, appendErr := o.store.AppendMessage(sessionID, sessionstore.RoleAssistant, reply, nil); appendErr != nil {
		o.logger.Warn("failed to append assistant reply for session %s: %v", sessionID, appendErr)
	}
	if stream {
		o.bus.Broadcast(realtime.ChatChannel(sessionID), realtime.KindChatResponse, reply)
	}

	return reply, nil
}

// resolvePendingTask implements spec.md §4.7 step 3b: a pending_task stored
// by a prior research-classified turn takes priority; otherwise the message
// itself must carry enough content to serve as the task.
func (o *Orchestrator) resolvePendingTask(sessionID, userText string) (string, error) {
	if v, err := o.store.GetContext(sessionID, "pending_task"); err == nil {
		if task, ok := v.(string); ok && task != "" {
			return task, nil
		}
	}
	if isSubstantiveTask(userText) {
		return userText, nil
	}
	return "", fmt.Errorf("no resolvable task")
}

// chatPath implements spec.md §4.7 step 3d: plain LLM chat turn over the
// last 20 messages of session history.
func (o *Orchestrator) chatPath(ctx context.Context, sessionID string, stream bool) (string, error) {
	history, err := o.store.RecentContext(sessionID, chatHistoryWindow)
	if err != nil {
		return "", fmt.Errorf("load chat history: %w", err)
	}

	transcript := make([]llm.Message, 0, len(history)+1)
	transcript = append(transcript, llm.Message{Role: llm.RoleSystem, Content: chatSystemPrompt})
	for _, m := range history {
		transcript = append(transcript, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}

	if stream {
		o.streamf(sessionID, "thinking...")
	}

	resp, err := o.llmClient.Complete(ctx, llm.Request{Transcript: transcript, Temperature: 0.4, MaxTokens: 2048})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return resp.Content, nil
}

func convertPRD(p *prd.PRD) *ralph.PRD {
	stories := make([]*ralph.Story, len(p.UserStories))
	for i, us := range p.UserStories {
		stories[i] = &ralph.Story{
			ID:                 us.ID,
			Title:              us.Title,
			Description:        us.Description,
			AcceptanceCriteria: us.AcceptanceCriteria,
			Priority:           us.Priority,
			Position:           i,
			Dependencies:       us.Dependencies,
			Status:             ralph.StatusNotStarted,
		}
	}
	return &ralph.PRD{Name: p.Name, Description: p.Description, BranchName: p.BranchName, Stories: stories}
}

// codePath implements spec.md §4.7.1.
func (o *Orchestrator) codePath(ctx context.Context, sessionID, userText string, stream bool) (string, error) {
	if stream {
		o.streamf(sessionID, "drafting PRD...")
	}

	builtPRD, err := o.prdBuilder.BuildPRD(ctx, userText, sessionID)
	if err != nil {
		return "", fmt.Errorf("build PRD: %w", err)
	}

	if stream {
		o.streamf(sessionID, "running implementation loop for %d stories...", len(builtPRD.UserStories))
	}

	rp := convertPRD(builtPRD)
	loop := ralph.New(rp, o.agents, o.mem, o.projectRoot, o.ralphWorkDir, o.ralphCfg)
	summary, err := loop.Run(ctx)
	if err != nil {
		return "", fmt.Errorf("ralph run: %w", err)
	}

	pushOK, pushErr := ralph.NewGitCommitDriver().Push(ctx, o.ralphWorkDir, rp.BranchName)
	if pushErr != nil {
		o.logger.Warn("final push failed for branch %s: %v", rp.BranchName, pushErr)
	}

	return composeCodeReport(rp, summary, pushOK, pushErr), nil
}

func composeCodeReport(p *ralph.PRD, summary ralph.Summary, pushOK bool, pushErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n%s\n\n", p.Name, p.Description)
	fmt.Fprintf(&b, "Status: **%s** (%d/%d stories completed, %.0f%%)\n\n", summary.Status, summary.StoriesCompleted, summary.StoriesTotal, summary.CompletionPercent)

	b.WriteString("### Stories\n")
	for _, s := range p.Stories {
		fmt.Fprintf(&b, "- `%s` %s — %s\n", s.ID, s.Title, s.Status)
	}

	if len(summary.CompletedStories) > 0 {
		b.WriteString("\n### Completed\n")
		for _, s := range p.Stories {
			if s.Status == ralph.StatusCompleted {
				fmt.Fprintf(&b, "- `%s` commit `%s`\n", s.ID, s.CommitRef)
			}
		}
	}

	if len(summary.FailedStories) > 0 {
		b.WriteString("\n### Failed\n")
		for _, s := range p.Stories {
			if s.Status == ralph.StatusFailed {
				fmt.Fprintf(&b, "- `%s`: %s\n", s.ID, s.LastError)
			}
		}
	}

	b.WriteString("\n### Push\n")
	if pushErr != nil {
		fmt.Fprintf(&b, "push failed: %v\n", pushErr)
	} else if pushOK {
		b.WriteString("pushed to origin.\n")
	}

	return b.String()
}

// WorkflowResearchVerifySynthesize names the canonical workflow run by the Workflow path and the
// direct ExecuteWorkflow entry point.
const WorkflowResearchVerifySynthesize = "research_verify_synthesize"

// ExecuteWorkflow implements spec.md §4.7's execute_workflow(name, task,
// session_id) direct API entry, bypassing classification.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, name, task, sessionID string) (agentmgr.WorkflowRecord, error) {
	if name != WorkflowResearchVerifySynthesize {
		return agentmgr.WorkflowRecord{}, fmt.Errorf("unknown workflow %q", name)
	}
	workflowID := fmt.Sprintf("wf-%d", time.Now().UTC().UnixNano())
	return o.runWorkflow(ctx, sessionID, task, workflowID)
}

// workflowPath implements spec.md §4.7.2 and returns the composed assistant message.
func (o *Orchestrator) workflowPath(ctx context.Context, sessionID, task string, stream bool) (string, error) {
	workflowID := fmt.Sprintf("wf-%d", time.Now().UTC().UnixNano())
	wf := &sessionstore.Workflow{
		WorkflowID: workflowID,
		Kind:       sessionstore.WorkflowResearchVerifySynthesize,
		Status:     sessionstore.WorkflowInitialized,
		StartedAt:  time.Now().UTC(),
	}
	if err := o.store.SaveWorkflow(sessionID, wf); err != nil {
		o.logger.Warn("failed to save workflow record: %v", err)
	}
	o.bus.Broadcast(realtime.WorkflowChannel(workflowID), realtime.KindWorkflowUpdate, map[string]string{"status": "started"})

	if stream {
		o.streamf(sessionID, "running research/verify/synthesize workflow...")
	}

	record, err := o.runWorkflow(ctx, sessionID, task, workflowID)

	wf.Status = sessionstore.WorkflowCompleted
	wf.FinishedAt = time.Now().UTC()
	if err != nil {
		wf.Status = sessionstore.WorkflowFailed
	}
	if saveErr := o.store.SaveWorkflow(sessionID, wf); saveErr != nil {
		o.logger.Warn("failed to update workflow record: %v", saveErr)
	}
	o.bus.Broadcast(realtime.WorkflowChannel(workflowID), realtime.KindWorkflowUpdate, map[string]string{"status": string(wf.Status)})

	if err != nil {
		return "", err
	}

	return composeWorkflowMessage(record), nil
}

// runWorkflow attempts the canonical parallel flow, degrading to the
// sequential equivalent on any C5/sub-agent error, per spec.md §4.7.2 step 2.
func (o *Orchestrator) runWorkflow(ctx context.Context, sessionID, task, workflowID string) (agentmgr.WorkflowRecord, error) {
	record, err := o.agents.ExecuteResearchVerifySynthesize(ctx, task, "", workflowID)
	if err == nil {
		return record, nil
	}
	o.logger.Warn("parallel research/verify/synthesize failed (%v), degrading to sequential", err)
	return o.sequentialWorkflow(ctx, task)
}

func (o *Orchestrator) sequentialWorkflow(ctx context.Context, task string) (agentmgr.WorkflowRecord, error) {
	var record agentmgr.WorkflowRecord

	research, err := o.agents.CreateAgent(fmt.Sprintf("ResearchAgent-seq-%d", time.Now().UTC().UnixMilli()), agentmgr.RoleResearch, "", "", nil, "")
	if err != nil {
		return record, fmt.Errorf("create research agent: %w", err)
	}
	record.ResearchAgentID = research.ID
	record.Research, _ = o.agents.ExecuteTask(ctx, research.ID, "Research: "+task, o.ralphCfg.StoryTaskTimeout, true)

	verify, err := o.agents.CreateAgent(fmt.Sprintf("VerifyAgent-seq-%d", time.Now().UTC().UnixMilli()), agentmgr.RoleVerify, "", "", nil, "")
	if err != nil {
		return record, fmt.Errorf("create verify agent: %w", err)
	}
	record.VerifyAgentID = verify.ID
	record.Verify, _ = o.agents.ExecuteTask(ctx, verify.ID, "Verify the following research:\n"+record.Research.Text, o.ralphCfg.StoryTaskTimeout, true)

	synthesis, err := o.agents.CreateAgent(fmt.Sprintf("SynthesisAgent-seq-%d", time.Now().UTC().UnixMilli()), agentmgr.RoleSynthesis, "", "", nil, "")
	if err != nil {
		return record, fmt.Errorf("create synthesis agent: %w", err)
	}
	record.SynthesisAgentID = synthesis.ID
	prompt := fmt.Sprintf("Synthesize a final answer for task %q from:\n\n## Research\n%s\n\n## Verification\n%s", task, record.Research.Text, record.Verify.Text)
	record.Synthesis, _ = o.agents.ExecuteTask(ctx, synthesis.ID, prompt, o.ralphCfg.StoryTaskTimeout, true)

	if !record.Synthesis.Success() {
		return record, fmt.Errorf("sequential workflow: synthesis produced nothing usable")
	}
	return record, nil
}

func composeWorkflowMessage(record agentmgr.WorkflowRecord) string {
	var b strings.Builder
	b.WriteString("### Research\n")
	b.WriteString(formatTaskResult(record.Research))
	b.WriteString("\n\n### Verification\n")
	b.WriteString(formatTaskResult(record.Verify))
	b.WriteString("\n\n### Synthesis\n")
	b.WriteString(formatTaskResult(record.Synthesis))
	return b.String()
}

// formatTaskResult implements spec.md §4.7.2 step 3's field-preference rule:
// error, then raw_response, then output, then content, then a JSON dump of
// the whole result — truncated at 1000 characters.
func formatTaskResult(result agentmgr.TaskResult) string {
	if result.Error != "" {
		return truncate(result.Error)
	}

	var parsed map[string]any
	if json.Unmarshal([]byte(result.Text), &parsed) == nil {
		for _, key := range []string{"error", "raw_response", "output", "content"} {
			if v, ok := parsed[key]; ok {
				if s, ok := v.(string); ok && s != "" {
					return truncate(s)
				}
			}
		}
		if dump, err := json.Marshal(parsed); err == nil {
			return truncate(string(dump))
		}
	}

	if result.Text != "" {
		return truncate(result.Text)
	}
	return "(no output)"
}

func truncate(s string) string {
	if len(s) <= sectionTruncateLimit {
		return s
	}
	return s[:sectionTruncateLimit]
}
