// Package executorservice is a thin HTTP client for an optional remote
// sub-agent executor, the third out-of-scope external collaborator named in
// SPEC_FULL.md §6 alongside the LLM and memory services. Agent Manager (C5)
// does not require this to run tasks — execute_task calls the LLM client
// (C3) in-process — but a deployment may delegate task execution to a
// separate fleet via this contract. Grounded on the same request/response
// shape as orchestrator/pkg/memoryservice and orchestrator/pkg/forge/gitea.
package executorservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"orchestrator/pkg/logx"
)

// SpawnRequest asks the executor to provision a sandbox for an agent.
type SpawnRequest struct {
	AgentID      string `json:"agent_id"`
	Role         string `json:"role"`
	WorkspaceDir string `json:"workspace_dir"`
}

// SpawnResponse identifies the provisioned execution handle.
type SpawnResponse struct {
	ExecutionID string `json:"execution_id"`
}

// ExecuteRequest asks the executor to run one task against a spawned handle.
type ExecuteRequest struct {
	ExecutionID string        `json:"execution_id"`
	Prompt      string        `json:"prompt"`
	TimeoutSecs int           `json:"timeout_secs"`
}

// ExecuteResponse is the result of one remote task execution.
type ExecuteResponse struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Client talks to the remote sub-agent executor. Any error is returned to
// the caller. No package in this module calls it; execute_task always uses
// the in-process LLM client.
type Client struct {
	baseURL string
	logger  *logx.Logger
	http    *http.Client
}

// New constructs a Client.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logx.NewLogger("executorservice"),
		http:    &http.Client{Timeout: 180 * time.Second},
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("executor service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("executor service returned %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Spawn provisions an execution handle for an agent.
func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (SpawnResponse, error) {
	var out SpawnResponse
	if err := c.post(ctx, "/executor/spawn", req, &out); err != nil {
		return SpawnResponse{}, err
	}
	return out, nil
}

// Execute runs one task against a previously spawned execution handle.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error) {
	var out ExecuteResponse
	if err := c.post(ctx, "/executor/execute", req, &out); err != nil {
		return ExecuteResponse{}, err
	}
	return out, nil
}
