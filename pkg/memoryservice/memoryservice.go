// Package memoryservice is a thin HTTP client for the external vector
// memory service described in spec.md §6, grounded on the request/response
// shape and client layout of orchestrator/pkg/forge/gitea's Client.
package memoryservice

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

// CommitRequest is the body of POST /memory/commit.
type CommitRequest struct {
	Artifact         Artifact `json:"artifact"`
	ActorID          string   `json:"actor_id"`
	ActorType        string   `json:"actor_type"`
	ToolIDs          []string `json:"tool_ids,omitempty"`
	GenerateEmbedding bool    `json:"generate_embedding"`
	StoreInCold      bool     `json:"store_in_cold"`
}

// Artifact is the payload committed to the memory service.
type Artifact struct {
	ArtifactType string         `json:"artifact_type"`
	Content      string         `json:"content"`
	CreatedBy    string         `json:"created_by"`
	SessionID    string         `json:"session_id,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ArtifactTypeResearchSnippet is the one artifact_type value spec.md names.
const ArtifactTypeResearchSnippet = "research_snippet"

// CommitResponse is the body of POST /memory/commit's reply.
type CommitResponse struct {
	MemoryID string `json:"memory_id"`
}

// QueryRequest is the body of POST /memory/query.
type QueryRequest struct {
	QueryText          string   `json:"query_text"`
	TopK               int      `json:"top_k"`
	FilterArtifactType string   `json:"filter_artifact_type,omitempty"`
	MinSimilarity      *float64 `json:"min_similarity,omitempty"`
}

// QueryResult is one match in a QueryResponse.
type QueryResult struct {
	Content         string  `json:"content"`
	ArtifactType    string  `json:"artifact_type"`
	ArtifactContent string  `json:"artifact_content"`
	Score           float64 `json:"score"`
}

// QueryResponse is the body of POST /memory/query's reply.
type QueryResponse struct {
	Results []QueryResult `json:"results"`
}

// Client talks to the remote memory service. Callers must tolerate it being
// unreachable: commit failures are logged, not propagated (spec.md §4.4);
// query failures yield an empty result list.
type Client struct {
	baseURL string
	logger  *logx.Logger
	http    *http.Client
}

// New constructs a Client. baseURL has no trailing slash requirement.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logx.NewLogger("memoryservice"),
		http:    &http.Client{Timeout: 30 * time.Second},
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
		return fmt.Errorf("memory service unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("memory service returned %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Commit sends one artifact to the remote service. Errors are returned to
// the caller, which per spec.md §4.4 must log-and-continue rather than fail.
func (c *Client) Commit(ctx context.Context, req CommitRequest) (CommitResponse, error) {
	var out CommitResponse
	if err := c.post(ctx, "/memory/commit", req, &out); err != nil {
		return CommitResponse{}, err
	}
	return out, nil
}

// Query asks the remote service for semantically similar prior records. On
// any error it returns an empty list rather than propagating, per spec.md
// §4.4's "tolerates the service being unreachable."
func (c *Client) Query(ctx context.Context, req QueryRequest) []QueryResult {
	var out QueryResponse
	if err := c.post(ctx, "/memory/query", req, &out); err != nil {
		c.logger.Warn("memory query failed, degrading to empty result: %v", err)
		return nil
	}
	return out.Results
}
