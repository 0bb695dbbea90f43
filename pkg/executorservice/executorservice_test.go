package executorservice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnReturnsExecutionID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/executor/spawn", r.URL.Path)
		var req SpawnRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "agent-1", req.AgentID)
		_ = json.NewEncoder(w).Encode(SpawnResponse{ExecutionID: "exec-1"})
	}))
	defer server.Close()

	client := New(server.URL)
	resp, err := client.Spawn(context.Background(), SpawnRequest{AgentID: "agent-1", Role: "coder"})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", resp.ExecutionID)
}

func TestSpawnPropagatesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no capacity"))
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.Spawn(context.Background(), SpawnRequest{AgentID: "agent-1"})
	assert.Error(t, err)
}

func TestExecuteReturnsOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/executor/execute", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ExecuteResponse{Output: "done"})
	}))
	defer server.Close()

	client := New(server.URL)
	resp, err := client.Execute(context.Background(), ExecuteRequest{ExecutionID: "exec-1", Prompt: "run tests"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Output)
}

func TestExecutePropagatesUnreachableError(t *testing.T) {
	client := New("http://127.0.0.1:0")
	_, err := client.Execute(context.Background(), ExecuteRequest{ExecutionID: "exec-1"})
	assert.Error(t, err)
}
