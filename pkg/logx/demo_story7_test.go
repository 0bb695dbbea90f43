package logx

import (
	"context"
	"os"
	"testing"
)

// agentIDKey is defined in context_debug_test.go.

// TestContextAwareDebugLogging demonstrates domain-filtered, context-aware
// debug logging across the orchestration core's roles.
func TestContextAwareDebugLogging(t *testing.T) {
	// Enable debug logging for this demo.
	SetDebugConfig(true, false, ".")
	SetDebugDomains([]string{"ralph", "agentmgr", "orchestrator"})

	// Create context with agent ID under agentIDKey.
	ctx := context.WithValue(context.Background(), agentIDKey, "research-001")

	t.Log("=== Context-Aware Debug Logging Demo ===")

	// 1. Domain-filtered debug logging.
	Debug(ctx, "ralph", "Task processing started: %s", "implement health check")
	Debug(ctx, "agentmgr", "Story validation: %s", "all requirements met")
	Debug(ctx, "orchestrator", "Message routing: %s -> %s", "research-1", "synthesis")

	// This should be filtered out if we only enable ralph,agentmgr,orchestrator domains.
	Debug(ctx, "unknown", "This should not appear")

	// 2. Convenient helper functions.
	DebugState(ctx, "ralph", "transition", "NOT_STARTED -> IN_PROGRESS", "story picked up")
	DebugMessage(ctx, "orchestrator", "CHAT", "queued for processing")
	DebugFlow(ctx, "ralph", "quality-gate", "complete", "3 files changed")

	// 3. Environment variable control demo.
	t.Log("--- Testing environment variable control ---")

	// Test with different domain filtering.
	SetDebugDomains([]string{"ralph"}) // Only enable ralph domain
	Debug(ctx, "ralph", "This should appear (ralph domain enabled)")
	Debug(ctx, "agentmgr", "This should NOT appear (agentmgr domain disabled)")

	// 4. File logging demo (if enabled via environment)
	if os.Getenv("DEBUG_FILE") == "1" {
		t.Log("--- File logging enabled via DEBUG_FILE=1 ---")
		DebugToFile(ctx, "ralph", "test_debug.log", "File debug test: %s", "implementation complete")
	}

	t.Log("=== demo complete ===")

	// Reset for other tests.
	SetDebugConfig(false, false, ".")
	SetDebugDomains(nil)
}

// TestEnvironmentVariableControlDemo shows how to use environment variables.
func TestEnvironmentVariableControlDemo(t *testing.T) {
	t.Log("=== Environment Variable Control Examples ===")
	t.Log("To enable debug logging for specific domains:")
	t.Log("  DEBUG=1 DEBUG_DOMAINS=ralph,agentmgr go test")
	t.Log("  DEBUG=1 DEBUG_FILE=1 DEBUG_DIR=./logs go test")
	t.Log("")
	t.Log("To enable debug for all domains:")
	t.Log("  DEBUG=1 go test")
	t.Log("")
	t.Log("To enable file logging:")
	t.Log("  DEBUG=1 DEBUG_FILE=1 go test")
}
