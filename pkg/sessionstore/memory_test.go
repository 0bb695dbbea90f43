package sessionstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionGeneratesIDWhenEmpty(t *testing.T) {
	s := NewMemoryStore(0)
	id, err := s.CreateSession("")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, s.SessionExists(id))
}

func TestCreateSessionIsIdempotent(t *testing.T) {
	s := NewMemoryStore(0)
	id, err := s.CreateSession("fixed-id")
	require.NoError(t, err)

	again, err := s.CreateSession("fixed-id")
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestGetSessionUnknownReturnsNotFound(t *testing.T) {
	s := NewMemoryStore(0)
	_, err := s.GetSession("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAppendMessagePreservesOrder(t *testing.T) {
	s := NewMemoryStore(0)
	_, _ = s.CreateSession("sess")

	_, err := s.AppendMessage("sess", RoleUser, "first", nil)
	require.NoError(t, err)
	_, err = s.AppendMessage("sess", RoleAssistant, "second", nil)
	require.NoError(t, err)

	msgs, err := s.RecentContext("sess", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)

	sess, err := s.GetSession("sess")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.MessageCount)
}

func TestAppendMessageAutoCreatesSession(t *testing.T) {
	s := NewMemoryStore(0)
	_, err := s.AppendMessage("new-sess", RoleUser, "hi", nil)
	require.NoError(t, err)
	assert.True(t, s.SessionExists("new-sess"))
}

func TestAppendMessageEnforcesMaxRetention(t *testing.T) {
	s := NewMemoryStore(2)
	_, _ = s.CreateSession("sess")
	for _, text := range []string{"a", "b", "c"} {
		_, err := s.AppendMessage("sess", RoleUser, text, nil)
		require.NoError(t, err)
	}

	msgs, err := s.RecentContext("sess", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Content)
	assert.Equal(t, "c", msgs[1].Content)
}

func TestRecentContextReturnsOnlyLastN(t *testing.T) {
	s := NewMemoryStore(0)
	_, _ = s.CreateSession("sess")
	for _, text := range []string{"a", "b", "c", "d"} {
		_, _ = s.AppendMessage("sess", RoleUser, text, nil)
	}

	msgs, err := s.RecentContext("sess", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "c", msgs[0].Content)
	assert.Equal(t, "d", msgs[1].Content)
}

func TestSetAndGetContext(t *testing.T) {
	s := NewMemoryStore(0)
	_, _ = s.CreateSession("sess")

	require.NoError(t, s.SetContext("sess", "mode", "code"))
	v, err := s.GetContext("sess", "mode")
	require.NoError(t, err)
	assert.Equal(t, "code", v)

	all, err := s.GetAllContext("sess")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"mode": "code"}, all)
}

func TestSaveAndGetWorkflowUpdatesActiveWorkflowID(t *testing.T) {
	s := NewMemoryStore(0)
	_, _ = s.CreateSession("sess")

	wf := &Workflow{WorkflowID: "wf-1", Kind: WorkflowRalph, Status: WorkflowRunning}
	require.NoError(t, s.SaveWorkflow("sess", wf))

	got, err := s.GetWorkflow("sess", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, WorkflowRunning, got.Status)

	sess, err := s.GetSession("sess")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", sess.ActiveWorkflowID)
}

func TestGetWorkflowUnknownReturnsNotFound(t *testing.T) {
	s := NewMemoryStore(0)
	_, err := s.GetWorkflow("sess", "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
