package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_AppendOrder(t *testing.T) {
	s := NewSession("s1")

	require.NoError(t, s.AppendUser("Email bob"))
	calls := []ToolCallRequest{
		{ID: "c1", Name: "search_email", Arguments: `{"query":"from:bob"}`},
		{ID: "c2", Name: "list_email_labels", Arguments: `{}`},
	}
	require.NoError(t, s.AppendAssistant("", calls))
	assert.Equal(t, calls, s.PendingToolCalls())

	require.ErrorIs(t, s.AppendUser("too early"), ErrPendingToolCalls)
	require.ErrorIs(t, s.AppendAssistant("again", nil), ErrPendingToolCalls)

	require.NoError(t, s.AppendToolResults([]ToolResult{
		{ToolCallID: "c1", Name: "search_email", Content: "Found 1 emails"},
		{ToolCallID: "c2", Name: "list_email_labels", Content: "INBOX", IsError: true},
	}))
	assert.Empty(t, s.PendingToolCalls())

	msgs := s.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].HasToolCalls())
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "search_email", msgs[2].ToolName)
	assert.True(t, msgs[3].IsError)

	require.NoError(t, s.AppendUser("thanks"))
	assert.Equal(t, 5, s.Len())
}

func TestSession_ToolResultMismatch(t *testing.T) {
	s := NewSession("s1")
	require.NoError(t, s.AppendUser("hi"))
	require.NoError(t, s.AppendAssistant("", []ToolCallRequest{{ID: "a", Name: "x"}, {ID: "b", Name: "y"}}))

	err := s.AppendToolResults([]ToolResult{{ToolCallID: "a"}})
	require.ErrorIs(t, err, ErrToolResultMismatch)

	err = s.AppendToolResults([]ToolResult{{ToolCallID: "b"}, {ToolCallID: "a"}})
	require.ErrorIs(t, err, ErrToolResultMismatch)

	assert.Equal(t, 2, s.Len(), "rejected results leave history untouched")
	assert.Len(t, s.PendingToolCalls(), 2)

	err = s.AppendToolResults(nil)
	require.ErrorIs(t, err, ErrToolResultMismatch)
}

func TestSession_ResultsWithoutPendingCalls(t *testing.T) {
	s := NewSession("s1")
	require.NoError(t, s.AppendToolResults(nil))
	require.ErrorIs(t, s.AppendToolResults([]ToolResult{{ToolCallID: "x"}}), ErrToolResultMismatch)
}

func TestSession_MessagesIsACopy(t *testing.T) {
	s := NewSession("s1")
	require.NoError(t, s.AppendUser("hi"))
	require.NoError(t, s.AppendAssistant("", []ToolCallRequest{{ID: "a", Name: "x"}}))

	msgs := s.Messages()
	msgs[0].Content = "changed"
	msgs[1].ToolCalls[0].Name = "changed"

	again := s.Messages()
	assert.Equal(t, "hi", again[0].Content)
	assert.Equal(t, "x", again[1].ToolCalls[0].Name)
}

func TestSession_ClearHistoryKeepsState(t *testing.T) {
	s := NewSession("s1")
	s.SetState("user_name", "Ada")
	require.NoError(t, s.AppendUser("hi"))
	require.NoError(t, s.AppendAssistant("", []ToolCallRequest{{ID: "a", Name: "x"}}))

	s.ClearHistory()

	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.PendingToolCalls())
	v, ok := s.GetState("user_name")
	require.True(t, ok)
	assert.Equal(t, "Ada", v)
	require.NoError(t, s.AppendUser("fresh start"))
}

func TestSession_StateIsACopy(t *testing.T) {
	s := NewSession("s1")
	s.SetState("k", 1)

	st := s.State()
	st["k"] = 2
	st["other"] = true

	v, _ := s.GetState("k")
	assert.Equal(t, 1, v)
	_, ok := s.GetState("other")
	assert.False(t, ok)
}

func TestSession_Touch(t *testing.T) {
	s := NewSession("s1")
	at := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	s.Touch(at)
	assert.Equal(t, at, s.LastActiveAt())
}

func TestSession_SnapshotRestore(t *testing.T) {
	s := NewSession("s1")
	s.SetState("lang", "en")
	require.NoError(t, s.AppendUser("Find mail from Bob"))
	require.NoError(t, s.AppendAssistant("", []ToolCallRequest{{ID: "c1", Name: "search_email", Arguments: `{"query":"from:bob"}`}}))
	require.NoError(t, s.AppendToolResults([]ToolResult{{ToolCallID: "c1", Name: "search_email", Content: "Found 2 emails"}}))
	require.NoError(t, s.AppendAssistant("Bob wrote twice.", nil))

	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Touch(at)

	snap := s.Snapshot()
	restored, err := snap.Restore()
	require.NoError(t, err)

	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, s.CreatedAt, restored.CreatedAt)
	assert.Equal(t, at, restored.LastActiveAt())
	assert.Equal(t, s.Messages(), restored.Messages())
	assert.Equal(t, s.State(), restored.State())
	require.NoError(t, restored.AppendUser("next"))
}

func TestRestoreSession_RejectsBrokenHistory(t *testing.T) {
	now := time.Now().UTC()

	t.Run("trailing unanswered calls", func(t *testing.T) {
		_, err := RestoreSession("s", now, now, []Message{
			NewUserMessage("hi"),
			NewAssistantMessage("", []ToolCallRequest{{ID: "a", Name: "x"}}),
		}, nil)
		require.ErrorIs(t, err, ErrPendingToolCalls)
	})

	t.Run("orphan tool message", func(t *testing.T) {
		_, err := RestoreSession("s", now, now, []Message{
			NewUserMessage("hi"),
			NewToolMessage(ToolResult{ToolCallID: "a", Name: "x"}),
		}, nil)
		require.ErrorIs(t, err, ErrToolResultMismatch)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := RestoreSession("s", now, now, []Message{{Role: RoleSystem, Content: "sys"}}, nil)
		require.Error(t, err)
	})
}
