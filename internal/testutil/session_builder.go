package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spartacus-desktop/spartacus/core"
)

// SessionBuilder builds a session with a prepared history.
//
//	sess := testutil.NewSessionBuilder(t, "s1").
//		User("find mail from bob").
//		ToolCalls(core.ToolCallRequest{ID: "c1", Name: "search_email", Arguments: `{"query":"bob"}`}).
//		Results(core.ToolResult{ToolCallID: "c1", Name: "search_email", Content: "1 email"}).
//		Assistant("Found one.").
//		Build()
//
// Any append the session rejects fails the test immediately.
type SessionBuilder struct {
	t    testing.TB
	sess *core.Session
}

// NewSessionBuilder starts a builder for an empty session with the given id.
func NewSessionBuilder(t testing.TB, id string) *SessionBuilder {
	return &SessionBuilder{t: t, sess: core.NewSession(id)}
}

// User appends a user message.
func (b *SessionBuilder) User(text string) *SessionBuilder {
	b.t.Helper()
	require.NoError(b.t, b.sess.AppendUser(text))
	return b
}

// Assistant appends a text-only assistant message.
func (b *SessionBuilder) Assistant(text string) *SessionBuilder {
	b.t.Helper()
	require.NoError(b.t, b.sess.AppendAssistant(text, nil))
	return b
}

// ToolCalls appends an assistant message requesting calls.
func (b *SessionBuilder) ToolCalls(calls ...core.ToolCallRequest) *SessionBuilder {
	b.t.Helper()
	require.NoError(b.t, b.sess.AppendAssistant("", calls))
	return b
}

// Results answers the pending calls.
func (b *SessionBuilder) Results(results ...core.ToolResult) *SessionBuilder {
	b.t.Helper()
	require.NoError(b.t, b.sess.AppendToolResults(results))
	return b
}

// State sets a state key.
func (b *SessionBuilder) State(key string, value any) *SessionBuilder {
	b.sess.SetState(key, value)
	return b
}

// Build returns the session.
func (b *SessionBuilder) Build() *core.Session { return b.sess }
