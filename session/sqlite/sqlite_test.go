package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spartacus-desktop/spartacus/core"
	"github.com/spartacus-desktop/spartacus/session"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SaveLoad(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := core.NewSession("s1")
	require.NoError(t, sess.AppendUser("find mail from bob"))
	require.NoError(t, sess.AppendAssistant("", []core.ToolCallRequest{{ID: "c1", Name: "search_email", Arguments: `{"query":"bob"}`}}))
	require.NoError(t, sess.AppendToolResults([]core.ToolResult{{ToolCallID: "c1", Name: "search_email", Content: "Found 1 email"}}))
	sess.SetState("user_name", "Ada")

	require.NoError(t, s.Save(ctx, sess.Snapshot()))

	snap, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.ID)
	require.Len(t, snap.Messages, 3)
	assert.Equal(t, "c1", snap.Messages[1].ToolCalls[0].ID)
	assert.Equal(t, "Ada", snap.State["user_name"])
	assert.WithinDuration(t, sess.CreatedAt, snap.CreatedAt, time.Millisecond)

	restored, err := snap.Restore()
	require.NoError(t, err)
	assert.Empty(t, restored.PendingToolCalls())
	assert.Equal(t, 3, restored.Len())
}

func TestStore_Upsert(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	sess := core.NewSession("s1")
	require.NoError(t, s.Save(ctx, sess.Snapshot()))
	require.NoError(t, sess.AppendUser("hi"))
	require.NoError(t, s.Save(ctx, sess.Snapshot()))

	snap, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 1)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

func TestStore_NotFoundAndDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	require.NoError(t, s.Save(ctx, core.NewSession("a").Snapshot()))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err = s.Load(ctx, "a")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestStore_PurgeBefore(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	stale := time.Now().Add(-48 * time.Hour)
	for _, id := range []string{"mail/old", "writer/old"} {
		sess := core.NewSession(id)
		sess.Touch(stale)
		require.NoError(t, s.Save(ctx, sess.Snapshot()))
	}
	require.NoError(t, s.Save(ctx, core.NewSession("mail/new").Snapshot()))

	n, err := s.PurgeBefore(ctx, "mail/", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mail/new", "writer/old"}, ids)

	n, err = s.PurgeBefore(ctx, "", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_PurgeThroughPrefixedManager(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now()

	old := core.NewSession("mail/old")
	old.Touch(now.Add(-48 * time.Hour))
	require.NoError(t, s.Save(ctx, old.Snapshot()))
	other := core.NewSession("writer/old")
	other.Touch(now.Add(-48 * time.Hour))
	require.NoError(t, s.Save(ctx, other.Snapshot()))

	runner := runnerFunc(func(context.Context, *core.Session, string, core.EventSink) (core.RunResult, error) {
		return core.RunResult{}, nil
	})
	m, err := session.NewManager(runner, func(o *session.ManagerOptions) {
		o.Store = session.Prefixed(s, "mail/")
		o.Retention = 24 * time.Hour
	})
	require.NoError(t, err)

	n, err := m.Purge(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"writer/old"}, ids)
}

func TestStore_BacksManager(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	runner := runnerFunc(func(_ context.Context, sess *core.Session, text string, _ core.EventSink) (core.RunResult, error) {
		if err := sess.AppendUser(text); err != nil {
			return core.RunResult{}, err
		}
		return core.RunResult{FinalText: "ok", TerminatedReason: core.TerminatedTextResponse}, sess.AppendAssistant("ok", nil)
	})

	m, err := session.NewManager(runner, func(o *session.ManagerOptions) { o.Store = session.Prefixed(s, "mail/") })
	require.NoError(t, err)

	_, err = m.RunTurn(ctx, "s1", "hello")
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx, "s1"))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mail/s1"}, ids)

	// a fresh manager on the same database picks the conversation up
	m2, err := session.NewManager(runner, func(o *session.ManagerOptions) { o.Store = session.Prefixed(s, "mail/") })
	require.NoError(t, err)
	sess, err := m2.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.Len())
}

type runnerFunc func(ctx context.Context, sess *core.Session, text string, sink core.EventSink) (core.RunResult, error)

func (f runnerFunc) Run(ctx context.Context, sess *core.Session, text string, sink core.EventSink) (core.RunResult, error) {
	return f(ctx, sess, text, sink)
}
