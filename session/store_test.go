package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spartacus-desktop/spartacus/core"
)

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	_, err := s.Load(ctx, "a")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	sess := core.NewSession("a")
	require.NoError(t, sess.AppendUser("hi"))
	require.NoError(t, s.Save(ctx, sess.Snapshot()))

	// later mutations do not leak into the stored copy
	require.NoError(t, sess.AppendAssistant("hello", nil))

	snap, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 1)

	snap.Messages[0].Content = "changed"
	again, err := s.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "hi", again.Messages[0].Content)

	require.NoError(t, s.Delete(ctx, "a"))
	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPrefixed(t *testing.T) {
	base := NewInMemoryStore()
	ctx := context.Background()

	mail := Prefixed(base, "mail/")
	cal := Prefixed(base, "calendar/")

	require.NoError(t, mail.Save(ctx, core.NewSession("s1").Snapshot()))
	require.NoError(t, cal.Save(ctx, core.NewSession("s1").Snapshot()))
	require.NoError(t, cal.Save(ctx, core.NewSession("s2").Snapshot()))

	snap, err := mail.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.ID)

	ids, err := cal.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)

	all, err := base.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"calendar/s1", "calendar/s2", "mail/s1"}, all)

	require.NoError(t, mail.Delete(ctx, "s1"))
	_, err = mail.Load(ctx, "s1")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	assert.Same(t, base, Prefixed(base, ""))
}

// plainStore hides the bulk purge of the wrapped store.
type plainStore struct{ Store }

func TestPurgeBefore(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	seed := func(t *testing.T, s Store) {
		t.Helper()
		for id, age := range map[string]time.Duration{
			"mail/old":   48 * time.Hour,
			"mail/new":   time.Hour,
			"writer/old": 48 * time.Hour,
		} {
			sess := core.NewSession(id)
			sess.Touch(now.Add(-age))
			require.NoError(t, s.Save(ctx, sess.Snapshot()))
		}
	}

	tests := []struct {
		name  string
		store func() Store
	}{
		{"bulk", func() Store { return NewInMemoryStore() }},
		{"scan", func() Store { return plainStore{NewInMemoryStore()} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := tt.store()
			seed(t, base)

			n, err := PurgeBefore(ctx, Prefixed(base, "mail/"), now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			ids, err := base.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"mail/new", "writer/old"}, ids)

			n, err = PurgeBefore(ctx, base, now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}
