package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spartacus-desktop/spartacus/core"
)

// InMemoryStore is a volatile Store keeping snapshots in a process local
// map. It is safe for concurrent access and best suited for tests or a
// single CLI process. Snapshots are copied on the way in and out.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]core.Snapshot
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snapshots: make(map[string]core.Snapshot)}
}

// Load returns a copy of the stored snapshot.
func (s *InMemoryStore) Load(_ context.Context, id string) (core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[id]
	if !ok {
		return core.Snapshot{}, core.ErrSessionNotFound
	}
	return copySnapshot(snap), nil
}

// Save stores a copy of snap, replacing any previous one.
func (s *InMemoryStore) Save(_ context.Context, snap core.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.ID] = copySnapshot(snap)
	return nil
}

// Delete removes a snapshot. Unknown ids are ignored.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, id)
	return nil
}

// List returns the stored ids in lexical order.
func (s *InMemoryStore) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// PurgeBefore deletes snapshots under prefix last active before t.
func (s *InMemoryStore) PurgeBefore(_ context.Context, prefix string, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, snap := range s.snapshots {
		if strings.HasPrefix(id, prefix) && snap.LastActiveAt.Before(t) {
			delete(s.snapshots, id)
			n++
		}
	}
	return n, nil
}

func copySnapshot(snap core.Snapshot) core.Snapshot {
	out := snap
	out.Messages = make([]core.Message, len(snap.Messages))
	for i, m := range snap.Messages {
		out.Messages[i] = m.Clone()
	}
	out.State = make(map[string]any, len(snap.State))
	for k, v := range snap.State {
		out.State[k] = v
	}
	return out
}
