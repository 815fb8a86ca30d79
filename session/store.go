package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spartacus-desktop/spartacus/core"
)

// Store persists session snapshots. Load returns core.ErrSessionNotFound
// for unknown ids.
type Store interface {
	Load(ctx context.Context, id string) (core.Snapshot, error)
	Save(ctx context.Context, snap core.Snapshot) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// Purger is implemented by stores that can drop old snapshots in bulk.
// Only ids starting with prefix are considered.
type Purger interface {
	PurgeBefore(ctx context.Context, prefix string, t time.Time) (int64, error)
}

// PurgeBefore deletes snapshots of store last active before t. Stores that
// do not implement Purger are scanned one snapshot at a time.
func PurgeBefore(ctx context.Context, store Store, t time.Time) (int64, error) {
	if p, ok := store.(Purger); ok {
		return p.PurgeBefore(ctx, "", t)
	}
	return purgeScan(ctx, store, "", t)
}

func purgeScan(ctx context.Context, store Store, prefix string, t time.Time) (int64, error) {
	ids, err := store.List(ctx)
	if err != nil {
		return 0, err
	}

	var n int64
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		snap, err := store.Load(ctx, id)
		if errors.Is(err, core.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if !snap.LastActiveAt.Before(t) {
			continue
		}
		if err := store.Delete(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Prefixed scopes a store to ids starting with prefix, so several managers
// can share one backend. Ids seen by the caller never carry the prefix.
func Prefixed(store Store, prefix string) Store {
	if prefix == "" {
		return store
	}
	return &prefixed{next: store, prefix: prefix}
}

type prefixed struct {
	next   Store
	prefix string
}

func (p *prefixed) Load(ctx context.Context, id string) (core.Snapshot, error) {
	snap, err := p.next.Load(ctx, p.prefix+id)
	if err != nil {
		return core.Snapshot{}, err
	}
	snap.ID = id
	return snap, nil
}

func (p *prefixed) Save(ctx context.Context, snap core.Snapshot) error {
	snap.ID = p.prefix + snap.ID
	return p.next.Save(ctx, snap)
}

func (p *prefixed) Delete(ctx context.Context, id string) error {
	return p.next.Delete(ctx, p.prefix+id)
}

func (p *prefixed) List(ctx context.Context) ([]string, error) {
	ids, err := p.next.List(ctx)
	if err != nil {
		return nil, err
	}
	out := ids[:0]
	for _, id := range ids {
		if rest, ok := strings.CutPrefix(id, p.prefix); ok {
			out = append(out, rest)
		}
	}
	return out, nil
}

func (p *prefixed) PurgeBefore(ctx context.Context, prefix string, t time.Time) (int64, error) {
	if np, ok := p.next.(Purger); ok {
		return np.PurgeBefore(ctx, p.prefix+prefix, t)
	}
	return purgeScan(ctx, p.next, p.prefix+prefix, t)
}
