package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spartacus-desktop/spartacus/core"
	"github.com/spartacus-desktop/spartacus/logging"
	"github.com/spartacus-desktop/spartacus/telemetry"
)

// Runner executes one agent run against a session. *agent.Agent implements it.
type Runner interface {
	Run(ctx context.Context, sess *core.Session, userText string, sink core.EventSink) (core.RunResult, error)
}

// BusyPolicy decides what RunTurn does when the session already has a run in
// flight.
type BusyPolicy int

const (
	// BusyWait queues the turn until the session is free or ctx ends.
	BusyWait BusyPolicy = iota
	// BusyReject fails the turn immediately with core.ErrSessionBusy.
	BusyReject
)

// String returns the config spelling of the policy.
func (p BusyPolicy) String() string {
	if p == BusyReject {
		return "reject"
	}
	return "wait"
}

// ParseBusyPolicy parses "wait" or "reject".
func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch s {
	case "", "wait":
		return BusyWait, nil
	case "reject":
		return BusyReject, nil
	default:
		return BusyWait, fmt.Errorf("unknown busy policy %q", s)
	}
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Store persists sessions on close, eviction and after every turn.
	// Nil keeps sessions in memory only.
	Store Store

	// IdleTTL is how long a session may stay inactive before eviction.
	// Zero disables eviction.
	IdleTTL time.Duration

	// SweepInterval is the period of the eviction sweeper started by Start.
	SweepInterval time.Duration

	// Retention is how long a stored session may stay inactive before the
	// sweeper purges it from the store. Zero keeps stored sessions forever.
	Retention time.Duration

	// Busy selects the behavior for concurrent turns on one session.
	Busy BusyPolicy

	// StreamBuffer is the channel capacity used by RunTurnStream.
	StreamBuffer int

	Logger  logging.Logger
	Metrics *telemetry.Metrics

	// Now returns the current time. Tests replace it.
	Now func() time.Time
}

// entry is one live session plus its run lock. The lock is a channel of
// capacity one: holding a value means a run owns the session.
type entry struct {
	sess *core.Session
	lock chan struct{}
}

func (e *entry) tryLock() bool {
	select {
	case e.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *entry) unlock() { <-e.lock }

func (e *entry) busy() bool { return len(e.lock) > 0 }

// Manager owns live sessions for one Runner.
type Manager struct {
	runner Runner
	opts   ManagerOptions

	mu       sync.Mutex
	sessions map[string]*entry
	evicted  uint64
	purged   uint64
}

// NewManager creates a manager driving runner.
func NewManager(runner Runner, optFns ...func(o *ManagerOptions)) (*Manager, error) {
	if runner == nil {
		return nil, errors.New("session manager requires a runner")
	}

	opts := ManagerOptions{
		IdleTTL:       30 * time.Minute,
		SweepInterval: time.Minute,
		Busy:          BusyWait,
		StreamBuffer:  64,
		Logger:        logging.NoOpLogger{},
		Now:           time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}

	return &Manager{runner: runner, opts: opts, sessions: make(map[string]*entry)}, nil
}

// GetOrCreate returns the live session for id, rehydrating it from the store
// or creating an empty one when needed.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*core.Session, error) {
	e, err := m.entry(ctx, id, true)
	if err != nil {
		return nil, err
	}
	return e.sess, nil
}

func (m *Manager) entry(ctx context.Context, id string, create bool) (*entry, error) {
	if id == "" {
		return nil, errors.New("session id must not be empty")
	}

	if e, ok := m.live(id); ok {
		return e, nil
	}

	// Loading runs outside m.mu so a slow store only delays this id.
	sess, err := m.load(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrSessionNotFound):
		if !create {
			return nil, err
		}
		sess = nil
	default:
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[id]; ok {
		return e, nil
	}
	if sess == nil {
		sess = core.NewSession(id)
		m.opts.Logger.Debug("session.created", "session_id", id)
	} else {
		m.opts.Logger.Debug("session.restored", "session_id", id, "messages", sess.Len())
	}

	e := &entry{sess: sess, lock: make(chan struct{}, 1)}
	m.sessions[id] = e
	m.opts.Metrics.SetActiveSessions(len(m.sessions))

	return e, nil
}

func (m *Manager) live(id string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	return e, ok
}

func (m *Manager) load(ctx context.Context, id string) (*core.Session, error) {
	if m.opts.Store == nil {
		return nil, core.ErrSessionNotFound
	}
	snap, err := m.opts.Store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	sess, err := snap.Restore()
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return sess, nil
}

// acquire locks the live entry for id according to the busy policy. The
// returned entry is still registered with the manager.
func (m *Manager) acquire(ctx context.Context, id string, create bool) (*entry, error) {
	for {
		e, err := m.entry(ctx, id, create)
		if err != nil {
			return nil, err
		}

		if !e.tryLock() {
			if m.opts.Busy == BusyReject {
				return nil, fmt.Errorf("session %s: %w", id, core.ErrSessionBusy)
			}
			select {
			case e.lock <- struct{}{}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		// The entry may have been evicted or closed while we waited.
		m.mu.Lock()
		current := m.sessions[id]
		m.mu.Unlock()
		if current == e {
			return e, nil
		}
		e.unlock()
	}
}

// RunTurn runs one user message through the runner with exclusive access to
// the session. The returned result is always well formed.
func (m *Manager) RunTurn(ctx context.Context, id, text string) (core.RunResult, error) {
	return m.RunTurnWithSink(ctx, id, text, nil)
}

// RunTurnWithSink is RunTurn with progress events delivered to sink.
func (m *Manager) RunTurnWithSink(ctx context.Context, id, text string, sink core.EventSink) (core.RunResult, error) {
	e, err := m.acquire(ctx, id, true)
	if err != nil {
		return m.rejected(id, err), err
	}
	defer e.unlock()

	return m.run(ctx, e, text, sink)
}

// RunTurnStream starts a turn and returns its events. The channel is closed
// after the terminated event. Acquisition errors, including
// core.ErrSessionBusy, are returned synchronously.
func (m *Manager) RunTurnStream(ctx context.Context, id, text string) (<-chan core.Event, error) {
	e, err := m.acquire(ctx, id, true)
	if err != nil {
		return nil, err
	}

	events := make(chan core.Event, m.opts.StreamBuffer)

	go func() {
		defer close(events)
		defer e.unlock()

		sink := func(ev core.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
				// The consumer is gone; the terminated event is still
				// attempted without blocking.
				if ev.Type == core.EventTerminated {
					select {
					case events <- ev:
					default:
					}
				}
			}
		}

		_, _ = m.run(ctx, e, text, sink)
	}()

	return events, nil
}

func (m *Manager) run(ctx context.Context, e *entry, text string, sink core.EventSink) (core.RunResult, error) {
	res, err := m.runner.Run(ctx, e.sess, text, sink)
	e.sess.Touch(m.opts.Now())

	if perr := m.persist(context.WithoutCancel(ctx), e.sess); perr != nil {
		m.opts.Logger.Warn("session.persist.error", "session_id", e.sess.ID, "error", perr.Error())
	}

	return res, err
}

func (m *Manager) rejected(id string, err error) core.RunResult {
	return core.RunResult{
		SessionID:        id,
		FinalText:        "The request could not be started: " + err.Error(),
		TerminatedReason: core.TerminatedError,
		Err:              err,
	}
}

func (m *Manager) persist(ctx context.Context, sess *core.Session) error {
	if m.opts.Store == nil {
		return nil
	}
	if err := m.opts.Store.Save(ctx, sess.Snapshot()); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// ClearHistory drops the message history of a session, waiting for any run
// in flight. State is kept.
func (m *Manager) ClearHistory(ctx context.Context, id string) error {
	e, err := m.acquire(ctx, id, false)
	if err != nil {
		return err
	}
	defer e.unlock()

	e.sess.ClearHistory()
	m.opts.Logger.Info("session.cleared", "session_id", id)

	return m.persist(ctx, e.sess)
}

// Close persists a session and removes it from memory, waiting for any run
// in flight.
func (m *Manager) Close(ctx context.Context, id string) error {
	e, ok := m.live(id)
	if !ok {
		return fmt.Errorf("session %s: %w", id, core.ErrSessionNotFound)
	}

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer e.unlock()

	err := m.persist(ctx, e.sess)
	m.remove(id, e)
	m.opts.Logger.Info("session.closed", "session_id", id)

	return err
}

// Delete discards a session: the live copy, waiting for any run in flight,
// and its stored snapshot. Unknown ids are not an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if e, ok := m.live(id); ok {
		select {
		case e.lock <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.remove(id, e)
		e.unlock()
	}

	if m.opts.Store != nil {
		if err := m.opts.Store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
	}
	m.opts.Logger.Info("session.deleted", "session_id", id)

	return nil
}

// Shutdown persists every live session. Sessions with a run in flight are
// waited for until ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Close(ctx, id); err != nil && !errors.Is(err, core.ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) remove(id string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] == e {
		delete(m.sessions, id)
	}
	m.opts.Metrics.SetActiveSessions(len(m.sessions))
}

// EvictIdle removes sessions idle for longer than IdleTTL at now. Sessions
// with a run in flight are skipped. Evicted sessions are persisted first; a
// session that fails to persist stays live. It returns the number evicted.
func (m *Manager) EvictIdle(now time.Time) int {
	if m.opts.IdleTTL <= 0 {
		return 0
	}

	m.mu.Lock()
	var candidates []*entry
	for _, e := range m.sessions {
		if now.Sub(e.sess.LastActiveAt()) > m.opts.IdleTTL {
			candidates = append(candidates, e)
		}
	}
	m.mu.Unlock()

	evicted := 0
	for _, e := range candidates {
		if !e.tryLock() {
			continue
		}
		// Re-check under the run lock; a turn may have finished meanwhile.
		if now.Sub(e.sess.LastActiveAt()) <= m.opts.IdleTTL {
			e.unlock()
			continue
		}
		if err := m.persist(context.Background(), e.sess); err != nil {
			m.opts.Logger.Warn("session.evict.persist_error", "session_id", e.sess.ID, "error", err.Error())
			e.unlock()
			continue
		}
		m.remove(e.sess.ID, e)
		e.unlock()
		evicted++
		m.opts.Logger.Debug("session.evicted", "session_id", e.sess.ID)
	}

	if evicted > 0 {
		m.mu.Lock()
		m.evicted += uint64(evicted)
		m.mu.Unlock()
		m.opts.Metrics.RecordEviction(evicted)
		m.opts.Logger.Info("session.evict", "evicted", evicted)
	}

	return evicted
}

// Purge removes stored sessions inactive for longer than Retention at now.
// Live sessions stay in memory and are stored again after their next turn.
// It returns the number purged.
func (m *Manager) Purge(ctx context.Context, now time.Time) (int, error) {
	if m.opts.Retention <= 0 || m.opts.Store == nil {
		return 0, nil
	}

	n, err := PurgeBefore(ctx, m.opts.Store, now.Add(-m.opts.Retention))
	if n > 0 {
		m.mu.Lock()
		m.purged += uint64(n)
		m.mu.Unlock()
		m.opts.Logger.Info("session.purge", "purged", n)
	}
	if err != nil {
		return int(n), fmt.Errorf("purge sessions: %w", err)
	}
	return int(n), nil
}

// Start runs the idle sweeper and the retention purge until ctx ends. It
// blocks; run it in a goroutine.
func (m *Manager) Start(ctx context.Context) {
	if m.opts.IdleTTL <= 0 && m.opts.Retention <= 0 {
		return
	}

	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := m.opts.Now()
			m.EvictIdle(now)
			if _, err := m.Purge(ctx, now); err != nil {
				m.opts.Logger.Warn("session.purge.error", "error", err.Error())
			}
		}
	}
}

// Info describes one session, live or only stored.
type Info struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Messages     int       `json:"messages"`
	Running      bool      `json:"running"`
	Live         bool      `json:"live"`
}

// Sessions lists live sessions together with those held only in the store,
// most recently active first.
func (m *Manager) Sessions(ctx context.Context) ([]Info, error) {
	m.mu.Lock()
	out := make([]Info, 0, len(m.sessions))
	seen := make(map[string]bool, len(m.sessions))
	for id, e := range m.sessions {
		seen[id] = true
		out = append(out, Info{
			ID:           id,
			CreatedAt:    e.sess.CreatedAt,
			LastActiveAt: e.sess.LastActiveAt(),
			Messages:     e.sess.Len(),
			Running:      e.busy(),
			Live:         true,
		})
	}
	m.mu.Unlock()

	if m.opts.Store != nil {
		ids, err := m.opts.Store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			snap, err := m.opts.Store.Load(ctx, id)
			if errors.Is(err, core.ErrSessionNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("list sessions: %w", err)
			}
			out = append(out, Info{
				ID:           id,
				CreatedAt:    snap.CreatedAt,
				LastActiveAt: snap.LastActiveAt,
				Messages:     len(snap.Messages),
			})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActiveAt.Equal(out[j].LastActiveAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActiveAt.After(out[j].LastActiveAt)
	})

	return out, nil
}

// Stats summarizes the manager state.
type Stats struct {
	Active   int    `json:"active"`
	Running  int    `json:"running"`
	Messages int    `json:"messages"`
	Stored   int    `json:"stored"`
	Evicted  uint64 `json:"evicted"`
	Purged   uint64 `json:"purged"`
}

// Stats returns counters for live sessions plus the number of sessions
// held in the store.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	st := Stats{Active: len(m.sessions), Evicted: m.evicted, Purged: m.purged}
	for _, e := range m.sessions {
		st.Messages += e.sess.Len()
		if e.busy() {
			st.Running++
		}
	}
	m.mu.Unlock()

	if m.opts.Store != nil {
		ids, err := m.opts.Store.List(ctx)
		if err != nil {
			return st, fmt.Errorf("session stats: %w", err)
		}
		st.Stored = len(ids)
	}
	return st, nil
}
