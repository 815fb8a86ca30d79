// Package spartacus is the entry point for embedding the assistant core.
// An Assistant hosts several named agents; each agent owns a session
// manager, so a conversation is always bound to the agent it started with.
//
// Most applications either build an Assistant from a configuration file
// (FromConfig) or register hand-built agents:
//
//	a := spartacus.New()
//	_ = a.RegisterAgent(myAgent)
//	res, err := a.RunTurn(ctx, "spartacus", "session-1", "Any mail from Bob?")
package spartacus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/spartacus-desktop/spartacus/agent"
	"github.com/spartacus-desktop/spartacus/core"
	"github.com/spartacus-desktop/spartacus/logging"
	"github.com/spartacus-desktop/spartacus/session"
	"github.com/spartacus-desktop/spartacus/telemetry"
)

// ErrUnknownAgent is returned for agent names that were never registered.
var ErrUnknownAgent = errors.New("unknown agent")

// Options configures the Assistant.
type Options struct {
	// Store persists sessions of every agent, each under its own prefix.
	// Defaults to an in-memory store.
	Store session.Store

	// Session applies to every manager the Assistant creates.
	Session func(o *session.ManagerOptions)

	Logger  logging.Logger
	Metrics *telemetry.Metrics
}

type hosted struct {
	agent   *agent.Agent
	manager *session.Manager
}

// Assistant is the multi-agent façade over agents and session managers.
type Assistant struct {
	opts Options

	mu      sync.RWMutex
	agents  map[string]hosted
	closers []io.Closer
}

// New creates an Assistant. Unset services default to in-memory
// implementations.
func New(optFns ...func(o *Options)) *Assistant {
	opts := Options{
		Store:  session.NewInMemoryStore(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Assistant{opts: opts, agents: make(map[string]hosted)}
}

// RegisterAgent adds an agent and creates its session manager.
func (a *Assistant) RegisterAgent(ag *agent.Agent) error {
	if ag == nil {
		return errors.New("nil agent")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.agents[ag.Name()]; ok {
		return fmt.Errorf("agent %q already registered", ag.Name())
	}

	m, err := session.NewManager(ag, func(o *session.ManagerOptions) {
		o.Store = session.Prefixed(a.opts.Store, ag.Name()+"/")
		o.Logger = logging.With(a.opts.Logger, "agent", ag.Name())
		o.Metrics = a.opts.Metrics
		if a.opts.Session != nil {
			a.opts.Session(o)
		}
	})
	if err != nil {
		return err
	}

	a.agents[ag.Name()] = hosted{agent: ag, manager: m}
	a.opts.Logger.Info("assistant.agent.registered", "agent", ag.Name(), "tools", ag.Registry().Names())

	return nil
}

// AddCloser registers a resource released by Close.
func (a *Assistant) AddCloser(c io.Closer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, c)
}

func (a *Assistant) lookup(name string) (hosted, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h, ok := a.agents[name]
	if !ok {
		return hosted{}, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return h, nil
}

// AgentInfo describes a registered agent.
type AgentInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Model         string   `json:"model"`
	Tools         []string `json:"tools"`
	MaxIterations int      `json:"max_iterations"`
}

// Agents lists the registered agents by name.
func (a *Assistant) Agents() []AgentInfo {
	a.mu.RLock()
	out := make([]AgentInfo, 0, len(a.agents))
	for _, h := range a.agents {
		out = append(out, AgentInfo{
			Name:          h.agent.Name(),
			Description:   h.agent.Description(),
			Model:         h.agent.Model().Info().String(),
			Tools:         h.agent.Registry().Names(),
			MaxIterations: h.agent.MaxIterations(),
		})
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunTurn sends one user message to a session of the named agent.
func (a *Assistant) RunTurn(ctx context.Context, agentName, sessionID, text string) (core.RunResult, error) {
	h, err := a.lookup(agentName)
	if err != nil {
		return core.RunResult{SessionID: sessionID, FinalText: err.Error(), TerminatedReason: core.TerminatedError, Err: err}, err
	}
	return h.manager.RunTurn(ctx, sessionID, text)
}

// RunTurnStream is the streaming variant of RunTurn.
func (a *Assistant) RunTurnStream(ctx context.Context, agentName, sessionID, text string) (<-chan core.Event, error) {
	h, err := a.lookup(agentName)
	if err != nil {
		return nil, err
	}
	return h.manager.RunTurnStream(ctx, sessionID, text)
}

// Collect drains a stream returned by RunTurnStream. It returns the result
// carried by the terminated event together with every event seen.
func Collect(ctx context.Context, events <-chan core.Event) (core.RunResult, []core.Event, error) {
	var collected []core.Event
	for {
		select {
		case <-ctx.Done():
			return core.RunResult{}, collected, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return core.RunResult{}, collected, errors.New("stream ended without a terminated event")
			}
			collected = append(collected, ev)
			if ev.Type == core.EventTerminated && ev.Run != nil {
				return *ev.Run, collected, ev.Run.Err
			}
		}
	}
}

// Session returns (creating if needed) a session of the named agent.
func (a *Assistant) Session(ctx context.Context, agentName, sessionID string) (*core.Session, error) {
	h, err := a.lookup(agentName)
	if err != nil {
		return nil, err
	}
	return h.manager.GetOrCreate(ctx, sessionID)
}

// ClearHistory empties the history of one session.
func (a *Assistant) ClearHistory(ctx context.Context, agentName, sessionID string) error {
	h, err := a.lookup(agentName)
	if err != nil {
		return err
	}
	return h.manager.ClearHistory(ctx, sessionID)
}

// CloseSession persists a session and releases it from memory.
func (a *Assistant) CloseSession(ctx context.Context, agentName, sessionID string) error {
	h, err := a.lookup(agentName)
	if err != nil {
		return err
	}
	return h.manager.Close(ctx, sessionID)
}

// DeleteSession discards a session of the named agent, including its
// stored snapshot.
func (a *Assistant) DeleteSession(ctx context.Context, agentName, sessionID string) error {
	h, err := a.lookup(agentName)
	if err != nil {
		return err
	}
	return h.manager.Delete(ctx, sessionID)
}

// Sessions lists the live and stored sessions of an agent.
func (a *Assistant) Sessions(ctx context.Context, agentName string) ([]session.Info, error) {
	h, err := a.lookup(agentName)
	if err != nil {
		return nil, err
	}
	return h.manager.Sessions(ctx)
}

// Stats returns session counters per agent.
func (a *Assistant) Stats(ctx context.Context) (map[string]session.Stats, error) {
	a.mu.RLock()
	hostedAgents := make(map[string]hosted, len(a.agents))
	for name, h := range a.agents {
		hostedAgents[name] = h
	}
	a.mu.RUnlock()

	out := make(map[string]session.Stats, len(hostedAgents))
	var errs []error
	for name, h := range hostedAgents {
		st, err := h.manager.Stats(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", name, err))
		}
		out[name] = st
	}
	return out, errors.Join(errs...)
}

// Start runs the idle sweepers and retention purges of every agent until
// ctx ends.
func (a *Assistant) Start(ctx context.Context) {
	a.mu.RLock()
	managers := make([]*session.Manager, 0, len(a.agents))
	for _, h := range a.agents {
		managers = append(managers, h.manager)
	}
	a.mu.RUnlock()

	var g errgroup.Group
	for _, m := range managers {
		g.Go(func() error {
			m.Start(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Close persists every live session and releases registered resources.
func (a *Assistant) Close(ctx context.Context) error {
	a.mu.Lock()
	hostedAgents := make([]hosted, 0, len(a.agents))
	for _, h := range a.agents {
		hostedAgents = append(hostedAgents, h)
	}
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for _, h := range hostedAgents {
		if err := h.manager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", h.agent.Name(), err))
		}
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
