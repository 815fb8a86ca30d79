package core

import (
	"fmt"
	"sync"
	"time"
)

// Session is the mutable conversation record for one chat. It holds the
// ordered message history, auxiliary key/value state and activity
// timestamps. It is safe for concurrent readers; writes are expected from a
// single in-flight run (the session manager enforces that).
//
// Contract:
//   - History is append-only; ClearHistory is the only removal
//   - While an assistant message has unanswered tool calls, only
//     AppendToolResults is accepted
//   - AppendToolResults must answer every pending call exactly once, in
//     request order
//   - Messages returns a defensive copy
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	mu           sync.RWMutex
	messages     []Message
	state        map[string]any
	lastActiveAt time.Time
	pending      []ToolCallRequest
}

// NewSession creates an empty session with the given id.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, CreatedAt: now, lastActiveAt: now, state: map[string]any{}}
}

// RestoreSession rebuilds a session from persisted parts. The history is
// validated so that a restored session satisfies the same invariant as a live
// one; a trailing unanswered assistant message is reported as an error.
func RestoreSession(id string, createdAt, lastActiveAt time.Time, messages []Message, state map[string]any) (*Session, error) {
	s := &Session{ID: id, CreatedAt: createdAt, lastActiveAt: lastActiveAt, state: map[string]any{}}
	for k, v := range state {
		s.state[k] = v
	}
	for i, m := range messages {
		var err error
		switch m.Role {
		case RoleUser, RoleAssistant:
			err = s.appendLocked(m)
		case RoleTool:
			err = s.answerLocked([]ToolResult{{ToolCallID: m.ToolCallID, Name: m.ToolName, Content: m.Content, IsError: m.IsError}}, m.Timestamp, true)
		default:
			err = fmt.Errorf("unsupported role %q", m.Role)
		}
		if err != nil {
			return nil, fmt.Errorf("restore session %s: message %d: %w", id, i, err)
		}
	}
	if len(s.pending) > 0 {
		return nil, fmt.Errorf("restore session %s: %w", id, ErrPendingToolCalls)
	}
	s.lastActiveAt = lastActiveAt
	return s, nil
}

// AppendUser appends a user message.
func (s *Session) AppendUser(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(NewUserMessage(text))
}

// AppendAssistant appends an assistant message. When calls is non-empty the
// session enters the awaiting-results state until AppendToolResults answers
// them.
func (s *Session) AppendAssistant(text string, calls []ToolCallRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(NewAssistantMessage(text, calls))
}

// AppendToolResults appends one tool message per result. Results must match
// the pending tool calls by id and order, and must answer all of them.
func (s *Session) AppendToolResults(results []ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(results) != len(s.pending) {
		return fmt.Errorf("%w: %d pending, %d results", ErrToolResultMismatch, len(s.pending), len(results))
	}
	return s.answerLocked(results, time.Time{}, false)
}

func (s *Session) appendLocked(m Message) error {
	if len(s.pending) > 0 {
		return ErrPendingToolCalls
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	m = m.Clone()
	s.messages = append(s.messages, m)
	if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
		s.pending = append([]ToolCallRequest(nil), m.ToolCalls...)
	}
	s.lastActiveAt = time.Now().UTC()
	return nil
}

// answerLocked consumes pending calls in order. partial allows restoring one
// tool message at a time.
func (s *Session) answerLocked(results []ToolResult, ts time.Time, partial bool) error {
	if len(results) > len(s.pending) {
		return fmt.Errorf("%w: %d pending, %d results", ErrToolResultMismatch, len(s.pending), len(results))
	}
	for i, r := range results {
		if r.ToolCallID != s.pending[i].ID {
			return fmt.Errorf("%w: result %d answers %q, expected %q", ErrToolResultMismatch, i, r.ToolCallID, s.pending[i].ID)
		}
	}
	for _, r := range results {
		m := NewToolMessage(r)
		if !ts.IsZero() {
			m.Timestamp = ts
		}
		s.messages = append(s.messages, m)
	}
	s.pending = s.pending[len(results):]
	if !partial && len(s.pending) != 0 {
		return ErrToolResultMismatch
	}
	s.lastActiveAt = time.Now().UTC()
	return nil
}

// PendingToolCalls returns the tool calls still awaiting results.
func (s *Session) PendingToolCalls() []ToolCallRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ToolCallRequest(nil), s.pending...)
}

// Messages returns a defensive copy of the history in canonical order.
func (s *Session) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ClearHistory drops all messages and any pending tool calls. State is kept.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.pending = nil
	s.lastActiveAt = time.Now().UTC()
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[key]
	return v, ok
}

// SetState sets a key/value pair in session state.
func (s *Session) SetState(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[key] = value
	s.lastActiveAt = time.Now().UTC()
}

// State returns a shallow copy of the auxiliary state.
func (s *Session) State() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.state))
	for k, v := range s.state {
		out[k] = v
	}
	return out
}

// LastActiveAt returns the time of the last mutation or Touch.
func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}

// Touch marks the session as active at t.
func (s *Session) Touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = t.UTC()
}

// Snapshot is a plain serializable copy of a session.
type Snapshot struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActiveAt time.Time      `json:"last_active_at"`
	Messages     []Message      `json:"messages"`
	State        map[string]any `json:"state"`
}

// Snapshot captures the current session contents.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.lastActiveAt,
		Messages:     make([]Message, len(s.messages)),
		State:        make(map[string]any, len(s.state)),
	}
	for i, m := range s.messages {
		snap.Messages[i] = m.Clone()
	}
	for k, v := range s.state {
		snap.State[k] = v
	}
	return snap
}

// Restore rebuilds a session from a snapshot.
func (snap Snapshot) Restore() (*Session, error) {
	return RestoreSession(snap.ID, snap.CreatedAt, snap.LastActiveAt, snap.Messages, snap.State)
}
