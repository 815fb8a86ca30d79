package core

import "errors"

var (
	// ErrModel wraps every failure returned by a model adapter. It is fatal to
	// the current run and never retried by the agent loop.
	ErrModel = errors.New("model call failed")

	// ErrRunTimeout is returned when the whole-run wall clock budget expires.
	ErrRunTimeout = errors.New("run timed out")

	// ErrSessionBusy is returned when a session already has a run in flight and
	// the manager is configured to reject instead of wait.
	ErrSessionBusy = errors.New("session has a run in flight")

	// ErrSessionNotFound is returned by stores and managers for unknown ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrPendingToolCalls is returned when a message is appended while tool
	// calls of the previous assistant message are still unanswered.
	ErrPendingToolCalls = errors.New("tool calls are awaiting results")

	// ErrToolResultMismatch is returned when appended results do not answer
	// the pending tool calls one to one and in order.
	ErrToolResultMismatch = errors.New("tool results do not match pending tool calls")
)
