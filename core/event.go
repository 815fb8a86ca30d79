package core

import "time"

// EventType enumerates the progress notifications emitted during a run.
type EventType string

const (
	// EventReasoningStarted is emitted before every model call.
	EventReasoningStarted EventType = "reasoning_started"
	// EventTextDelta carries streamed model text when streaming is enabled.
	EventTextDelta EventType = "text_delta"
	// EventToolCallStarted is emitted before a tool call is dispatched.
	EventToolCallStarted EventType = "tool_call_started"
	// EventToolCallFinished is emitted once the tool result is known.
	EventToolCallFinished EventType = "tool_call_finished"
	// EventTerminated is the last event of a run.
	EventTerminated EventType = "terminated"
)

// Event is a progress notification for streaming UIs. Only the fields
// relevant to Type are populated. After emission it should be treated as
// immutable.
type Event struct {
	Type      EventType         `json:"type"`
	RunID     string            `json:"run_id"`
	SessionID string            `json:"session_id"`
	Iteration int               `json:"iteration"`
	Timestamp time.Time         `json:"timestamp"`
	Delta     string            `json:"delta,omitempty"`     // text_delta
	ToolCall  *ToolCallRequest  `json:"tool_call,omitempty"` // tool_call_started / tool_call_finished
	Result    *ToolResult       `json:"result,omitempty"`    // tool_call_finished
	Reason    TerminationReason `json:"reason,omitempty"`    // terminated
	Run       *RunResult        `json:"run,omitempty"`       // terminated
}

// NewEvent creates an event stamped with the current UTC time.
func NewEvent(typ EventType, runID, sessionID string, iteration int) Event {
	return Event{Type: typ, RunID: runID, SessionID: sessionID, Iteration: iteration, Timestamp: time.Now().UTC()}
}

// EventSink receives run events. Implementations must not block for long;
// the run waits for each call to return.
type EventSink func(Event)

// Emit forwards ev to the sink when it is non-nil.
func (s EventSink) Emit(ev Event) {
	if s != nil {
		s(ev)
	}
}
