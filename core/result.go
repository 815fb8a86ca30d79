package core

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// TerminationReason explains why a run stopped.
type TerminationReason string

const (
	// TerminatedFinalAnswer means the model called the termination tool.
	TerminatedFinalAnswer TerminationReason = "final_answer"
	// TerminatedTextResponse means the model answered with text and no tool
	// calls; the text is taken as an implicit final answer.
	TerminatedTextResponse TerminationReason = "text_response"
	// TerminatedMaxIterations means the iteration budget was exhausted.
	TerminatedMaxIterations TerminationReason = "max_iterations"
	// TerminatedError means a model failure, run timeout or cancellation.
	TerminatedError TerminationReason = "error"
)

// TraceEntry records one executed tool call of a run.
type TraceEntry struct {
	ToolCallID   string         `json:"tool_call_id"`
	ToolName     string         `json:"tool_name"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	RawArguments string         `json:"raw_arguments,omitempty"`
	Result       ToolResult     `json:"result"`
	Duration     time.Duration  `json:"duration"`
}

// RunResult is the outcome of one agent run. It is always well formed, even
// when the run ended with an error.
type RunResult struct {
	RunID            string            `json:"run_id"`
	SessionID        string            `json:"session_id"`
	FinalText        string            `json:"final_text"`
	Trace            []TraceEntry      `json:"tool_trace"`
	IterationsUsed   int               `json:"iterations_used"`
	TerminatedReason TerminationReason `json:"terminated_reason"`
	Err              error             `json:"-"`
}

// ToolNames returns the executed tool names in trace order.
func (r RunResult) ToolNames() []string {
	names := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		names[i] = e.ToolName
	}
	return names
}

// SummarizeTrace renders a short human readable account of the executed tool
// calls. It never returns an empty string.
func SummarizeTrace(trace []TraceEntry) string {
	if len(trace) == 0 {
		return "No tools were executed."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Executed %d tool call(s):", len(trace))
	for i, e := range trace {
		status := "ok"
		if e.Result.IsError {
			status = "error: " + truncate(e.Result.Content, 120)
		}
		fmt.Fprintf(&b, "\n%d. %s (%s)", i+1, e.ToolName, status)
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
