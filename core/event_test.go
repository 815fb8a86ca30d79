package core

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	ev := NewEvent(EventToolCallStarted, "run-1", "s1", 2)
	assert.Equal(t, EventToolCallStarted, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, 2, ev.Iteration)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEventSink_Emit(t *testing.T) {
	var nilSink EventSink
	assert.NotPanics(t, func() { nilSink.Emit(NewEvent(EventTerminated, "r", "s", 0)) })

	var got []EventType
	sink := EventSink(func(ev Event) { got = append(got, ev.Type) })
	sink.Emit(NewEvent(EventReasoningStarted, "r", "s", 1))
	sink.Emit(NewEvent(EventTerminated, "r", "s", 1))
	assert.Equal(t, []EventType{EventReasoningStarted, EventTerminated}, got)
}

func TestIterationBudget(t *testing.T) {
	b := NewIterationBudget(2)
	assert.Equal(t, 2, b.Max())
	assert.False(t, b.Exhausted())

	b.Consume()
	assert.Equal(t, 1, b.Used())
	assert.Equal(t, 1, b.Remaining())

	b.Consume()
	assert.True(t, b.Exhausted())
	assert.Equal(t, 0, b.Remaining())

	assert.Equal(t, 1, NewIterationBudget(0).Max())
}

func TestSummarizeTrace(t *testing.T) {
	assert.Equal(t, "No tools were executed.", SummarizeTrace(nil))

	trace := []TraceEntry{
		{ToolName: "search_email", Result: ToolResult{Content: "Found 3 emails"}},
		{ToolName: "send_email", Result: ToolResult{Content: strings.Repeat("x", 200), IsError: true}},
	}
	out := SummarizeTrace(trace)
	assert.Contains(t, out, "Executed 2 tool call(s):")
	assert.Contains(t, out, "1. search_email (ok)")
	assert.Contains(t, out, "2. send_email (error: "+strings.Repeat("x", 120)+"...)")

	res := RunResult{Trace: trace}
	assert.Equal(t, []string{"search_email", "send_email"}, res.ToolNames())
}

func TestSummarizeTrace_KeepsMultiByteRunesWhole(t *testing.T) {
	// "a" then two-byte runes puts byte 120 in the middle of a rune.
	content := "a" + strings.Repeat("é", 100)
	out := SummarizeTrace([]TraceEntry{{ToolName: "read_email", Result: ToolResult{Content: content, IsError: true}}})

	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "(error: a"+strings.Repeat("é", 59)+"...)")

	assert.Equal(t, "日本...", truncate("日本語", 7))
	assert.Equal(t, "日本語", truncate("日本語", 9))
}

func TestMessageClone(t *testing.T) {
	calls := []ToolCallRequest{{ID: "a", Name: "x"}}
	m := NewAssistantMessage("", calls)
	calls[0].Name = "mutated"
	assert.Equal(t, "x", m.ToolCalls[0].Name, "constructor copies calls")

	c := m.Clone()
	c.ToolCalls[0].Name = "clone"
	assert.Equal(t, "x", m.ToolCalls[0].Name)
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	require.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestSentinelErrorsAreDistinct(t *testing.T) {
	errs := []error{ErrModel, ErrRunTimeout, ErrSessionBusy, ErrSessionNotFound, ErrPendingToolCalls, ErrToolResultMismatch}
	for i, a := range errs {
		for j, b := range errs {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v is %v", a, b)
			}
		}
	}
}
