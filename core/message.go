package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks messages typed by the human.
	RoleUser Role = "user"
	// RoleAssistant marks model output, either text or tool call requests.
	RoleAssistant Role = "assistant"
	// RoleTool marks the observation produced by executing one tool call.
	RoleTool Role = "tool"
	// RoleSystem is only used by model adapters for instructions; it never
	// appears in a session history.
	RoleSystem Role = "system"
)

// FinalAnswerToolName is the reserved name of the termination tool. Calling it
// is the only way a run ends with TerminatedFinalAnswer.
const FinalAnswerToolName = "final_answer"

// ToolCallRequest describes a tool invocation requested by the model.
type ToolCallRequest struct {
	ID        string `json:"id"`                  // Unique within the turn, correlates the result
	Name      string `json:"name"`                // Tool name as advertised in the schema list
	Arguments string `json:"arguments,omitempty"` // Raw JSON object produced by the model
}

// ToolResult is the outcome of exactly one ToolCallRequest.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Message is one entry of the canonical conversation history.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	IsError    bool              `json:"is_error,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewUserMessage creates a user-authored text message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage creates an assistant message with optional tool calls.
// The calls slice is copied.
func NewAssistantMessage(text string, calls []ToolCallRequest) Message {
	m := Message{Role: RoleAssistant, Content: text, Timestamp: time.Now().UTC()}
	if len(calls) > 0 {
		m.ToolCalls = append([]ToolCallRequest(nil), calls...)
	}
	return m
}

// NewToolMessage converts a tool result into its tool-role history message.
func NewToolMessage(res ToolResult) Message {
	return Message{
		Role:       RoleTool,
		Content:    res.Content,
		ToolCallID: res.ToolCallID,
		ToolName:   res.Name,
		IsError:    res.IsError,
		Timestamp:  time.Now().UTC(),
	}
}

// HasToolCalls reports whether the message carries tool call requests.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Clone returns a copy that shares no slices with the receiver.
func (m Message) Clone() Message {
	if len(m.ToolCalls) > 0 {
		m.ToolCalls = append([]ToolCallRequest(nil), m.ToolCalls...)
	}
	return m
}

// ToolSchema advertises one callable tool to a model adapter.
// Parameters is a JSON Schema object (minimal subset).
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NewID generates a new unique identifier for sessions, runs and tool calls.
func NewID() string { return uuid.NewString() }
