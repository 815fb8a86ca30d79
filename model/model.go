package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/spartacus-desktop/spartacus/core"
)

// ToolChoice controls whether the model may answer without calling a tool.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide between text and tool calls.
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceRequired forces at least one tool call per turn.
	ToolChoiceRequired ToolChoice = "required"
)

// Options are the completion options forwarded with every request.
// Zero values select the adapter defaults.
type Options struct {
	Temperature float64    `json:"temperature,omitempty" yaml:"temperature"`
	MaxTokens   int        `json:"max_tokens,omitempty" yaml:"max_tokens"`
	ToolChoice  ToolChoice `json:"tool_choice,omitempty" yaml:"tool_choice"`
}

// Request captures the normalized model input produced by the agent loop.
type Request struct {
	Instructions string            `json:"instructions"`    // System prompt, never stored in history
	Messages     []core.Message    `json:"messages"`        // Conversation history in canonical order
	Tools        []core.ToolSchema `json:"tools,omitempty"` // Every tool the model may call
	Options      Options           `json:"options"`
	Stream       bool              `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. The final
// response carries the complete assistant message: its text and every tool
// call request in the order the provider returned them.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"`
	Message      core.Message `json:"message"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface the agent loop needs to drive generation.
//
// Generate must close both channels when done. It emits zero or more partial
// responses followed by exactly one final response, or sends one error.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrNoResponse is returned by Await when the model closed its channels
// without producing a final response or an error.
var ErrNoResponse = errors.New("model returned no response")

// Await drives one Generate call to completion and returns the final
// response. onPartial, when non-nil, receives every partial chunk.
func Await(ctx context.Context, m Model, req Request, onPartial func(Response)) (Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final Response
		got   bool
	)

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				if onPartial != nil {
					onPartial(r)
				}
				continue
			}
			final, got = r, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}

	if !got {
		return Response{}, ErrNoResponse
	}

	if final.Message.Role == "" {
		final.Message.Role = core.RoleAssistant
	}

	return final, nil
}

// String renders Info for log lines.
func (i Info) String() string {
	return fmt.Sprintf("%s/%s", i.Provider, i.Name)
}
