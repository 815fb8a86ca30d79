package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/spartacus-desktop/spartacus/core"
)

// MockModel is a scripted in-memory Model useful for tests and offline demos.
// Each Generate call consumes the next scripted step; once the script is
// exhausted the fallback is used, or an error is returned.
type MockModel struct {
	info Info

	mu       sync.Mutex
	script   []func(Request) (Response, error)
	fallback func(Request) (Response, error)
	requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: provider, SupportsTools: true}}
}

// AddText scripts a text-only reply.
func (m *MockModel) AddText(text string) *MockModel {
	return m.AddStep(func(Request) (Response, error) {
		return TextResponse(text), nil
	})
}

// AddToolCalls scripts a reply requesting the given tool calls.
func (m *MockModel) AddToolCalls(calls ...core.ToolCallRequest) *MockModel {
	return m.AddStep(func(Request) (Response, error) {
		return ToolCallResponse("", calls...), nil
	})
}

// AddError scripts a failing model call.
func (m *MockModel) AddError(err error) *MockModel {
	return m.AddStep(func(Request) (Response, error) {
		return Response{}, err
	})
}

// AddStep scripts an arbitrary step.
func (m *MockModel) AddStep(step func(Request) (Response, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, step)
	return m
}

// SetFallback sets the step used once the script is exhausted.
func (m *MockModel) SetFallback(step func(Request) (Response, error)) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = step
	return m
}

// Requests returns a copy of every request received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockModel) next(req Request) func(Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req.Messages = append([]core.Message(nil), req.Messages...)
	m.requests = append(m.requests, req)

	if len(m.script) > 0 {
		step := m.script[0]
		m.script = m.script[1:]
		return step
	}
	return m.fallback
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 2)
	errCh := make(chan error, 1)

	step := m.next(req)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if err := ctx.Err(); err != nil {
			errCh <- err
			return
		}
		if step == nil {
			errCh <- fmt.Errorf("mock model %q: script exhausted", m.info.Name)
			return
		}

		resp, err := step(req)
		if err != nil {
			errCh <- err
			return
		}

		if req.Stream && resp.Message.Content != "" {
			respCh <- Response{Partial: true, Message: core.Message{Role: core.RoleAssistant, Content: resp.Message.Content}}
		}
		respCh <- resp
	}()

	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// TextResponse builds a final text-only response.
func TextResponse(text string) Response {
	return Response{Message: core.NewAssistantMessage(text, nil), FinishReason: "stop"}
}

// ToolCallResponse builds a final response requesting tool calls.
func ToolCallResponse(text string, calls ...core.ToolCallRequest) Response {
	return Response{Message: core.NewAssistantMessage(text, calls), FinishReason: "tool_calls"}
}
