package agent

import (
	"context"

	"github.com/spartacus-desktop/spartacus/core"
	"github.com/spartacus-desktop/spartacus/internal/util"
)

// Provider supplies dynamic instruction text at runtime.
// Implementations can derive instructions from session state, environment, etc.
type Provider interface {
	Instruction(ctx context.Context, sess *core.Session) (string, error)
}

// Func is a functional adapter to allow ordinary functions to be used as Providers.
type Func func(ctx context.Context, sess *core.Session) (string, error)

// Instruction implements Provider.
func (f Func) Instruction(ctx context.Context, sess *core.Session) (string, error) {
	return f(ctx, sess)
}

// Instruction represents either a static instruction template or a dynamic
// provider. Static text is rendered as a text/template against the session
// state, so "Hello {{.user_name}}" picks up state written by earlier turns.
type Instruction struct {
	text     string
	provider Provider
}

// NewInstructionFromText creates an Instruction from a static template.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p Provider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(ctx context.Context, sess *core.Session) (string, error)) Instruction {
	return Instruction{provider: Func(f)}
}

// IsStatic returns true if the instruction is backed by a static template.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if needed.
func (i Instruction) Resolve(ctx context.Context, sess *core.Session) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ctx, sess)
	}
	var state map[string]any
	if sess != nil {
		state = sess.State()
	}
	return util.RenderTemplate(i.text, state)
}
