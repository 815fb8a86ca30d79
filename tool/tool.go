// Package tool implements the tool contract and the per-agent tool registry
// that lets the agent loop invoke structured capabilities (mail, lookups,
// side effects) with schema validated arguments and uniform error results.
package tool

import (
	"context"
	"fmt"
	"reflect"
)

// Capability classifies what a tool may do to the outside world.
type Capability int

const (
	// ReadOnly tools only observe external state.
	ReadOnly Capability = iota
	// Mutating tools change external state (send mail, write files) and are
	// routed through the registry's Confirmer when one is configured.
	Mutating
)

// String returns the lower case capability name.
func (c Capability) String() string {
	switch c {
	case ReadOnly:
		return "read_only"
	case Mutating:
		return "mutating"
	default:
		return "unknown"
	}
}

// ExecuteFunc is the bound executor of a tool. Arguments have already been
// decoded and validated against the tool's parameter schema. The result is
// rendered as text for the model: strings pass through, anything else is
// encoded as indented JSON.
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool defines the contract every capability exposed to a model implements.
//
// A tool declares the collaborators it needs through Requires. The registry
// resolves them once at construction time and hands the subset to Bind, which
// returns the executor used for every call. Tools never look up collaborators
// at call time.
type Tool interface {
	// Name returns the unique identifier advertised to the model (snake_case).
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns the JSON schema of the arguments object.
	Parameters() map[string]any

	// Capability reports whether the tool mutates external state.
	Capability() Capability

	// Requires lists the collaborator keys Bind expects to find in Deps.
	Requires() []Key

	// Bind closes over the declared collaborators and returns the executor.
	Bind(deps Deps) (ExecuteFunc, error)
}

// Key names a collaborator a tool may require (mail client, clock, ...).
type Key string

// Collaborators is the full set of shared services available to tools of a
// registry. Values must be safe for concurrent use.
type Collaborators map[Key]any

// Deps is the subset of collaborators a tool declared through Requires.
type Deps struct {
	values map[Key]any
}

// NewDeps creates a Deps value from explicit key/value pairs. It is mostly
// useful for binding a tool directly in tests.
func NewDeps(values map[Key]any) Deps {
	cp := make(map[Key]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Deps{values: cp}
}

// Get returns the raw collaborator registered under key.
func (d Deps) Get(key Key) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Lookup returns the collaborator under key asserted to T.
func Lookup[T any](d Deps, key Key) (T, error) {
	var zero T
	v, ok := d.values[key]
	if !ok {
		return zero, fmt.Errorf("collaborator %q not provided", key)
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("collaborator %q has type %T, want %s", key, v, reflect.TypeOf((*T)(nil)).Elem())
	}
	return typed, nil
}

// Error codes carried by ToolError.
const (
	CodeUnknownTool      = "UNKNOWN_TOOL"
	CodeInvalidArguments = "INVALID_ARGUMENTS"
	CodeExecutionError   = "EXECUTION_ERROR"
	CodePanic            = "PANIC"
	CodeTimeout          = "TIMEOUT"
	CodeCancelled        = "CANCELLED"
	CodeDeclined         = "DECLINED"
)

// ToolError represents errors that occur during tool dispatch or execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
