package tool

import (
	"context"
	"errors"
	"fmt"
)

// State is the key/value state of the session a run belongs to. Instruction
// templates render it, so values written by tools shape later prompts.
// *core.Session implements it.
type State interface {
	GetState(key string) (any, bool)
	SetState(key string, value any)
}

type stateKey struct{}

// WithState returns a context carrying the run's session state. The agent
// loop installs it before dispatching tool calls.
func WithState(ctx context.Context, s State) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}

// StateFrom returns the session state carried by ctx.
func StateFrom(ctx context.Context) (State, bool) {
	s, ok := ctx.Value(stateKey{}).(State)
	return s, ok && s != nil
}

// Names of the built-in state tools.
const (
	GetStateToolName = "get_state"
	SetStateToolName = "set_state"
)

var errNoState = errors.New("no session state is available to this call")

// GetStateArgs is the argument object of get_state.
type GetStateArgs struct {
	Key string `json:"key" jsonschema:"required,description=State key to read, e.g. user_name"`
}

// SetStateArgs is the argument object of set_state.
type SetStateArgs struct {
	Key   string `json:"key" jsonschema:"required,description=State key to write, e.g. user_name"`
	Value string `json:"value" jsonschema:"required,description=Value to remember for the rest of the conversation"`
}

// NewGetStateTool returns the tool that reads one session state value.
func NewGetStateTool() *FunctionTool {
	t, err := NewTypedTool(
		GetStateToolName,
		"Read a value remembered earlier in this conversation, such as the user's name or preferences.",
		func(ctx context.Context, args GetStateArgs) (any, error) {
			st, ok := StateFrom(ctx)
			if !ok {
				return nil, errNoState
			}
			v, found := st.GetState(args.Key)
			return map[string]any{"key": args.Key, "exists": found, "value": v}, nil
		},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// NewSetStateTool returns the tool that writes one session state value.
// Session state stays inside the assistant, so the tool is not Mutating
// and never asks for confirmation.
func NewSetStateTool() *FunctionTool {
	t, err := NewTypedTool(
		SetStateToolName,
		"Remember a value for the rest of this conversation, such as the user's name or a preference. Remembered values are included in your instructions.",
		func(ctx context.Context, args SetStateArgs) (any, error) {
			if args.Key == "" {
				return nil, NewToolError(SetStateToolName, "key must not be empty", CodeInvalidArguments)
			}
			st, ok := StateFrom(ctx)
			if !ok {
				return nil, errNoState
			}
			st.SetState(args.Key, args.Value)
			return fmt.Sprintf("Remembered %s.", args.Key), nil
		},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// StateTools returns get_state and set_state.
func StateTools() []Tool {
	return []Tool{NewGetStateTool(), NewSetStateTool()}
}
