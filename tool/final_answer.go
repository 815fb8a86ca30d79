package tool

import (
	"context"
	"strings"

	"github.com/spartacus-desktop/spartacus/core"
)

// FinalAnswerArgs is the argument object of the termination tool.
type FinalAnswerArgs struct {
	Answer string `json:"answer" jsonschema:"required,description=The complete answer to present to the user"`
}

// NewFinalAnswerTool returns the reserved termination tool. Every registry
// registers it; the agent loop recognises a successful call by name and ends
// the run with its answer argument.
func NewFinalAnswerTool() *FunctionTool {
	t, err := NewTypedTool(
		core.FinalAnswerToolName,
		"Provide the final answer to the user. Call this exactly once, when you have everything needed to answer; the conversation turn ends after it.",
		func(_ context.Context, args FinalAnswerArgs) (any, error) {
			if strings.TrimSpace(args.Answer) == "" {
				return nil, NewToolError(core.FinalAnswerToolName, "answer must not be empty", CodeInvalidArguments)
			}
			return "Final answer provided: " + args.Answer, nil
		},
	)
	if err != nil {
		// The argument type is static; reflection cannot fail for it.
		panic(err)
	}
	return t
}
