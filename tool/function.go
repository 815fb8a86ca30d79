package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// FunctionOptions configures a FunctionTool.
type FunctionOptions struct {
	// Capability defaults to ReadOnly.
	Capability Capability
}

// WithCapability marks the tool as ReadOnly or Mutating.
func WithCapability(c Capability) func(o *FunctionOptions) {
	return func(o *FunctionOptions) {
		o.Capability = c
	}
}

// FunctionTool exposes a plain Go function as a tool without collaborators.
//
// The parameters map follows the minimal JSON schema subset validated by the
// registry (type, properties, required, enum, items, additionalProperties).
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	capability  Capability
	fn          ExecuteFunc
}

// NewFunctionTool constructs a FunctionTool from an explicit schema.
//
// Example:
//
//	sum := tool.NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(_ context.Context, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(name, description string, parameters map[string]any, fn ExecuteFunc, optFns ...func(o *FunctionOptions)) *FunctionTool {
	opts := FunctionOptions{Capability: ReadOnly}
	for _, opt := range optFns {
		opt(&opts)
	}

	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		capability:  opts.Capability,
		fn:          fn,
	}
}

// Name returns the tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the argument schema.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Capability reports the configured capability.
func (t *FunctionTool) Capability() Capability { return t.capability }

// Requires returns nil; function tools need no collaborators.
func (t *FunctionTool) Requires() []Key { return nil }

// Bind returns the wrapped function.
func (t *FunctionTool) Bind(Deps) (ExecuteFunc, error) {
	if t.fn == nil {
		return nil, fmt.Errorf("tool %q has no function", t.name)
	}
	return t.fn, nil
}

// NewTypedTool builds a FunctionTool whose schema is reflected from the
// struct type A. Fields use json tags for names and jsonschema tags for
// required flags, descriptions and enums:
//
//	type SearchArgs struct {
//	    Query string `json:"query" jsonschema:"required,description=Search query"`
//	    Limit int    `json:"limit,omitempty" jsonschema:"description=Max results"`
//	}
//
// Arguments are decoded into A before fn is invoked.
func NewTypedTool[A any](name, description string, fn func(ctx context.Context, args A) (any, error), optFns ...func(o *FunctionOptions)) (*FunctionTool, error) {
	schema, err := ReflectSchema[A]()
	if err != nil {
		return nil, fmt.Errorf("reflect schema for %s: %w", name, err)
	}

	exec := func(ctx context.Context, args map[string]any) (any, error) {
		var typed A
		if err := DecodeArgs(args, &typed); err != nil {
			return nil, NewToolError(name, err.Error(), CodeInvalidArguments)
		}
		return fn(ctx, typed)
	}

	return NewFunctionTool(name, description, schema, exec, optFns...), nil
}

// ReflectSchema derives a flat JSON schema object from the struct type A.
func ReflectSchema[A any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}

	data, err := json.Marshal(reflector.Reflect(new(A)))
	if err != nil {
		return nil, err
	}

	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}

	delete(schema, "$schema")
	delete(schema, "$id")

	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}

	return schema, nil
}

// DecodeArgs converts validated arguments into a typed struct.
func DecodeArgs(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
