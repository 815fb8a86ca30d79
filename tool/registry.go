package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/spartacus-desktop/spartacus/core"
	"github.com/spartacus-desktop/spartacus/internal/util"
	"github.com/spartacus-desktop/spartacus/logging"
	"github.com/spartacus-desktop/spartacus/telemetry"
)

// Confirmer approves mutating tool calls before they execute.
type Confirmer interface {
	Confirm(ctx context.Context, call core.ToolCallRequest, args map[string]any) (bool, error)
}

// ConfirmFunc adapts a function to the Confirmer interface.
type ConfirmFunc func(ctx context.Context, call core.ToolCallRequest, args map[string]any) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, call core.ToolCallRequest, args map[string]any) (bool, error) {
	return f(ctx, call, args)
}

// RegistryOptions configures dispatch behaviour.
type RegistryOptions struct {
	// Logger receives dispatch diagnostics. Defaults to a no-op logger.
	Logger logging.Logger

	// Timeout bounds a single tool execution. Zero disables the limit.
	// Time spent waiting for confirmation is not counted.
	Timeout time.Duration

	// ConfirmTimeout bounds how long a confirmation may take. An unanswered
	// confirmation declines the call. Zero disables the limit.
	ConfirmTimeout time.Duration

	// Confirmer gates Mutating tools. When nil they execute directly.
	Confirmer Confirmer

	// Tracer creates one span per dispatched call.
	Tracer trace.Tracer

	// Metrics records call counts and latencies. May be nil.
	Metrics *telemetry.Metrics
}

// WithLogger sets the registry logger.
func WithLogger(logger logging.Logger) func(o *RegistryOptions) {
	return func(o *RegistryOptions) { o.Logger = logger }
}

// WithToolTimeout bounds every tool execution.
func WithToolTimeout(d time.Duration) func(o *RegistryOptions) {
	return func(o *RegistryOptions) { o.Timeout = d }
}

// WithConfirmTimeout bounds every confirmation.
func WithConfirmTimeout(d time.Duration) func(o *RegistryOptions) {
	return func(o *RegistryOptions) { o.ConfirmTimeout = d }
}

type execTimeoutKey struct{}

// WithExecTimeout returns a context whose tool executions are bounded by d
// instead of the registry Timeout.
func WithExecTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, execTimeoutKey{}, d)
}

func (r *Registry) execTimeout(ctx context.Context) time.Duration {
	if d, ok := ctx.Value(execTimeoutKey{}).(time.Duration); ok {
		return d
	}
	return r.opts.Timeout
}

// WithConfirmer installs the approval hook for mutating tools.
func WithConfirmer(c Confirmer) func(o *RegistryOptions) {
	return func(o *RegistryOptions) { o.Confirmer = c }
}

// WithTracer overrides the tracer used for tool spans.
func WithTracer(t trace.Tracer) func(o *RegistryOptions) {
	return func(o *RegistryOptions) { o.Tracer = t }
}

// WithMetrics records dispatch metrics.
func WithMetrics(m *telemetry.Metrics) func(o *RegistryOptions) {
	return func(o *RegistryOptions) { o.Metrics = m }
}

type entry struct {
	tool Tool
	exec ExecuteFunc
}

// Registry is the immutable set of tools available to one agent. It is safe
// for concurrent use by any number of runs.
type Registry struct {
	entries map[string]entry
	names   []string
	opts    RegistryOptions
}

// NewRegistry binds tools against the shared collaborators and returns the
// registry. Every tool must have a unique non-empty name and every key it
// Requires must be present in collaborators. The termination tool is always
// registered and its name is reserved.
func NewRegistry(collaborators Collaborators, tools []Tool, optFns ...func(o *RegistryOptions)) (*Registry, error) {
	opts := RegistryOptions{
		Logger: logging.NoOpLogger{},
		Tracer: telemetry.Tracer(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer()
	}

	r := &Registry{entries: make(map[string]entry, len(tools)+1), opts: opts}

	for _, t := range tools {
		if t == nil {
			return nil, errors.New("nil tool")
		}
		if t.Name() == core.FinalAnswerToolName {
			return nil, fmt.Errorf("tool name %q is reserved", core.FinalAnswerToolName)
		}
		if err := r.register(t, collaborators); err != nil {
			return nil, err
		}
	}

	if err := r.register(NewFinalAnswerTool(), collaborators); err != nil {
		return nil, err
	}

	sort.Strings(r.names)

	return r, nil
}

func (r *Registry) register(t Tool, collaborators Collaborators) error {
	name := t.Name()
	if strings.TrimSpace(name) == "" {
		return errors.New("tool name must not be empty")
	}
	if _, dup := r.entries[name]; dup {
		return fmt.Errorf("duplicate tool name %q", name)
	}

	values := make(map[Key]any, len(t.Requires()))
	for _, key := range t.Requires() {
		v, ok := collaborators[key]
		if !ok {
			return fmt.Errorf("tool %q requires collaborator %q which is not provided", name, key)
		}
		values[key] = v
	}

	exec, err := t.Bind(Deps{values: values})
	if err != nil {
		return fmt.Errorf("bind tool %q: %w", name, err)
	}
	if exec == nil {
		return fmt.Errorf("bind tool %q: nil executor", name)
	}

	r.entries[name] = entry{tool: t, exec: exec}
	r.names = append(r.names, name)

	return nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of registered tools, the termination tool included.
func (r *Registry) Len() int { return len(r.names) }

// Lookup returns the registered tool with the given name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	e, ok := r.entries[name]
	return e.tool, ok
}

// Schemas returns the tool schemas advertised to the model, sorted by name.
func (r *Registry) Schemas() []core.ToolSchema {
	out := make([]core.ToolSchema, 0, len(r.names))
	for _, name := range r.names {
		t := r.entries[name].tool
		out = append(out, core.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// Dispatch executes one tool call and always returns exactly one result for
// it. Failures of any kind are reported as error results; Dispatch itself
// never panics and never returns an error.
func (r *Registry) Dispatch(ctx context.Context, call core.ToolCallRequest) core.ToolResult {
	start := time.Now()
	logger := r.opts.Logger

	ctx, span := r.opts.Tracer.Start(ctx, "tool."+call.Name, trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	logger.Debug("tool.call.start", "tool", call.Name, "call_id", call.ID)

	content, toolErr := r.dispatch(ctx, call)

	duration := time.Since(start)
	code := ""
	if toolErr != nil {
		code = toolErr.Code
		telemetry.RecordSpanError(span, toolErr)
		logger.Warn("tool.call.error", "tool", call.Name, "call_id", call.ID, "code", toolErr.Code, "error", toolErr.Message, "duration_ms", duration.Milliseconds())
	} else {
		logger.Info("tool.call.success", "tool", call.Name, "call_id", call.ID, "duration_ms", duration.Milliseconds())
	}
	r.opts.Metrics.RecordToolCall(call.Name, code, duration)

	if toolErr != nil {
		return ErrorResult(call, toolErr)
	}

	return core.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: content}
}

func (r *Registry) dispatch(ctx context.Context, call core.ToolCallRequest) (string, *ToolError) {
	e, ok := r.entries[call.Name]
	if !ok {
		return "", NewToolError(call.Name,
			fmt.Sprintf("unknown tool %q; available tools: %s", call.Name, strings.Join(r.names, ", ")),
			CodeUnknownTool)
	}

	schema := e.tool.Parameters()

	args, err := ParseArguments(call.Arguments)
	if err != nil {
		return "", &ToolError{
			Tool:    call.Name,
			Message: fmt.Sprintf("%v; expected arguments %s", err, util.DescribeSchema(schema)),
			Code:    CodeInvalidArguments,
		}
	}

	if err := util.ValidateParameters(args, schema); err != nil {
		return "", &ToolError{
			Tool:    call.Name,
			Message: fmt.Sprintf("%v; expected arguments %s", err, util.DescribeSchema(schema)),
			Code:    CodeInvalidArguments,
			Details: err,
		}
	}

	if e.tool.Capability() == Mutating && r.opts.Confirmer != nil {
		if toolErr := r.confirm(ctx, call, args); toolErr != nil {
			return "", toolErr
		}
	}

	value, toolErr := r.execute(ctx, call.Name, e.exec, args)
	if toolErr != nil {
		return "", toolErr
	}

	return RenderResult(value), nil
}

// confirm asks the Confirmer under its own deadline. A panicking Confirmer
// fails the call instead of the run.
func (r *Registry) confirm(ctx context.Context, call core.ToolCallRequest, args map[string]any) (toolErr *ToolError) {
	confirmCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.opts.ConfirmTimeout > 0 {
		confirmCtx, cancel = context.WithTimeout(ctx, r.opts.ConfirmTimeout)
	}
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			toolErr = NewToolError(call.Name, fmt.Sprintf("confirmation panicked: %v", rec), CodePanic)
		}
	}()

	approved, err := r.opts.Confirmer.Confirm(confirmCtx, call, args)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return NewToolError(call.Name, "tool call cancelled", CodeCancelled)
		}
		if ctx.Err() != nil {
			return NewToolError(call.Name, "tool call timed out", CodeTimeout)
		}
		if confirmCtx.Err() != nil {
			return NewToolError(call.Name, fmt.Sprintf("no confirmation received within %s", r.opts.ConfirmTimeout), CodeDeclined)
		}
		return NewToolError(call.Name, "confirmation failed: "+err.Error(), CodeDeclined)
	}
	if !approved {
		return NewToolError(call.Name, "the user declined this action", CodeDeclined)
	}
	return nil
}

type outcome struct {
	value any
	err   error
}

func (r *Registry) execute(ctx context.Context, name string, exec ExecuteFunc, args map[string]any) (any, *ToolError) {
	timeout := r.execTimeout(ctx)
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: NewToolError(name, fmt.Sprintf("tool panicked: %v", rec), CodePanic)}
			}
		}()

		v, err := exec(callCtx, args)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return out.value, nil
		}
		var te *ToolError
		if errors.As(out.err, &te) {
			return nil, te
		}
		if ce := contextError(callCtx, name, out.err); ce != nil {
			return nil, r.timeoutOrCancel(ctx, name, timeout)
		}
		return nil, NewToolError(name, out.err.Error(), CodeExecutionError)
	case <-callCtx.Done():
		// A late outcome lands in the buffered channel and is dropped.
		return nil, r.timeoutOrCancel(ctx, name, timeout)
	}
}

func (r *Registry) timeoutOrCancel(parent context.Context, name string, timeout time.Duration) *ToolError {
	if errors.Is(parent.Err(), context.Canceled) {
		return NewToolError(name, "tool call cancelled", CodeCancelled)
	}
	if parent.Err() == nil && timeout > 0 {
		return NewToolError(name, fmt.Sprintf("tool call exceeded %s", timeout), CodeTimeout)
	}
	return NewToolError(name, "tool call timed out", CodeTimeout)
}

func contextError(ctx context.Context, name string, err error) *ToolError {
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return NewToolError(name, "tool call cancelled", CodeCancelled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewToolError(name, "tool call timed out", CodeTimeout)
	}
	return nil
}

// ParseArguments decodes the raw argument string produced by a model. Empty
// input and JSON null yield an empty object; anything other than a JSON
// object is an error.
func ParseArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}

	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %v", err)
	}

	switch args := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return args, nil
	default:
		return nil, fmt.Errorf("arguments must be a JSON object, got %T", v)
	}
}

// RenderResult converts an executor result into the text sent to the model.
func RenderResult(v any) string {
	switch val := v.(type) {
	case nil:
		return "(no output)"
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// ErrorResult builds the error result for call from a ToolError.
func ErrorResult(call core.ToolCallRequest, te *ToolError) core.ToolResult {
	payload, err := json.Marshal(map[string]string{
		"error": te.Message,
		"code":  te.Code,
	})
	content := string(payload)
	if err != nil {
		content = te.Error()
	}
	return core.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: content, IsError: true}
}
