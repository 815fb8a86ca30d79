package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/spartacus-desktop/spartacus/core"
	"github.com/spartacus-desktop/spartacus/logging"
	"github.com/spartacus-desktop/spartacus/model"
	"github.com/spartacus-desktop/spartacus/telemetry"
	"github.com/spartacus-desktop/spartacus/tool"
)

// Options configures an Agent. They are fixed once New returns.
type Options struct {
	// Description is a one-line summary shown when listing agents.
	Description string

	// Instruction is the system prompt, resolved once per run.
	Instruction Instruction

	// MaxIterations bounds the Reasoning -> Acting -> Observing cycles of a run.
	MaxIterations int

	// ModelTimeout bounds one model call. Zero disables the limit.
	ModelTimeout time.Duration

	// ToolTimeout bounds one tool execution. Confirmation is not counted.
	// Zero disables the limit.
	ToolTimeout time.Duration

	// RunTimeout bounds the whole run. Zero disables the limit.
	RunTimeout time.Duration

	// MaxParallelTools bounds concurrently executing sibling tool calls.
	// Values below one execute siblings sequentially.
	MaxParallelTools int

	// CompletionOptions are forwarded with every model request.
	CompletionOptions model.Options

	// MaxHistoryMessages limits how much history is sent to the model.
	// Zero sends the complete history.
	MaxHistoryMessages int

	// Stream requests streamed model output; text deltas are forwarded to
	// the event sink.
	Stream bool

	Logger  logging.Logger
	Tracer  trace.Tracer
	Metrics *telemetry.Metrics
}

// Agent drives one language model and one tool registry through the
// reasoning loop. An Agent holds no per-run state and may serve any number
// of sessions concurrently.
type Agent struct {
	name     string
	llm      model.Model
	registry *tool.Registry
	opts     Options
}

// New creates an agent with sensible defaults: ten iterations, a five minute
// run budget, a one minute model call budget and four parallel tool calls.
func New(name string, llm model.Model, registry *tool.Registry, optFns ...func(o *Options)) (*Agent, error) {
	if name == "" {
		return nil, errors.New("agent name must not be empty")
	}
	if llm == nil {
		return nil, fmt.Errorf("agent %q: model is required", name)
	}
	if registry == nil {
		return nil, fmt.Errorf("agent %q: tool registry is required", name)
	}

	opts := Options{
		Instruction:      NewInstructionFromText(fmt.Sprintf("You are %s, a helpful personal assistant. Use the available tools when they help, and call %s with your complete answer when you are done.", name, core.FinalAnswerToolName)),
		MaxIterations:    10,
		ModelTimeout:     time.Minute,
		RunTimeout:       5 * time.Minute,
		MaxParallelTools: 4,
		CompletionOptions: model.Options{
			Temperature: 0.7,
			MaxTokens:   4000,
			ToolChoice:  model.ToolChoiceRequired,
		},
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxIterations <= 0 {
		return nil, fmt.Errorf("agent %q: max iterations must be positive", name)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.Tracer()
	}

	return &Agent{name: name, llm: llm, registry: registry, opts: opts}, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Description returns the configured one-line description.
func (a *Agent) Description() string { return a.opts.Description }

// Model returns the language model driven by the agent.
func (a *Agent) Model() model.Model { return a.llm }

// Registry returns the agent's tool registry.
func (a *Agent) Registry() *tool.Registry { return a.registry }

// MaxIterations returns the iteration budget of one run.
func (a *Agent) MaxIterations() int { return a.opts.MaxIterations }

// run carries the mutable state of one Run call.
type run struct {
	id      string
	sess    *core.Session
	sink    core.EventSink
	logger  logging.Logger
	budget  *core.IterationBudget
	trace   []core.TraceEntry
	started time.Time
}

func (r *run) emit(ev core.Event) { r.sink.Emit(ev) }

func (r *run) event(typ core.EventType) core.Event {
	return core.NewEvent(typ, r.id, r.sess.ID, r.budget.Used()+1)
}

// Run processes one user message against sess until the model calls the
// termination tool, answers with plain text, the iteration budget is
// exhausted, or a fatal error occurs. The returned RunResult is always well
// formed; the error is non-nil exactly when the run terminated with
// core.TerminatedError.
//
// The caller must guarantee that no other run mutates sess concurrently;
// session.Manager does this with a per-session lock.
func (a *Agent) Run(ctx context.Context, sess *core.Session, userText string, sink core.EventSink) (core.RunResult, error) {
	r := &run{
		id:      core.NewID(),
		sess:    sess,
		sink:    serialize(sink),
		budget:  core.NewIterationBudget(a.opts.MaxIterations),
		started: time.Now(),
	}
	r.logger = logging.With(a.opts.Logger, "agent", a.name, "session_id", sess.ID, "run_id", r.id)

	ctx, span := a.opts.Tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent.name", a.name),
		attribute.String("session.id", sess.ID),
		attribute.String("run.id", r.id),
	))
	defer span.End()

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if a.opts.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeoutCause(ctx, a.opts.RunTimeout, core.ErrRunTimeout)
	}
	defer cancel()

	r.logger.Info("agent.run.start", "max_iterations", a.opts.MaxIterations)

	res := a.loop(ctx, runCtx, r, userText)

	if res.Err != nil {
		telemetry.RecordSpanError(span, res.Err)
	}
	span.SetAttributes(
		attribute.String("run.terminated_reason", string(res.TerminatedReason)),
		attribute.Int("run.iterations", res.IterationsUsed),
	)

	duration := time.Since(r.started)
	a.opts.Metrics.RecordRun(a.name, string(res.TerminatedReason), res.IterationsUsed, duration)
	r.logger.Info("agent.run.complete",
		"reason", res.TerminatedReason,
		"iterations", res.IterationsUsed,
		"tool_calls", len(res.Trace),
		"duration_ms", duration.Milliseconds(),
	)

	ev := core.NewEvent(core.EventTerminated, r.id, sess.ID, res.IterationsUsed)
	ev.Reason = res.TerminatedReason
	final := res
	ev.Run = &final
	r.emit(ev)

	return res, res.Err
}

func (a *Agent) loop(ctx, runCtx context.Context, r *run, userText string) core.RunResult {
	if err := r.sess.AppendUser(userText); err != nil {
		return a.fail(r, fmt.Errorf("append user message: %w", err), "The conversation is waiting for tool results and cannot accept a new message.")
	}

	schemas := a.registry.Schemas()

	for {
		if res, stop := a.interrupted(ctx, runCtx, r); stop {
			return res
		}

		// Rendered per step so state written by tools reaches the next call.
		instructions, err := a.opts.Instruction.Resolve(runCtx, r.sess)
		if err != nil {
			return a.fail(r, fmt.Errorf("resolve instruction: %w", err), "The assistant instructions could not be prepared.")
		}

		iteration := r.budget.Used() + 1
		r.logger.Debug("agent.iteration.start", "iteration", iteration)
		r.emit(r.event(core.EventReasoningStarted))

		resp, err := a.reason(runCtx, r, instructions, schemas)
		if err != nil {
			if res, stop := a.interrupted(ctx, runCtx, r); stop {
				return res
			}
			r.logger.Error("agent.model.error", "iteration", iteration, "error", err.Error())
			return a.fail(r, fmt.Errorf("%w: %w", core.ErrModel, err),
				"I couldn't get a response from the language model: "+err.Error())
		}

		msg := resp.Message

		if !msg.HasToolCalls() {
			text := msg.Content
			if strings.TrimSpace(text) == "" {
				r.logger.Warn("agent.empty_response", "iteration", iteration, "finish_reason", resp.FinishReason)
				text = "I couldn't produce an answer to that. " + core.SummarizeTrace(r.trace)
			}
			if err := r.sess.AppendAssistant(text, nil); err != nil {
				return a.fail(r, fmt.Errorf("append assistant message: %w", err), "The conversation state rejected the model reply.")
			}
			r.budget.Consume()
			r.logger.Debug("agent.text_response", "iteration", iteration, "chars", len(text))
			return a.finish(r, core.TerminatedTextResponse, text, nil)
		}

		calls := normalizeCalls(msg.ToolCalls)
		if err := r.sess.AppendAssistant(msg.Content, calls); err != nil {
			return a.fail(r, fmt.Errorf("append assistant message: %w", err), "The conversation state rejected the model reply.")
		}

		outcomes := a.act(runCtx, r, calls)

		results := make([]core.ToolResult, len(outcomes))
		for i, o := range outcomes {
			results[i] = o.result
		}
		if err := r.sess.AppendToolResults(results); err != nil {
			return a.fail(r, fmt.Errorf("append tool results: %w", err), "The conversation state rejected the tool results.")
		}
		r.budget.Consume()

		answer, answered := a.observe(r, calls, outcomes)
		if answered {
			return a.finish(r, core.TerminatedFinalAnswer, answer, nil)
		}

		if r.budget.Exhausted() {
			r.logger.Warn("agent.max_iterations", "iterations", r.budget.Used())
			text := fmt.Sprintf("I've reached the maximum number of reasoning steps (%d) without a final answer. %s",
				a.opts.MaxIterations, core.SummarizeTrace(r.trace))
			return a.finish(r, core.TerminatedMaxIterations, text, nil)
		}
	}
}

// reason performs one model call with the per-call timeout applied.
func (a *Agent) reason(ctx context.Context, r *run, instructions string, schemas []core.ToolSchema) (model.Response, error) {
	info := a.llm.Info()

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if a.opts.ModelTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, a.opts.ModelTimeout)
	}
	defer cancel()

	callCtx, span := a.opts.Tracer.Start(callCtx, "model.generate", trace.WithAttributes(
		attribute.String("model.name", info.Name),
		attribute.String("model.provider", info.Provider),
		attribute.Int("agent.iteration", r.budget.Used()+1),
	))
	defer span.End()

	req := model.Request{
		Instructions: instructions,
		Messages:     windowHistory(r.sess.Messages(), a.opts.MaxHistoryMessages),
		Tools:        schemas,
		Options:      a.opts.CompletionOptions,
		Stream:       a.opts.Stream,
	}

	var onPartial func(model.Response)
	if a.opts.Stream {
		onPartial = func(p model.Response) {
			if p.Message.Content == "" {
				return
			}
			ev := r.event(core.EventTextDelta)
			ev.Delta = p.Message.Content
			r.emit(ev)
		}
	}

	start := time.Now()
	resp, err := model.Await(callCtx, a.llm, req, onPartial)
	duration := time.Since(start)

	var in, out int
	if resp.Usage != nil {
		in, out = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	a.opts.Metrics.RecordModelCall(info.Name, duration, in, out, err)

	if err != nil {
		telemetry.RecordSpanError(span, err)
		return model.Response{}, err
	}

	r.logger.Debug("agent.model.response",
		"finish_reason", resp.FinishReason,
		"tool_calls", len(resp.Message.ToolCalls),
		"duration_ms", duration.Milliseconds(),
	)

	return resp, nil
}

type toolOutcome struct {
	result   core.ToolResult
	duration time.Duration
}

// act dispatches every call of one model turn. Siblings run concurrently up
// to MaxParallelTools; outcomes keep request order.
func (a *Agent) act(ctx context.Context, r *run, calls []core.ToolCallRequest) []toolOutcome {
	outcomes := make([]toolOutcome, len(calls))
	ctx = tool.WithState(ctx, r.sess)

	limit := a.opts.MaxParallelTools
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for i, call := range calls {
		g.Go(func() error {
			started := r.event(core.EventToolCallStarted)
			started.ToolCall = &call
			r.emit(started)

			callCtx := ctx
			if a.opts.ToolTimeout > 0 {
				callCtx = tool.WithExecTimeout(ctx, a.opts.ToolTimeout)
			}

			start := time.Now()
			res := a.registry.Dispatch(callCtx, call)
			outcomes[i] = toolOutcome{result: res, duration: time.Since(start)}

			finished := r.event(core.EventToolCallFinished)
			finished.ToolCall = &call
			finished.Result = &res
			r.emit(finished)

			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

// observe records the executed calls in the trace and reports whether a
// termination call succeeded. The termination call itself is not traced.
func (a *Agent) observe(r *run, calls []core.ToolCallRequest, outcomes []toolOutcome) (string, bool) {
	var (
		answer   string
		answered bool
	)

	for i, call := range calls {
		o := outcomes[i]
		args, _ := tool.ParseArguments(call.Arguments)

		if call.Name == core.FinalAnswerToolName {
			if !answered && !o.result.IsError {
				answer, _ = args["answer"].(string)
				answered = true
			}
			continue
		}

		r.trace = append(r.trace, core.TraceEntry{
			ToolCallID:   call.ID,
			ToolName:     call.Name,
			Arguments:    args,
			RawArguments: call.Arguments,
			Result:       o.result,
			Duration:     o.duration,
		})
	}

	return answer, answered
}

// interrupted reports whether the run must stop before the next model call
// because the caller cancelled or the run budget expired.
func (a *Agent) interrupted(ctx, runCtx context.Context, r *run) (core.RunResult, bool) {
	if err := ctx.Err(); err != nil {
		r.logger.Warn("agent.run.cancelled", "error", err.Error())
		return a.fail(r, fmt.Errorf("run cancelled: %w", err),
			"The request was cancelled. "+core.SummarizeTrace(r.trace)), true
	}
	if runCtx.Err() != nil {
		r.logger.Warn("agent.run.timeout", "timeout", a.opts.RunTimeout)
		return a.fail(r, core.ErrRunTimeout,
			fmt.Sprintf("The request timed out after %s. %s", a.opts.RunTimeout, core.SummarizeTrace(r.trace))), true
	}
	return core.RunResult{}, false
}

func (a *Agent) fail(r *run, err error, text string) core.RunResult {
	return a.finish(r, core.TerminatedError, text, err)
}

func (a *Agent) finish(r *run, reason core.TerminationReason, text string, err error) core.RunResult {
	return core.RunResult{
		RunID:            r.id,
		SessionID:        r.sess.ID,
		FinalText:        text,
		Trace:            append([]core.TraceEntry(nil), r.trace...),
		IterationsUsed:   r.budget.Used(),
		TerminatedReason: reason,
		Err:              err,
	}
}

// normalizeCalls returns a copy of calls where every ID is non-empty and
// unique within the turn.
func normalizeCalls(calls []core.ToolCallRequest) []core.ToolCallRequest {
	out := append([]core.ToolCallRequest(nil), calls...)
	seen := make(map[string]bool, len(out))
	for i := range out {
		if out[i].ID == "" || seen[out[i].ID] {
			out[i].ID = "call_" + core.NewID()
		}
		seen[out[i].ID] = true
	}
	return out
}

// windowHistory returns the suffix of history sent to the model. The suffix
// starts on a user message so tool results are never separated from the
// assistant message that requested them.
func windowHistory(history []core.Message, max int) []core.Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	start := len(history) - max
	for i := start; i < len(history); i++ {
		if history[i].Role == core.RoleUser {
			return history[i:]
		}
	}
	for i := start - 1; i >= 0; i-- {
		if history[i].Role == core.RoleUser {
			return history[i:]
		}
	}
	return history
}

// serialize makes sink safe for concurrent emitters.
func serialize(sink core.EventSink) core.EventSink {
	if sink == nil {
		return nil
	}
	var mu sync.Mutex
	return func(ev core.Event) {
		mu.Lock()
		defer mu.Unlock()
		sink(ev)
	}
}
