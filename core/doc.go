// Package core provides the foundational domain types shared by every layer
// of the assistant:
//
//   - Messages, tool call requests and tool results (the conversation record)
//   - Session (the append-only, invariant preserving conversation state)
//   - RunResult and TraceEntry (what one agent run produced and why it stopped)
//   - Events (progress notifications for streaming callers)
//   - Sentinel errors shared across packages
//
// Implementation concerns such as model transports, tool execution and
// session ownership live in the model, tool, agent and session packages.
package core
