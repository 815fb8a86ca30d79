// Package agent implements the reasoning loop that turns one user message
// into a final answer.
//
// A run alternates between three phases until it terminates:
//
//   - Reasoning: the model receives the instruction, the session history and
//     every tool schema
//   - Acting: requested tool calls are dispatched through the tool registry,
//     concurrently when the model asks for several at once
//   - Observing: results are appended to the session in request order
//
// A run ends when the model calls the final_answer tool, replies with plain
// text, exhausts its iteration budget, or hits a fatal error such as a model
// failure, cancellation or the run timeout. Tool failures are never fatal;
// they are folded back into the conversation as error results so the model
// can recover.
package agent
