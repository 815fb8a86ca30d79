// Package model defines the provider-agnostic abstractions for talking to
// language models:
//
//   - Request carries instructions, the canonical message history, the tool
//     schemas and completion options
//   - Response carries the assistant message (text and tool call requests)
//   - Model unifies streaming and non-streaming generation
//   - Await drains a Generate call into its final response
//   - MockModel is a scripted model for tests and offline use
//
// Providers (model/openai, model/anthropic) implement Model so the agent loop
// stays decoupled from vendor SDKs.
package model
