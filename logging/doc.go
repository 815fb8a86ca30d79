// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. New builds a text or JSON slog handler from Config;
// NoOpLogger is the default everywhere a logger is optional.
//
// Log entries use dotted event names as the message ("agent.run.start",
// "tool.call.error") followed by slog style key/value pairs.
package logging
