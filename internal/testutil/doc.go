// Package testutil contains helpers shared by package tests: a fluent
// session builder and a concurrency-safe event recorder. They are not
// intended for production usage.
package testutil
