// Package session owns live conversations. Manager hands each session to at
// most one agent run at a time, evicts idle sessions and persists them
// through a Store.
//
// Store implementations live here (InMemoryStore) and in sub-packages
// (session/sqlite); callers only pick which one to wire.
package session
