// Package sqlite implements session.Store on a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spartacus-desktop/spartacus/core"
	"github.com/spartacus-desktop/spartacus/session"
)

// Store persists session snapshots in one table. Messages and state are
// stored as JSON documents next to the indexed timestamps.
type Store struct {
	db *sql.DB
}

var (
	_ session.Store  = (*Store)(nil)
	_ session.Purger = (*Store)(nil)
)

// New opens (or creates) a SQLite database at path and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		last_active_at DATETIME NOT NULL,
		messages TEXT NOT NULL DEFAULT '[]',
		state TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns the snapshot for id or core.ErrSessionNotFound.
func (s *Store) Load(ctx context.Context, id string) (core.Snapshot, error) {
	var (
		snap            core.Snapshot
		messages, state string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, last_active_at, messages, state FROM sessions WHERE id = ?`, id,
	).Scan(&snap.ID, &snap.CreatedAt, &snap.LastActiveAt, &messages, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Snapshot{}, core.ErrSessionNotFound
	}
	if err != nil {
		return core.Snapshot{}, err
	}

	if err := json.Unmarshal([]byte(messages), &snap.Messages); err != nil {
		return core.Snapshot{}, fmt.Errorf("decode messages of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(state), &snap.State); err != nil {
		return core.Snapshot{}, fmt.Errorf("decode state of %s: %w", id, err)
	}
	return snap, nil
}

// Save inserts or replaces the snapshot.
func (s *Store) Save(ctx context.Context, snap core.Snapshot) error {
	messages, err := json.Marshal(snap.Messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	if snap.State == nil {
		snap.State = map[string]any{}
	}
	state, err := json.Marshal(snap.State)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, last_active_at, messages, state)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   last_active_at = excluded.last_active_at,
		   messages = excluded.messages,
		   state = excluded.state`,
		snap.ID, snap.CreatedAt.UTC(), snap.LastActiveAt.UTC(), string(messages), string(state),
	)
	return err
}

// Delete removes a snapshot. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// List returns all stored ids in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PurgeBefore deletes snapshots whose id starts with prefix and that were
// inactive since before t. It returns how many were removed.
func (s *Store) PurgeBefore(ctx context.Context, prefix string, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_active_at < ? AND (? = '' OR instr(id, ?) = 1)`,
		t.UTC(), prefix, prefix,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
