// Package audit is the append-only deployment-event log (spec A3 in
// SPEC_FULL.md): every phase transition, accept/defer/reject decision,
// and rollback proposal the deployment orchestrator makes gets one row
// here, independent of the registry's current-state JSON file.
//
// Grounded directly on the teacher's db/db.go and db/deployments.go:
// same wrapping-not-embedding *sql.DB struct, same IF NOT EXISTS
// single-statement migration run on every open, same MaxOpenConns(1)
// (SQLite does not support concurrent writers), same raw-SQL-over-ORM
// style. Repurposed from storing mutable deployment rows (the teacher's
// primary store) to storing immutable deployment events (this manager's
// secondary audit trail) — the registry (for agents) and the deploy
// package's in-memory store (for deployments), not this package, hold
// current state.
package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite connection used for the audit log.
type Store struct {
	connection *sql.DB
	logger     *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS deployment_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    deployment_id   TEXT NOT NULL,
    event_type      TEXT NOT NULL,
    phase           TEXT,
    agent_key       TEXT,
    detail          TEXT,
    occurred_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_deployment_events_deployment_id ON deployment_events(deployment_id);
`

// Open opens (creating if absent) the SQLite database at dbPath, runs
// the schema migration, and returns a ready-to-use *Store. The parent
// directory is created if missing.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite database at %q: %w", dbPath, err)
	}
	conn.SetMaxOpenConns(1)

	store := &Store{connection: conn, logger: logger}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}

	logger.Info("audit store opened and schema migrated", "path", dbPath)
	return store, nil
}

func (s *Store) migrate() error {
	if _, err := s.connection.Exec(schema); err != nil {
		return fmt.Errorf("execute schema migration: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.connection.Close()
}
