// Package store provides SQLite-backed persistence for approval audit
// records, tool events and task outcomes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vinayprograms/agentkit/logging"
	_ "modernc.org/sqlite"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS approvals (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL DEFAULT '',
	tool        TEXT NOT NULL,
	operation   TEXT NOT NULL DEFAULT '',
	risk        TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	params_json TEXT NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL,
	resolved_by TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	deadline    INTEGER NOT NULL DEFAULT 0,
	resolved_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_approvals_resolved ON approvals(resolved_at);

CREATE TABLE IF NOT EXISTS tool_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type  TEXT NOT NULL,
	corr_id     TEXT NOT NULL,
	session_id  TEXT NOT NULL DEFAULT '',
	task_id     TEXT NOT NULL DEFAULT '',
	tool        TEXT NOT NULL,
	params_json TEXT NOT NULL DEFAULT '{}',
	result      TEXT NOT NULL DEFAULT '',
	success     INTEGER,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_events_session ON tool_events(session_id, id);
CREATE INDEX IF NOT EXISTS idx_tool_events_corr ON tool_events(corr_id);

CREATE TABLE IF NOT EXISTS observations (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL DEFAULT '',
	skill       TEXT NOT NULL,
	task_id     TEXT NOT NULL DEFAULT '',
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_observations_skill ON observations(skill, created_at);
`

// Store wraps the database. It satisfies approval.AuditSink, events.Sink
// and memory.Store.
type Store struct {
	db     *sql.DB
	path   string
	logger *logging.Logger
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schemaV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db, path: path, logger: logging.New().WithComponent("store")}, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }
