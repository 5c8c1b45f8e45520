// Package store is the SQLite persistence layer for runtime state that
// must survive restarts: session bookkeeping, the delegation audit trail
// and cron job definitions.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/mama-os/mama/pkg/logger"
)

// Store wraps one SQLite file. A single connection serializes all
// writers, which avoids SQLITE_BUSY without a retry loop.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Init creates all tables. Safe to call on every startup.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			channel_key TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			client_id TEXT,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_active INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS decision_edges (
			id TEXT PRIMARY KEY,
			wave INTEGER NOT NULL,
			from_agent TEXT NOT NULL,
			to_agent TEXT NOT NULL,
			channel_key TEXT NOT NULL,
			task TEXT NOT NULL,
			background INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_channel
			ON decision_edges (channel_key, created_at)`,
		`CREATE TABLE IF NOT EXISTS cron_jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			expr TEXT NOT NULL DEFAULT '',
			every_seconds INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL,
			reply_source TEXT NOT NULL DEFAULT '',
			reply_channel TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			last_run INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating tables: %w", err)
		}
	}
	logger.DebugC("store", "Schema initialized")
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
