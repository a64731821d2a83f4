// Package storage owns the SQLite connection pool shared by the history and
// settings stores. Open it once at process start and pass it down.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the pooled *sql.DB. Writers go through WithWriteLock so that
// conflicting writes are serialized inside the process; SQLite's busy
// timeout covers the rest.
type DB struct {
	*sql.DB
	path string
	mu   sync.Mutex
}

// Open creates the pool and applies the schema.
// ":memory:" gives a single-connection in-memory database.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		path = ":memory:"
	}

	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(30000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &DB{DB: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Path returns the database location given to Open.
func (s *DB) Path() string {
	return s.path
}

// WithWriteLock runs fn while holding the process-wide write lock.
func (s *DB) WithWriteLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *DB) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS published_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		publish_id TEXT,
		published_at INTEGER NOT NULL,
		entry_id TEXT,
		source TEXT,
		confidence REAL
	);

	CREATE INDEX IF NOT EXISTS idx_history_content ON published_history(content, published_at);

	CREATE TABLE IF NOT EXISTS bot_config (
		config_key TEXT PRIMARY KEY,
		config_value TEXT NOT NULL,
		config_type TEXT NOT NULL DEFAULT 'str',
		description TEXT,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}
