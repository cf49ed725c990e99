package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store handles all database operations.
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// The engine may write from several goroutines within one pass; SQLite
	// serializes writers, so keep a single connection to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// migrate creates the database schema.
//
// Sub-phase as-of timestamps (and last_modified) are stored as unix
// nanoseconds so conditional updates can compare them exactly.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL DEFAULT '',
		author_id TEXT NOT NULL DEFAULT '',
		author_handle TEXT NOT NULL DEFAULT '',
		author_name TEXT NOT NULL DEFAULT '',
		in_reply_to_user_id TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		media TEXT NOT NULL DEFAULT '[]',
		likes INTEGER NOT NULL DEFAULT 0,
		retweets INTEGER NOT NULL DEFAULT 0,
		replies INTEGER NOT NULL DEFAULT 0,
		quotes INTEGER NOT NULL DEFAULT 0,
		thread_id TEXT NOT NULL DEFAULT '',
		position_in_thread INTEGER NOT NULL DEFAULT 0,
		thread_length INTEGER NOT NULL DEFAULT 0,
		is_thread_root BOOLEAN NOT NULL DEFAULT 0,
		original_url TEXT NOT NULL DEFAULT '',
		posted_at INTEGER NOT NULL DEFAULT 0,
		fetched_at INTEGER NOT NULL DEFAULT 0,
		last_modified INTEGER NOT NULL DEFAULT 0,
		cached BOOLEAN NOT NULL DEFAULT 0,
		cached_at INTEGER NOT NULL DEFAULT 0,
		media_analyzed BOOLEAN NOT NULL DEFAULT 0,
		media_analyzed_at INTEGER NOT NULL DEFAULT 0,
		understood BOOLEAN NOT NULL DEFAULT 0,
		understood_at INTEGER NOT NULL DEFAULT 0,
		categorized BOOLEAN NOT NULL DEFAULT 0,
		categorized_at INTEGER NOT NULL DEFAULT 0,
		media_analyses TEXT NOT NULL DEFAULT '[]',
		understanding TEXT NOT NULL DEFAULT '',
		understanding_model TEXT NOT NULL DEFAULT '',
		main_category TEXT NOT NULL DEFAULT '',
		sub_category TEXT NOT NULL DEFAULT '',
		category_model TEXT NOT NULL DEFAULT '',
		category_reused BOOLEAN NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS categories (
		slug TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS syntheses (
		category_slug TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		model TEXT NOT NULL,
		item_count INTEGER NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS embeddings (
		owner_kind TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		vector TEXT NOT NULL,
		model TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (owner_kind, owner_id)
	);

	CREATE TABLE IF NOT EXISTS phase_runs (
		id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		item_ids TEXT NOT NULL DEFAULT '[]',
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		failures TEXT NOT NULL DEFAULT '[]',
		reused_categories INTEGER NOT NULL DEFAULT 0,
		new_categories INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_items_conversation ON items(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_items_thread ON items(thread_id);
	CREATE INDEX IF NOT EXISTS idx_items_category ON items(main_category);
	CREATE INDEX IF NOT EXISTS idx_phase_runs_phase ON phase_runs(phase, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// tsInt converts a time to unix nanoseconds, mapping the zero time to 0.
func tsInt(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// intTs converts unix nanoseconds back to a time, mapping 0 to the zero time.
func intTs(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
