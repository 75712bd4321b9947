// Package storage persists local state in a single SQLite database:
// installed plugin records, plugin key/value namespaces, and a cache of
// server-side chats and documents for offline listing.
package storage

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the local database. All storage facets (plugins, plugin
// KV, cache) share the one connection.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database under dataDir.
func New(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "chatraw.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}

	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plugins (
		id TEXT PRIMARY KEY,
		version TEXT NOT NULL,
		source_url TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		manifest TEXT NOT NULL,
		settings_values TEXT NOT NULL DEFAULT '{}',
		last_error TEXT NOT NULL DEFAULT '',
		installed_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plugin_kv (
		plugin_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (plugin_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_plugin_kv_plugin ON plugin_kv(plugin_id);

	CREATE TABLE IF NOT EXISTS cached_chats (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS cached_documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		created_at DATETIME
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
