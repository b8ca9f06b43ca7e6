// Package storage is the Storage Adapter (spec.md §2, §3, §5, §6): an opaque
// collaborator exposing queries over stories, channels, subscriptions,
// read-markers, conversations, and configuration. It never validates content
// shape — only uniqueness and referential integrity (spec.md §9).
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/storynode/core/internal/logging"
)

var log = logging.For("storage")

// poolSize is the bounded connection pool target (spec.md §5).
const poolSize = 10

// DB wraps a pooled SQLite connection for one node's data directory.
type DB struct {
	db   *sql.DB
	path string
}

// resolvePath honors DATABASE_PATH / TEST_DATABASE_PATH env overrides
// (spec.md §6), with TEST_DATABASE_PATH taking precedence.
func resolvePath(dataDir string) string {
	if p := os.Getenv("TEST_DATABASE_PATH"); p != "" {
		return p
	}
	if p := os.Getenv("DATABASE_PATH"); p != "" {
		return p
	}
	return filepath.Join(dataDir, "data.db")
}

// Open opens or creates the node's SQLite database and applies the schema.
func Open(dataDir string) (*DB, error) {
	dbPath := resolvePath(dataDir)

	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	sqldb, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqldb.SetMaxOpenConns(poolSize)

	if _, err := sqldb.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
		PRAGMA foreign_keys = ON;
		PRAGMA temp_store = MEMORY;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	d := &DB{db: sqldb, path: dbPath}
	if err := d.migrate(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Infof("opened database: %s", dbPath)
	return d, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) Path() string { return d.path }

func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stories (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL,
			header      TEXT NOT NULL,
			body        TEXT NOT NULL,
			public      INTEGER NOT NULL DEFAULT 0,
			channel     TEXT NOT NULL REFERENCES channels(name),
			created_at  INTEGER NOT NULL,
			auto_share  INTEGER
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_stories_identity ON stories(name, header, body)`,
		`CREATE TABLE IF NOT EXISTS channels (
			name        TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			created_by  TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS channel_subscriptions (
			peer_id       TEXT NOT NULL,
			channel_name  TEXT NOT NULL REFERENCES channels(name),
			subscribed_at INTEGER NOT NULL,
			PRIMARY KEY (peer_id, channel_name)
		)`,
		`CREATE TABLE IF NOT EXISTS peer_name (
			peer_id TEXT PRIMARY KEY,
			name    TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS story_read_status (
			story_id     INTEGER NOT NULL REFERENCES stories(id),
			peer_id      TEXT NOT NULL,
			channel_name TEXT NOT NULL,
			read_at      INTEGER NOT NULL,
			PRIMARY KEY (story_id, peer_id)
		)`,
		`CREATE TABLE IF NOT EXISTS direct_messages (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			from_peer_id  TEXT NOT NULL,
			from_name     TEXT NOT NULL,
			to_peer_id    TEXT NOT NULL,
			to_name       TEXT NOT NULL,
			message       TEXT NOT NULL,
			timestamp     INTEGER NOT NULL,
			is_outgoing   INTEGER NOT NULL,
			read          INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS config_docs (
			name  TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			tx.Rollback()
			return err
		}
	}
	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO channels (name, description, created_by, created_at) VALUES ('general', 'Default channel', 'system', 0)`,
	); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
