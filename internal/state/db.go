// Package state provides SQLite-based persistence for herd's audit
// trail: completed orchestration results and final process snapshots.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with herd-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the herd database for a project.
func DefaultDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".herd", "state.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories if needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Orchestrations},
		{2, migrationV2ProcessArchive},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Orchestrations = `
CREATE TABLE orchestrations (
	id TEXT PRIMARY KEY,
	total_tasks INTEGER NOT NULL,
	successful_tasks INTEGER NOT NULL,
	failed_tasks INTEGER NOT NULL,
	sequential INTEGER NOT NULL DEFAULT 0,
	elapsed_ms INTEGER NOT NULL,
	speedup REAL NOT NULL,
	error_summary TEXT,
	started_at TEXT NOT NULL,
	completed_at TEXT NOT NULL
);

CREATE TABLE task_results (
	orchestration_id TEXT NOT NULL REFERENCES orchestrations(id) ON DELETE CASCADE,
	task_id TEXT NOT NULL,
	success INTEGER NOT NULL,
	error TEXT,
	output TEXT,
	workspace_path TEXT,
	process_id TEXT,
	started_at TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	PRIMARY KEY (orchestration_id, task_id)
);
`

const migrationV2ProcessArchive = `
CREATE TABLE process_archive (
	orchestration_id TEXT NOT NULL,
	process_id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	record TEXT NOT NULL,
	archived_at TEXT NOT NULL,
	PRIMARY KEY (orchestration_id, process_id)
);
`

// formatTime serializes a timestamp for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserializes a stored timestamp.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
