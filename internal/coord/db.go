// Package coord provides the coordination store and RPC surface for hive.
// Durable coordination state (agent records, todos, interfaces, messages,
// completion notices, change history) lives in SQLite at ~/.hive/coordination.db;
// expiring state (heartbeats, file locks) lives in an in-memory TTL cache.
package coord

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with hive-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the hive coordination database.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hive", "coordination.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	return db, nil
}

// OpenDefault opens the coordination database at its default location.
func OpenDefault() (*DB, error) {
	return Open(DefaultDBPath())
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

	// Create schema version table
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	// Apply migrations
	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Agents},
		{2, migrationV2TodosInterfaces},
		{3, migrationV3MessagesCompletionsChanges},
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

// Migration SQL statements
const migrationV1Agents = `
CREATE TABLE IF NOT EXISTS agents (
	project_id   TEXT NOT NULL,
	session_name TEXT NOT NULL,
	task_id      TEXT NOT NULL,
	branch       TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'active',
	started_at   DATETIME NOT NULL,
	PRIMARY KEY (project_id, session_name)
);

CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(project_id, status);
`

const migrationV2TodosInterfaces = `
CREATE TABLE IF NOT EXISTS todos (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id   TEXT NOT NULL,
	session_name TEXT NOT NULL,
	text         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	priority     INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_todos_session ON todos(project_id, session_name);

CREATE TABLE IF NOT EXISTS interfaces (
	project_id    TEXT NOT NULL,
	name          TEXT NOT NULL,
	definition    TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	session_name  TEXT NOT NULL,
	registered_at DATETIME NOT NULL,
	PRIMARY KEY (project_id, name)
);
`

const migrationV3MessagesCompletionsChanges = `
CREATE TABLE IF NOT EXISTS messages (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id   TEXT NOT NULL,
	project_id   TEXT NOT NULL,
	from_session TEXT NOT NULL,
	to_session   TEXT NOT NULL,
	type         TEXT NOT NULL,
	body         TEXT NOT NULL,
	reply_to     TEXT NOT NULL DEFAULT '',
	sent_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_inbox ON messages(project_id, to_session, seq);

CREATE TABLE IF NOT EXISTS completions (
	project_id   TEXT NOT NULL,
	task_id      TEXT NOT NULL,
	session_name TEXT NOT NULL,
	completed_at DATETIME NOT NULL,
	PRIMARY KEY (project_id, task_id)
);

CREATE TABLE IF NOT EXISTS changes (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id   TEXT NOT NULL,
	session_name TEXT NOT NULL,
	file_path    TEXT NOT NULL,
	operation    TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	changed_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_changes_window ON changes(project_id, changed_at);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// PurgeOldChanges deletes file-change log entries older than the given duration.
// Returns the number of entries deleted.
func (db *DB) PurgeOldChanges(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	cutoffStr := formatTime(cutoff)

	result, err := db.Exec(`
		DELETE FROM changes WHERE changed_at < ?
	`, cutoffStr)
	if err != nil {
		return 0, fmt.Errorf("purge old changes: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	return count, nil
}
