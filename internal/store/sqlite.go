// ABOUTME: SQLite implementation of the Store interface
// ABOUTME: Opens the database with WAL and foreign keys, creates the schema, and runs migrations

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so TEXT ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store at the given path using the pure Go driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return Open("sqlite", path)
}

// Open creates a store at the given path using the named database/sql driver
// ("sqlite" for modernc.org/sqlite, "sqlite3" for mattn/go-sqlite3 in cgo builds).
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func Open(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if !driverAvailable(driver) {
		return nil, fmt.Errorf("sqlite driver %q is not compiled in", driver)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(driver, dsn(driver, path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// dsn appends per-connection pragmas so every pooled connection enforces
// foreign keys, not just the first one.
func dsn(driver, path string) string {
	if driver == "sqlite3" {
		return path + "?_foreign_keys=on&_busy_timeout=5000"
	}
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// driverAvailable reports whether a database/sql driver is registered.
func driverAvailable(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			name          TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

		CREATE TABLE IF NOT EXISTS profiles (
			id           TEXT PRIMARY KEY,
			user_id      TEXT UNIQUE REFERENCES accounts(id) ON DELETE SET NULL,
			display_name TEXT NOT NULL,
			theme_pref   TEXT NOT NULL DEFAULT 'system',
			verified     INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL,

			CHECK (theme_pref IN ('system', 'light', 'dark'))
		);

		CREATE INDEX IF NOT EXISTS idx_profiles_display_name ON profiles(display_name);

		CREATE TABLE IF NOT EXISTS tickets (
			id          TEXT PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority    TEXT NOT NULL DEFAULT 'medium',
			status      TEXT NOT NULL DEFAULT 'open',
			attachments TEXT NOT NULL DEFAULT '[]',
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL,

			CHECK (priority IN ('low', 'medium', 'high')),
			CHECK (status IN ('open', 'in_progress', 'waiting', 'resolved', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_owner ON tickets(owner_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_tickets_created ON tickets(created_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			ticket_id   TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			sender_id   TEXT NOT NULL,
			content     TEXT NOT NULL DEFAULT '',
			attachments TEXT NOT NULL DEFAULT '[]',
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_ticket_created ON messages(ticket_id, created_at);

		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS articles (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			category   TEXT NOT NULL DEFAULT '',
			published  INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published, created_at DESC);

		CREATE TABLE IF NOT EXISTS attachments (
			id           TEXT PRIMARY KEY,
			filename     TEXT NOT NULL,
			content_type TEXT NOT NULL,
			size         INTEGER NOT NULL,
			uploader_id  TEXT NOT NULL,
			storage_key  TEXT NOT NULL UNIQUE,
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS webauthn_credentials (
			id               TEXT PRIMARY KEY,
			account_id       TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			credential_id    BLOB NOT NULL UNIQUE,
			public_key       BLOB NOT NULL,
			attestation_type TEXT NOT NULL DEFAULT '',
			transports       TEXT,
			sign_count       INTEGER NOT NULL DEFAULT 0,
			created_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_webauthn_account ON webauthn_credentials(account_id);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id    TEXT PRIMARY KEY,
			actor_id    TEXT NOT NULL,
			action      TEXT NOT NULL,
			target_type TEXT NOT NULL,
			target_id   TEXT NOT NULL,
			ts          TEXT NOT NULL,
			detail_json TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target_type, target_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "articles",
			column: "published",
			apply:  `ALTER TABLE articles ADD COLUMN published INTEGER NOT NULL DEFAULT 1`,
		},
		{
			table:  "tickets",
			column: "updated_at",
			apply:  `ALTER TABLE tickets ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column,
		).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isCheckConstraintError checks if the error is a SQLite CHECK constraint violation
func isCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "CHECK constraint failed")
}

// isForeignKeyError checks if the error is a SQLite FOREIGN KEY constraint violation
func isForeignKeyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by older builds used second precision.
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeIDs stores an attachment id list as a JSON array.
func encodeIDs(ids []string) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encoding attachment ids: %w", err)
	}
	return string(data), nil
}

func decodeIDs(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("decoding attachment ids: %w", err)
	}
	return ids, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
