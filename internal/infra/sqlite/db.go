// Package sqlite is the default durable ledger store, backed by a single
// SQLite file under the data directory.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "ledger.db"

// DB wraps the SQLite handle.
type DB struct {
	db *sql.DB

	// Injectable clock for testing.
	now func() time.Time
}

// Open opens (creating if needed) the ledger database in dir and applies
// all migrations.
func Open(dir string) (*DB, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(filepath.Clean(dir), FileName)
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	db := Wrap(sqlDB)
	if err := db.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Wrap adopts an already-open handle without running migrations.
func Wrap(sqlDB *sql.DB) *DB {
	return &DB{db: sqlDB, now: time.Now}
}

// Close closes the SQLite handle.
func (db *DB) Close() error {
	if db == nil || db.db == nil {
		return nil
	}
	return db.db.Close()
}

// SetClock overrides the clock used for entries without a timestamp.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// Ping checks that the database is reachable.
func (db *DB) Ping() error {
	return db.db.Ping()
}

// migrate applies every schema statement in order. All statements are
// idempotent so re-running on an existing database is a no-op.
func (db *DB) migrate() error {
	for _, stmt := range LedgerMigrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
