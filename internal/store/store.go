// Package store provides the persistent history record store for historyd.
//
// The store is an embedded SQLite database holding the typed history items
// that the merge engine derives from remotely fetched study reports. It is
// the single owner of item lifetime: the merge engine creates and updates
// items only through this package, inside one atomic unit of work per
// report batch.
//
// Architecture:
//   - Database file: <data-dir>/history.db
//   - WAL mode: concurrent readers during merge writes
//   - Schema: history_items, report_log tables
//   - Indexes: optimized for day-bucket and natural-key lookups
//
// Workflow:
//  1. The report source drops batch files into the spool
//  2. The daemon merges each batch in a single transaction
//  3. Timeline consumers (CLI, dashboard) query committed data
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrUnavailable is returned once the store has permanently failed to open.
// History features degrade to unavailable rather than crashing; the error
// is surfaced so callers can report a stale-history state.
var ErrUnavailable = errors.New("history store unavailable")

// DB wraps the SQLite connection with history-store functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it will be created; call InitSchema to
// create the tables.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// WAL mode gives timeline readers a consistent snapshot while the
	// merge worker writes.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// OpenWithRecovery opens the store, retrying exactly once after destroying
// a store that fails to open or migrate. The retry handles on-disk
// corruption; losing the local cache only costs a full refetch from the
// remote source of truth, never data loss.
//
// If the retry also fails, the returned error wraps ErrUnavailable and no
// further retries should be attempted this process.
func OpenWithRecovery(path string, logger *log.Logger) (*DB, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	db, err := openAndMigrate(path)
	if err == nil {
		return db, nil
	}

	logger.Printf("WARNING: store open failed, destroying and recreating: %v", err)

	if derr := Destroy(path); derr != nil {
		return nil, fmt.Errorf("%w: destroy after failed open: %v (open error: %v)", ErrUnavailable, derr, err)
	}

	db, err = openAndMigrate(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reopen after recreate: %v", ErrUnavailable, err)
	}

	logger.Printf("store recreated at %s", path)
	return db, nil
}

func openAndMigrate(path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Destroy removes the on-disk store. The primary database file and its
// -wal and -shm companions form one logical store and must be deleted
// together; removing only one of them leaves SQLite with a journal that no
// longer matches the data file.
func Destroy(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// Path returns the on-disk location of the primary database file.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	-- One row per history item; kind-specific fields share the table and
	-- default to zero values for kinds that don't use them.
	CREATE TABLE IF NOT EXISTS history_items (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		task_id TEXT NOT NULL,
		item_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		image_name TEXT NOT NULL DEFAULT '',
		timestamp_ms INTEGER NOT NULL,
		report_ms INTEGER NOT NULL,
		date_bucket TEXT NOT NULL,
		tz_seconds INTEGER NOT NULL,
		tz_changed INTEGER NOT NULL DEFAULT 0,
		time_bucket_id TEXT,  -- id of the run-head item, NULL for run heads

		-- medication
		dosage TEXT NOT NULL DEFAULT '',
		time_of_day TEXT NOT NULL DEFAULT '',
		taken INTEGER NOT NULL DEFAULT 0,

		-- symptom
		severity INTEGER NOT NULL DEFAULT 0,
		duration_level TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		med_timing TEXT NOT NULL DEFAULT '',

		-- tapping measurement
		left_count INTEGER NOT NULL DEFAULT 0,
		right_count INTEGER NOT NULL DEFAULT 0,

		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Metadata for reports already folded into the store. Purged daily;
	-- the items themselves are never purged.
	CREATE TABLE IF NOT EXISTS report_log (
		task_id TEXT NOT NULL,
		report_ms INTEGER NOT NULL,
		fetched_day TEXT NOT NULL,
		PRIMARY KEY (task_id, report_ms)
	);

	-- Indexes for day-bucket and natural-key lookups
	CREATE INDEX IF NOT EXISTS idx_items_day ON history_items(date_bucket, timestamp_ms);
	CREATE INDEX IF NOT EXISTS idx_items_kind_ts ON history_items(kind, timestamp_ms);
	CREATE INDEX IF NOT EXISTS idx_items_kind_item ON history_items(kind, item_id);
	CREATE INDEX IF NOT EXISTS idx_report_log_day ON report_log(fetched_day);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
