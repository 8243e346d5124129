package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a tenant already has a running sync.
	ErrConflict = errors.New("sync already running for tenant")
)

// New opens a SQLite database connection at the given path.
// It enables foreign keys, WAL journaling and sets connection pool settings.
func New(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate runs database migrations to create the required tables.
// It is idempotent and can be run multiple times safely.
//
// The partial unique index on sync_runs is the per-tenant run lease: one
// running row per tenant, enforced by the store rather than process memory,
// so it survives restarts and holds across worker processes.
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS file_records (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			file_hash TEXT NOT NULL,
			file_size INTEGER NOT NULL DEFAULT 0,
			mime_type TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			modified_at DATETIME NOT NULL,
			sync_status TEXT NOT NULL DEFAULT 'pending',
			last_synced_at DATETIME,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			deleted_at DATETIME,
			UNIQUE (tenant_id, file_path)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_file_records_tenant_status
			ON file_records(tenant_id, sync_status);`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			files_scanned INTEGER NOT NULL DEFAULT 0,
			files_added INTEGER NOT NULL DEFAULT 0,
			files_modified INTEGER NOT NULL DEFAULT 0,
			files_deleted INTEGER NOT NULL DEFAULT 0,
			files_failed INTEGER NOT NULL DEFAULT 0,
			chunks_written INTEGER NOT NULL DEFAULT 0,
			error_message TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_runs_active
			ON sync_runs(tenant_id) WHERE status = 'running';`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_tenant_started
			ON sync_runs(tenant_id, started_at);`,
		`CREATE TABLE IF NOT EXISTS sync_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sync_run_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (sync_run_id) REFERENCES sync_runs(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sync_events_run
			ON sync_events(sync_run_id, id);`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error. Batched metadata commits go through here so a crash loses
// at most one partial batch.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
