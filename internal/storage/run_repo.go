package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// RunStore defines the interface for sync run operations.
type RunStore interface {
	// Acquire creates a running SyncRun for the tenant, taking the
	// per-tenant lease. Returns ErrConflict if a run is already active.
	Acquire(ctx context.Context, tenantID string) (*SyncRun, error)
	// Finish moves a run to a terminal status and persists its counters.
	Finish(ctx context.Context, run *SyncRun) error
	// Get returns a run by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, id string) (*SyncRun, error)
	// ActiveByTenant returns the tenant's running run, or ErrNotFound.
	ActiveByTenant(ctx context.Context, tenantID string) (*SyncRun, error)
	// LatestTerminalByTenant returns the most recently started terminal
	// run for the tenant, or ErrNotFound.
	LatestTerminalByTenant(ctx context.Context, tenantID string) (*SyncRun, error)
	// FailInterrupted marks any still-running runs as failed and returns
	// the affected tenant IDs. Called once at startup to clear leases
	// orphaned by a crash.
	FailInterrupted(ctx context.Context) ([]string, error)
}

// RunRepo provides sync run operations backed by SQLite.
// It implements the RunStore interface.
type RunRepo struct {
	db *sql.DB
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

// Acquire creates a running SyncRun for the tenant. The partial unique
// index idx_sync_runs_active rejects a second running row, which surfaces
// here as ErrConflict without any read-then-write race.
func (r *RunRepo) Acquire(ctx context.Context, tenantID string) (*SyncRun, error) {
	run := &SyncRun{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sync_runs (id, tenant_id, status, started_at) VALUES (?, ?, ?, ?)",
		run.ID, run.TenantID, run.Status, run.StartedAt,
	)
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}
	return run, nil
}

// Finish moves a run to a terminal status and persists its counters.
func (r *RunRepo) Finish(ctx context.Context, run *SyncRun) error {
	now := time.Now().UTC()
	run.CompletedAt = &now

	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?,
		 files_scanned = ?, files_added = ?, files_modified = ?,
		 files_deleted = ?, files_failed = ?, chunks_written = ?,
		 error_message = ? WHERE id = ?`,
		run.Status, now, run.FilesScanned, run.FilesAdded, run.FilesModified,
		run.FilesDeleted, run.FilesFailed, run.ChunksWritten, run.ErrorMessage,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish sync run: %w", err)
	}
	return nil
}

const runColumns = `id, tenant_id, status, started_at, completed_at,
	files_scanned, files_added, files_modified, files_deleted, files_failed,
	chunks_written, error_message`

func scanRun(row interface{ Scan(...any) error }) (*SyncRun, error) {
	var run SyncRun
	var completed sql.NullTime
	err := row.Scan(
		&run.ID, &run.TenantID, &run.Status, &run.StartedAt, &completed,
		&run.FilesScanned, &run.FilesAdded, &run.FilesModified,
		&run.FilesDeleted, &run.FilesFailed, &run.ChunksWritten,
		&run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return &run, nil
}

// Get returns a run by ID.
func (r *RunRepo) Get(ctx context.Context, id string) (*SyncRun, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM sync_runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query sync run: %w", err)
	}
	return run, nil
}

// ActiveByTenant returns the tenant's running run, or ErrNotFound.
func (r *RunRepo) ActiveByTenant(ctx context.Context, tenantID string) (*SyncRun, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM sync_runs WHERE tenant_id = ? AND status = ?",
		tenantID, RunStatusRunning)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active run: %w", err)
	}
	return run, nil
}

// LatestTerminalByTenant returns the most recently started terminal run.
func (r *RunRepo) LatestTerminalByTenant(ctx context.Context, tenantID string) (*SyncRun, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+runColumns+` FROM sync_runs
		 WHERE tenant_id = ? AND status != ?
		 ORDER BY started_at DESC LIMIT 1`,
		tenantID, RunStatusRunning)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest run: %w", err)
	}
	return run, nil
}

// FailInterrupted marks any still-running runs as failed and returns the
// affected tenant IDs, so the orchestrator can schedule a verification pass
// for those tenants.
func (r *RunRepo) FailInterrupted(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT tenant_id FROM sync_runs WHERE status = ?", RunStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to find interrupted runs: %w", err)
	}
	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(tenants) == 0 {
		return nil, nil
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?, error_message = ?
		 WHERE status = ?`,
		RunStatusFailed, time.Now().UTC(), "interrupted by process restart",
		RunStatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fail interrupted runs: %w", err)
	}
	return tenants, nil
}
