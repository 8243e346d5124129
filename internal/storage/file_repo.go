package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_file_store.go -package=mocks docsync/internal/storage FileStore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FileStore defines the interface for file record operations.
type FileStore interface {
	// GetByPath gets a file record by tenant and relative path.
	// Returns nil and ErrNotFound if not found.
	GetByPath(ctx context.Context, tenantID, filePath string) (*FileRecord, error)
	// ListByTenant returns all records for a tenant, soft-deleted included.
	ListByTenant(ctx context.Context, tenantID string) ([]FileRecord, error)
	// Upsert inserts or updates a record keyed by (tenant_id, file_path).
	Upsert(ctx context.Context, rec *FileRecord) error
	// UpsertTx is Upsert inside a caller-owned transaction.
	UpsertTx(ctx context.Context, tx *sql.Tx, rec *FileRecord) error
	// MarkDeletedTx soft-deletes a record inside a caller-owned
	// transaction, starting its retention window. The record's hash and
	// chunk_count are left untouched so the eventual purge knows what
	// the index still holds.
	MarkDeletedTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error
	// ListExpiredDeleted returns soft-deleted records whose retention
	// window ended before the cutoff.
	ListExpiredDeleted(ctx context.Context, tenantID string, before time.Time) ([]FileRecord, error)
	// Purge removes a record permanently.
	Purge(ctx context.Context, id string) error
	// CountPending counts records that still represent work: pending,
	// failed, and soft-deleted rows awaiting purge.
	CountPending(ctx context.Context, tenantID string) (int, error)
}

// FileRepo provides file record operations backed by SQLite.
// It implements the FileStore interface.
type FileRepo struct {
	db *sql.DB
}

// NewFileRepo creates a new FileRepo.
func NewFileRepo(db *sql.DB) *FileRepo {
	return &FileRepo{db: db}
}

const fileColumns = `id, tenant_id, file_path, file_hash, file_size, mime_type,
	created_at, modified_at, sync_status, last_synced_at, chunk_count, deleted_at`

func scanFileRecord(row interface{ Scan(...any) error }) (*FileRecord, error) {
	var rec FileRecord
	var lastSynced, deleted sql.NullTime
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.FilePath, &rec.FileHash, &rec.FileSize,
		&rec.MimeType, &rec.CreatedAt, &rec.ModifiedAt, &rec.SyncStatus,
		&lastSynced, &rec.ChunkCount, &deleted,
	)
	if err != nil {
		return nil, err
	}
	if lastSynced.Valid {
		rec.LastSyncedAt = &lastSynced.Time
	}
	if deleted.Valid {
		rec.DeletedAt = &deleted.Time
	}
	return &rec, nil
}

// GetByPath gets a file record by tenant and relative path.
func (r *FileRepo) GetByPath(ctx context.Context, tenantID, filePath string) (*FileRecord, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+fileColumns+" FROM file_records WHERE tenant_id = ? AND file_path = ?",
		tenantID, filePath,
	)
	rec, err := scanFileRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query file record: %w", err)
	}
	return rec, nil
}

// ListByTenant returns all records for a tenant ordered by path.
func (r *FileRepo) ListByTenant(ctx context.Context, tenantID string) ([]FileRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+fileColumns+" FROM file_records WHERE tenant_id = ? ORDER BY file_path",
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

const upsertFileSQL = `INSERT INTO file_records
	(id, tenant_id, file_path, file_hash, file_size, mime_type,
	 created_at, modified_at, sync_status, last_synced_at, chunk_count, deleted_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (tenant_id, file_path) DO UPDATE SET
	file_hash = excluded.file_hash,
	file_size = excluded.file_size,
	mime_type = excluded.mime_type,
	modified_at = excluded.modified_at,
	sync_status = excluded.sync_status,
	last_synced_at = excluded.last_synced_at,
	chunk_count = excluded.chunk_count,
	deleted_at = excluded.deleted_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertFile(ctx context.Context, ex execer, rec *FileRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var lastSynced, deleted any
	if rec.LastSyncedAt != nil {
		lastSynced = rec.LastSyncedAt.UTC()
	}
	if rec.DeletedAt != nil {
		deleted = rec.DeletedAt.UTC()
	}

	_, err := ex.ExecContext(ctx, upsertFileSQL,
		rec.ID, rec.TenantID, rec.FilePath, rec.FileHash, rec.FileSize,
		rec.MimeType, rec.CreatedAt.UTC(), rec.ModifiedAt.UTC(), rec.SyncStatus,
		lastSynced, rec.ChunkCount, deleted,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert file record: %w", err)
	}
	return nil
}

// Upsert inserts or updates a record keyed by (tenant_id, file_path).
// An insert that races an existing row keeps the original ID, so the
// document's deterministic vector IDs stay stable.
func (r *FileRepo) Upsert(ctx context.Context, rec *FileRecord) error {
	existing, err := r.GetByPath(ctx, rec.TenantID, rec.FilePath)
	if err != nil && err != ErrNotFound {
		return err
	}
	if existing != nil {
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
	}
	return upsertFile(ctx, r.db, rec)
}

// UpsertTx is Upsert inside a caller-owned transaction. The caller is
// expected to have resolved the record ID already.
func (r *FileRepo) UpsertTx(ctx context.Context, tx *sql.Tx, rec *FileRecord) error {
	return upsertFile(ctx, tx, rec)
}

// MarkDeletedTx soft-deletes a record inside a caller-owned transaction.
func (r *FileRepo) MarkDeletedTx(ctx context.Context, tx *sql.Tx, id string, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		"UPDATE file_records SET sync_status = ?, deleted_at = ? WHERE id = ?",
		FileStatusDeleted, at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark file deleted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpiredDeleted returns soft-deleted records whose retention window
// ended before the cutoff.
func (r *FileRepo) ListExpiredDeleted(ctx context.Context, tenantID string, before time.Time) ([]FileRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+fileColumns+` FROM file_records
		 WHERE tenant_id = ? AND deleted_at IS NOT NULL AND deleted_at < ?
		 ORDER BY file_path`,
		tenantID, before.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired records: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []FileRecord
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Purge removes a record permanently.
func (r *FileRepo) Purge(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM file_records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to purge file record: %w", err)
	}
	return nil
}

// CountPending counts records that still represent work for the next run.
// Soft-deleted rows inside their grace window are counted: the pending
// purge is work the engine still owes the index.
func (r *FileRepo) CountPending(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM file_records
		 WHERE tenant_id = ? AND sync_status IN (?, ?, ?)`,
		tenantID, FileStatusPending, FileStatusFailed, FileStatusDeleted,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending records: %w", err)
	}
	return n, nil
}
