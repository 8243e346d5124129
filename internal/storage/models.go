package storage

import "time"

// File sync statuses.
const (
	FileStatusPending = "pending"
	FileStatusSynced  = "synced"
	FileStatusFailed  = "failed"
	FileStatusDeleted = "deleted"
)

// Sync run statuses. Running is the only non-terminal status; the partial
// unique index on sync_runs enforces at most one per tenant.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Sync event types.
const (
	EventPhase          = "phase"
	EventFileProcessed  = "file_processed"
	EventFileFailed     = "file_failed"
	EventFileDeleted    = "file_deleted"
	EventFilePurged     = "file_purged"
	EventBatchCommitted = "batch_committed"
)

// FileRecord is the source-of-truth row for one file in a tenant's corpus.
// Keyed uniquely by (tenant_id, file_path). Soft-deleted rows keep their
// DeletedAt timestamp until the retention window elapses, then are purged.
type FileRecord struct {
	ID           string // UUID; doubles as the document ID in the vector index
	TenantID     string
	FilePath     string // relative path from the tenant root
	FileHash     string
	FileSize     int64
	MimeType     string
	CreatedAt    time.Time
	ModifiedAt   time.Time
	SyncStatus   string
	LastSyncedAt *time.Time
	ChunkCount   int
	DeletedAt    *time.Time
}

// SyncRun records one sync pass for a tenant.
type SyncRun struct {
	ID            string // UUID
	TenantID      string
	Status        string
	StartedAt     time.Time
	CompletedAt   *time.Time
	FilesScanned  int
	FilesAdded    int
	FilesModified int
	FilesDeleted  int
	FilesFailed   int
	ChunksWritten int
	ErrorMessage  string
}

// SyncEvent is one append-only audit row.
type SyncEvent struct {
	ID        int64
	SyncRunID string
	EventType string
	Status    string
	Message   string
	CreatedAt time.Time
}
