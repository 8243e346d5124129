// Package syncer sequences scan → diff → process → commit per tenant with
// bounded concurrency, batched transactional commits, retries and
// cooperative cancellation.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"docsync/internal/chunker"
	"docsync/internal/contextutil"
	"docsync/internal/scanner"
	"docsync/internal/storage"
	"docsync/internal/vectorstore"
)

// Embedder is the dispatcher surface the orchestrator depends on.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Options holds the orchestrator's tuning knobs.
type Options struct {
	TenantRoots       map[string]string
	CollectionPrefix  string
	WorkerConcurrency int
	CommitBatchSize   int
	Retry             RetryPolicy
	SkipFailedFiles   bool
	DeleteRetention   time.Duration
	PreviewChars      int
	VectorDimension   int
}

// Deps holds the orchestrator's collaborators.
type Deps struct {
	Scanner  *scanner.Scanner
	Chunker  chunker.Strategy
	Embedder Embedder
	Vectors  vectorstore.VectorStore
	DB       *sql.DB
	Files    storage.FileStore
	Runs     storage.RunStore
	Events   storage.EventStore
}

// SyncStatus is the externally visible state of a tenant's sync.
type SyncStatus struct {
	TenantID        string     `json:"tenant_id"`
	SyncEnabled     bool       `json:"sync_enabled"`
	CurrentStatus   string     `json:"current_status"`
	ActiveSyncID    string     `json:"active_sync_id,omitempty"`
	PendingChanges  int        `json:"pending_changes"`
	LastSyncTime    *time.Time `json:"last_sync_time,omitempty"`
	LastSyncSuccess bool       `json:"last_sync_success"`
}

// runHandle tracks one in-process run. The cancelled flag is checked
// between files, never mid-file, so cancellation leaves committed files
// consistent.
type runHandle struct {
	tenantID  string
	root      string
	forceFull bool
	cancelled atomic.Bool
	verifying bool // this run consumed the tenant's verification flag
}

// Orchestrator drives sync runs. The sync_runs lease row in the metadata
// store is the cross-process mutual exclusion; the in-memory registry only
// routes cancel requests to runs this process owns.
type Orchestrator struct {
	opts Options
	deps Deps

	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*runHandle // by sync ID
	verify map[string]bool       // tenants needing a chunk-count verification pass
}

// New creates an Orchestrator.
func New(opts Options, deps Deps) *Orchestrator {
	if opts.WorkerConcurrency <= 0 {
		opts.WorkerConcurrency = 1
	}
	if opts.CommitBatchSize <= 0 {
		opts.CommitBatchSize = 10
	}
	return &Orchestrator{
		opts:   opts,
		deps:   deps,
		logger: slog.Default(),
		active: make(map[string]*runHandle),
		verify: make(map[string]bool),
	}
}

// RecoverInterrupted clears leases orphaned by a crash and schedules a
// chunk-count verification pass for the affected tenants. A crashed run may
// have written vectors it never committed metadata for; the verification
// pass re-syncs any file whose live vector count disagrees with its
// chunk_count.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) error {
	tenants, err := o.deps.Runs.FailInterrupted(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	for _, t := range tenants {
		o.verify[t] = true
	}
	o.mu.Unlock()
	if len(tenants) > 0 {
		o.logger.Warn("recovered interrupted sync runs", "tenants", tenants)
	}
	return nil
}

// EnsureCollections creates (or validates) each tenant's vector collection.
func (o *Orchestrator) EnsureCollections(ctx context.Context) error {
	for tenantID := range o.opts.TenantRoots {
		collection := vectorstore.CollectionName(o.opts.CollectionPrefix, tenantID)
		if err := o.deps.Vectors.EnsureCollection(ctx, collection, o.opts.VectorDimension); err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
	}
	return nil
}

// Trigger starts a sync run for the tenant and returns immediately with the
// created run. Returns ErrConflict while a run is active and
// ErrUnknownTenant for unconfigured tenants.
func (o *Orchestrator) Trigger(ctx context.Context, tenantID string, forceFull bool) (*storage.SyncRun, error) {
	run, handle, err := o.begin(ctx, tenantID, forceFull)
	if err != nil {
		return nil, err
	}

	runCtx := contextutil.WithLogger(context.Background(),
		o.logger.With("tenant_id", tenantID, "sync_id", run.ID))
	go o.execute(runCtx, run, handle)

	return run, nil
}

// SyncNow runs one sync pass synchronously and returns the finished run.
// The filesystem watcher and tests use it.
func (o *Orchestrator) SyncNow(ctx context.Context, tenantID string, forceFull bool) (*storage.SyncRun, error) {
	run, handle, err := o.begin(ctx, tenantID, forceFull)
	if err != nil {
		return nil, err
	}

	runCtx := contextutil.WithLogger(ctx,
		o.logger.With("tenant_id", tenantID, "sync_id", run.ID))
	o.execute(runCtx, run, handle)

	return o.deps.Runs.Get(ctx, run.ID)
}

// begin validates the tenant, takes the lease and registers the handle.
func (o *Orchestrator) begin(ctx context.Context, tenantID string, forceFull bool) (*storage.SyncRun, *runHandle, error) {
	root, ok := o.opts.TenantRoots[tenantID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}

	run, err := o.deps.Runs.Acquire(ctx, tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, nil, ErrConflict
		}
		return nil, nil, err
	}

	handle := &runHandle{tenantID: tenantID, root: root, forceFull: forceFull}
	o.mu.Lock()
	o.active[run.ID] = handle
	o.mu.Unlock()

	return run, handle, nil
}

// Cancel requests a cooperative stop. New work stops between files;
// in-flight file processing finishes to avoid partial vector state.
func (o *Orchestrator) Cancel(ctx context.Context, syncID string) error {
	o.mu.Lock()
	handle, ok := o.active[syncID]
	o.mu.Unlock()
	if !ok {
		return ErrNotActive
	}

	handle.cancelled.Store(true)
	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "cancellation requested",
		"sync_id", syncID, "tenant_id", handle.tenantID)
	return nil
}

// Status reports a tenant's sync state.
func (o *Orchestrator) Status(ctx context.Context, tenantID string) (*SyncStatus, error) {
	_, enabled := o.opts.TenantRoots[tenantID]

	status := &SyncStatus{
		TenantID:      tenantID,
		SyncEnabled:   enabled,
		CurrentStatus: "idle",
	}

	active, err := o.deps.Runs.ActiveByTenant(ctx, tenantID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if active != nil {
		status.CurrentStatus = active.Status
		status.ActiveSyncID = active.ID
	}

	pending, err := o.deps.Files.CountPending(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	status.PendingChanges = pending

	latest, err := o.deps.Runs.LatestTerminalByTenant(ctx, tenantID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if latest != nil {
		status.LastSyncTime = latest.CompletedAt
		status.LastSyncSuccess = latest.Status == storage.RunStatusCompleted
	}

	return status, nil
}

// Tenants returns the configured tenant IDs and roots.
func (o *Orchestrator) Tenants() map[string]string {
	out := make(map[string]string, len(o.opts.TenantRoots))
	for k, v := range o.opts.TenantRoots {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) needsVerify(tenantID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.verify[tenantID] {
		delete(o.verify, tenantID)
		return true
	}
	return false
}

func (o *Orchestrator) scheduleVerify(tenantID string) {
	o.mu.Lock()
	o.verify[tenantID] = true
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(syncID string) {
	o.mu.Lock()
	delete(o.active, syncID)
	o.mu.Unlock()
}
