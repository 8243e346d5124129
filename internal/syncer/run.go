package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"docsync/internal/contextutil"
	"docsync/internal/diff"
	"docsync/internal/scanner"
	"docsync/internal/storage"
	"docsync/internal/vectorstore"
)

type workKind int

const (
	kindAdded workKind = iota
	kindModified
	kindDeleted
)

// workItem is one unit of per-file work. prior is nil only for a file the
// store has never seen; resurrected files keep their prior record so the
// document ID (and with it every point ID) stays stable.
type workItem struct {
	kind  workKind
	file  scanner.ScannedFile
	prior *storage.FileRecord
}

// fileResult is what one processed work item contributes to the next
// batched commit.
type fileResult struct {
	kind   workKind
	rec    *storage.FileRecord
	del    *softDelete
	events []*storage.SyncEvent
	chunks int
	failed bool
}

// softDelete is a removed file awaiting its transactional status flip.
// Only the status and deletion time change; hash and chunk_count stay as
// committed so the eventual purge knows what the index still holds.
type softDelete struct {
	id string
	at time.Time
}

// execute drives one run through the state machine and always finishes the
// run row, even when the surrounding context has been cancelled.
func (o *Orchestrator) execute(ctx context.Context, run *storage.SyncRun, handle *runHandle) {
	logger := contextutil.LoggerFromContext(ctx)
	defer o.unregister(run.ID)

	err := o.runPhases(ctx, run, handle)
	switch {
	case err == nil && handle.cancelled.Load():
		run.Status = storage.RunStatusCancelled
	case err == nil:
		run.Status = storage.RunStatusCompleted
	default:
		run.Status = storage.RunStatusFailed
		run.ErrorMessage = err.Error()
	}

	// An interrupted verification pass must not swallow the flag: the
	// mismatch it was meant to repair may still be in the index.
	if handle.verifying && run.Status != storage.RunStatusCompleted {
		o.scheduleVerify(handle.tenantID)
	}

	finishCtx := context.WithoutCancel(ctx)
	if ferr := o.deps.Runs.Finish(finishCtx, run); ferr != nil {
		logger.ErrorContext(ctx, "failed to persist run outcome", "error", ferr)
	}
	o.appendEvent(finishCtx, run.ID, storage.EventPhase, run.Status, run.ErrorMessage)

	logger.InfoContext(ctx, "sync run finished",
		"status", run.Status,
		"scanned", run.FilesScanned,
		"added", run.FilesAdded,
		"modified", run.FilesModified,
		"deleted", run.FilesDeleted,
		"failed", run.FilesFailed,
		"chunks", run.ChunksWritten,
	)
}

// runPhases is the Scanning → Diffing → Processing → Committing sequence.
// A returned error means the run failed; cancellation is read off the
// handle by execute.
func (o *Orchestrator) runPhases(ctx context.Context, run *storage.SyncRun, handle *runHandle) error {
	logger := contextutil.LoggerFromContext(ctx)
	collection := vectorstore.CollectionName(o.opts.CollectionPrefix, handle.tenantID)

	o.phase(ctx, run, "scanning")
	scan, err := o.deps.Scanner.Scan(ctx, handle.root)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	run.FilesScanned = len(scan.Files)
	for _, se := range scan.Errors {
		o.appendEvent(ctx, run.ID, storage.EventFileFailed, StageScan, se.Error())
		run.FilesFailed++
	}
	if len(scan.Errors) > 0 && !o.opts.SkipFailedFiles {
		return fmt.Errorf("scan reported %d file errors", len(scan.Errors))
	}

	o.phase(ctx, run, "diffing")
	prior, err := o.deps.Files.ListByTenant(ctx, handle.tenantID)
	if err != nil {
		return fmt.Errorf("failed to load prior records: %w", err)
	}
	changes := diff.Detect(scan.Files, prior, handle.forceFull)

	priorByPath := make(map[string]storage.FileRecord, len(prior))
	for _, rec := range prior {
		priorByPath[rec.FilePath] = rec
	}

	// After a crash the committed chunk_count is trustworthy but the index
	// may hold vectors from the interrupted run. Re-sync any file whose
	// live vector count disagrees.
	handle.verifying = o.needsVerify(handle.tenantID)
	if handle.verifying {
		for _, f := range changes.Unchanged {
			rec, ok := priorByPath[f.RelPath]
			if !ok {
				continue
			}
			count, err := o.deps.Vectors.CountByDocument(ctx, collection, rec.ID)
			if err != nil {
				logger.WarnContext(ctx, "vector count check failed", "path", f.RelPath, "error", err)
				continue
			}
			if count != rec.ChunkCount {
				logger.WarnContext(ctx, "chunk count mismatch, forcing re-sync",
					"path", f.RelPath, "chunk_count", rec.ChunkCount, "vector_count", count)
				changes.Modified = append(changes.Modified, diff.Modification{File: f, Prior: rec})
			}
		}
	}

	if err := o.purgeExpired(ctx, run, collection, handle.tenantID); err != nil {
		return err
	}

	work := buildWorkList(changes, priorByPath)
	if len(work) == 0 {
		return nil
	}

	o.phase(ctx, run, "processing")
	results := make(chan fileResult, o.opts.CommitBatchSize)
	commitDone := make(chan error, 1)
	go o.commitLoop(ctx, run, results, commitDone)

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(o.opts.WorkerConcurrency))
	for _, item := range work {
		item := item
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			// Cooperative cancellation: checked between files only, so
			// an in-flight file always finishes.
			if handle.cancelled.Load() {
				return nil
			}

			res, err := o.processOne(gctx, handle.tenantID, collection, item)
			if err != nil {
				return err
			}
			select {
			case results <- res:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	workerErr := g.Wait()

	o.phase(ctx, run, "committing")
	close(results)
	commitErr := <-commitDone

	if commitErr != nil {
		return commitErr
	}
	return workerErr
}

// buildWorkList flattens the change sets. Deleted items run concurrently
// with unrelated added/modified work; there is no cross-file ordering.
func buildWorkList(changes diff.Changes, priorByPath map[string]storage.FileRecord) []workItem {
	work := make([]workItem, 0, changes.WorkItems())
	for _, f := range changes.Added {
		item := workItem{kind: kindAdded, file: f}
		if rec, ok := priorByPath[f.RelPath]; ok {
			// Resurrected file; keep its document identity.
			prior := rec
			item.prior = &prior
		}
		work = append(work, item)
	}
	for _, m := range changes.Modified {
		prior := m.Prior
		work = append(work, workItem{kind: kindModified, file: m.File, prior: &prior})
	}
	for _, rec := range changes.Deleted {
		prior := rec
		work = append(work, workItem{kind: kindDeleted, prior: &prior})
	}
	return work
}

// processOne handles a single work item, retrying failures per the backoff
// policy. In skip-failed mode a exhausted item degrades to a failed record
// plus an audit event; otherwise the error escalates and fails the run.
func (o *Orchestrator) processOne(ctx context.Context, tenantID, collection string, item workItem) (fileResult, error) {
	if item.kind == kindDeleted {
		return fileResult{
			kind: kindDeleted,
			del:  &softDelete{id: item.prior.ID, at: time.Now().UTC()},
			events: []*storage.SyncEvent{{
				EventType: storage.EventFileDeleted,
				Status:    storage.FileStatusDeleted,
				Message:   item.prior.FilePath,
			}},
		}, nil
	}

	var rec *storage.FileRecord
	var chunksWritten int
	err := withRetry(ctx, o.opts.Retry, func() error {
		var aerr error
		rec, chunksWritten, aerr = o.processAttempt(ctx, tenantID, collection, item)
		return aerr
	}, retryableFileError)

	if err != nil {
		if !o.opts.SkipFailedFiles {
			return fileResult{}, fmt.Errorf("file %s: %w", item.file.RelPath, err)
		}
		return fileResult{
			kind:   item.kind,
			rec:    o.failedRecord(tenantID, item),
			failed: true,
			events: []*storage.SyncEvent{{
				EventType: storage.EventFileFailed,
				Status:    stageOf(err),
				Message:   fmt.Sprintf("%s: %v", item.file.RelPath, err),
			}},
		}, nil
	}

	return fileResult{
		kind:   item.kind,
		rec:    rec,
		chunks: chunksWritten,
		events: []*storage.SyncEvent{{
			EventType: storage.EventFileProcessed,
			Status:    storage.FileStatusSynced,
			Message:   item.file.RelPath,
		}},
	}, nil
}

// processAttempt runs the chunk → embed → write pipeline for one file.
// Within a file, chunk order is preserved end to end; the metadata record
// is only returned for commit after the vector write succeeded, so the
// store never claims chunks the index doesn't hold.
func (o *Orchestrator) processAttempt(ctx context.Context, tenantID, collection string, item workItem) (*storage.FileRecord, int, error) {
	f := item.file

	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, 0, &FileError{Path: f.RelPath, Stage: StageScan, Err: err}
	}
	if !utf8.Valid(content) {
		return nil, 0, &FileError{Path: f.RelPath, Stage: StageChunk, Err: errors.New("content is not valid UTF-8")}
	}

	chunks, err := o.deps.Chunker.Chunk(string(content))
	if err != nil {
		return nil, 0, &FileError{Path: f.RelPath, Stage: StageChunk, Err: err}
	}

	now := time.Now().UTC()
	rec := &storage.FileRecord{
		TenantID:     tenantID,
		FilePath:     f.RelPath,
		FileHash:     f.Hash,
		FileSize:     f.Size,
		MimeType:     f.MimeType,
		ModifiedAt:   f.ModTime.UTC(),
		SyncStatus:   storage.FileStatusSynced,
		LastSyncedAt: &now,
		ChunkCount:   len(chunks),
	}
	prevCount := 0
	if item.prior != nil {
		rec.ID = item.prior.ID
		rec.CreatedAt = item.prior.CreatedAt
		prevCount = item.prior.ChunkCount
	} else {
		rec.ID = uuid.New().String()
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}

		vectors, err := o.deps.Embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, 0, &FileError{Path: f.RelPath, Stage: StageEmbed, Err: err}
		}
		if len(vectors) != len(chunks) {
			return nil, 0, &FileError{Path: f.RelPath, Stage: StageEmbed,
				Err: fmt.Errorf("expected %d vectors, got %d", len(chunks), len(vectors))}
		}

		points := make([]vectorstore.Point, len(chunks))
		for i, c := range chunks {
			points[i] = vectorstore.Point{
				ID:     vectorstore.PointID(tenantID, rec.ID, c.Index),
				Vector: vectors[i],
				Payload: map[string]any{
					vectorstore.PayloadTenantID:   tenantID,
					vectorstore.PayloadDocumentID: rec.ID,
					vectorstore.PayloadFilePath:   f.RelPath,
					vectorstore.PayloadFileType:   f.MimeType,
					vectorstore.PayloadCreatedAt:  now.Format(time.RFC3339),
					vectorstore.PayloadChunkIndex: c.Index,
					vectorstore.PayloadChunkTotal: c.Total,
					vectorstore.PayloadPreview:    preview(c.Text, o.opts.PreviewChars),
					"word_count":                  c.WordCount,
				},
			}
		}

		if err := o.deps.Vectors.Upsert(ctx, collection, points); err != nil {
			return nil, 0, &FileError{Path: f.RelPath, Stage: StageVectorWrite, Err: err}
		}
	} else if item.prior != nil && prevCount > 0 {
		// The document now produces no chunks; drop its old vectors.
		if err := o.deps.Vectors.DeleteByDocument(ctx, collection, rec.ID); err != nil {
			return nil, 0, &FileError{Path: f.RelPath, Stage: StageVectorWrite, Err: err}
		}
	}

	// Shrink case: delete exactly the trailing IDs beyond the new total.
	if len(chunks) > 0 && prevCount > len(chunks) {
		ids := vectorstore.PointIDRange(tenantID, rec.ID, len(chunks), prevCount)
		if err := o.deps.Vectors.DeletePoints(ctx, collection, ids); err != nil {
			return nil, 0, &FileError{Path: f.RelPath, Stage: StageVectorWrite, Err: err}
		}
	}

	return rec, len(chunks), nil
}

// failedRecord captures a file that exhausted its retries. The prior chunk
// count is kept: whatever the index held before the failure is still what
// it holds now.
func (o *Orchestrator) failedRecord(tenantID string, item workItem) *storage.FileRecord {
	rec := &storage.FileRecord{
		TenantID:   tenantID,
		FilePath:   item.file.RelPath,
		FileHash:   item.file.Hash,
		FileSize:   item.file.Size,
		MimeType:   item.file.MimeType,
		ModifiedAt: item.file.ModTime.UTC(),
		SyncStatus: storage.FileStatusFailed,
	}
	if item.prior != nil {
		rec.ID = item.prior.ID
		rec.CreatedAt = item.prior.CreatedAt
		rec.ChunkCount = item.prior.ChunkCount
		rec.LastSyncedAt = item.prior.LastSyncedAt
		// Keep the committed hash: the stores still reflect the old
		// content, and the next run must not classify this Unchanged.
		rec.FileHash = item.prior.FileHash
	} else {
		rec.ID = uuid.New().String()
	}
	return rec
}

// commitLoop batches results and commits FileRecord + SyncEvent updates in
// one transaction every CommitBatchSize files, bounding crash loss to one
// partial batch. It is the only writer of the run counters while workers
// are in flight.
func (o *Orchestrator) commitLoop(ctx context.Context, run *storage.SyncRun, results <-chan fileResult, done chan<- error) {
	var files []*storage.FileRecord
	var dels []*softDelete
	var events []*storage.SyncEvent
	var commitErr error

	flush := func() {
		if commitErr != nil || (len(files) == 0 && len(dels) == 0 && len(events) == 0) {
			return
		}
		batchSize := len(files) + len(dels)
		err := storage.WithTx(ctx, o.deps.DB, func(tx *sql.Tx) error {
			for _, rec := range files {
				if err := o.deps.Files.UpsertTx(ctx, tx, rec); err != nil {
					return err
				}
			}
			for _, d := range dels {
				if err := o.deps.Files.MarkDeletedTx(ctx, tx, d.id, d.at); err != nil {
					return err
				}
			}
			for _, ev := range events {
				ev.SyncRunID = run.ID
				if err := o.deps.Events.AppendTx(ctx, tx, ev); err != nil {
					return err
				}
			}
			return o.deps.Events.AppendTx(ctx, tx, &storage.SyncEvent{
				SyncRunID: run.ID,
				EventType: storage.EventBatchCommitted,
				Status:    "committed",
				Message:   fmt.Sprintf("%d files", batchSize),
			})
		})
		if err != nil {
			commitErr = &CommitError{Err: err}
			return
		}
		files = nil
		dels = nil
		events = nil
	}

	for res := range results {
		if commitErr != nil {
			continue // drain so workers never block
		}

		if res.failed {
			run.FilesFailed++
		} else {
			switch res.kind {
			case kindAdded:
				run.FilesAdded++
			case kindModified:
				run.FilesModified++
			case kindDeleted:
				run.FilesDeleted++
			}
			run.ChunksWritten += res.chunks
		}

		if res.rec != nil {
			files = append(files, res.rec)
		}
		if res.del != nil {
			dels = append(dels, res.del)
		}
		events = append(events, res.events...)

		if len(files)+len(dels) >= o.opts.CommitBatchSize {
			flush()
		}
	}
	flush()
	done <- commitErr
}

// purgeExpired removes soft-deleted files whose retention window has
// elapsed from both stores. Vector deletion failures are recorded and
// retried on the next run; a metadata purge failure escalates.
func (o *Orchestrator) purgeExpired(ctx context.Context, run *storage.SyncRun, collection, tenantID string) error {
	cutoff := time.Now().UTC().Add(-o.opts.DeleteRetention)
	expired, err := o.deps.Files.ListExpiredDeleted(ctx, tenantID, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list expired deletions: %w", err)
	}

	for _, rec := range expired {
		if err := o.deps.Vectors.DeleteByDocument(ctx, collection, rec.ID); err != nil {
			o.appendEvent(ctx, run.ID, storage.EventFileFailed, StageVectorWrite,
				fmt.Sprintf("purge %s: %v", rec.FilePath, err))
			continue
		}
		if err := o.deps.Files.Purge(ctx, rec.ID); err != nil {
			return &CommitError{Err: err}
		}
		o.appendEvent(ctx, run.ID, storage.EventFilePurged, "purged", rec.FilePath)
	}
	return nil
}

func (o *Orchestrator) phase(ctx context.Context, run *storage.SyncRun, name string) {
	contextutil.LoggerFromContext(ctx).DebugContext(ctx, "entering phase", "phase", name)
	o.appendEvent(ctx, run.ID, storage.EventPhase, name, "")
}

func (o *Orchestrator) appendEvent(ctx context.Context, runID, eventType, status, message string) {
	ev := &storage.SyncEvent{
		SyncRunID: runID,
		EventType: eventType,
		Status:    status,
		Message:   message,
	}
	if err := o.deps.Events.Append(ctx, ev); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "failed to append sync event",
			"event_type", eventType, "error", err)
	}
}

func stageOf(err error) string {
	var fe *FileError
	if errors.As(err, &fe) {
		return fe.Stage
	}
	return "process"
}

func preview(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
