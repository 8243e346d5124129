package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"docsync/internal/contextutil"
	"docsync/internal/storage"
	"docsync/internal/syncer"
)

// SyncService is the orchestrator surface the HTTP layer needs.
type SyncService interface {
	Trigger(ctx context.Context, tenantID string, forceFull bool) (*storage.SyncRun, error)
	Cancel(ctx context.Context, syncID string) error
	Status(ctx context.Context, tenantID string) (*syncer.SyncStatus, error)
}

// SyncHandler exposes sync triggering, cancellation and inspection.
type SyncHandler struct {
	service SyncService
	runs    storage.RunStore
	events  storage.EventStore
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(service SyncService, runs storage.RunStore, events storage.EventStore) *SyncHandler {
	return &SyncHandler{service: service, runs: runs, events: events}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RunResponse represents one sync run.
type RunResponse struct {
	SyncID        string `json:"sync_id"`
	TenantID      string `json:"tenant_id"`
	Status        string `json:"status"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at,omitempty"`
	ProcessingMS  int64  `json:"processing_time_ms,omitempty"`
	FilesScanned  int    `json:"files_scanned"`
	FilesAdded    int    `json:"files_added"`
	FilesModified int    `json:"files_modified"`
	FilesDeleted  int    `json:"files_deleted"`
	FilesFailed   int    `json:"files_failed"`
	ChunksWritten int    `json:"chunks_written"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// EventResponse represents one audit event of a sync run.
type EventResponse struct {
	EventType string `json:"event_type"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"created_at"`
}

func runResponse(run *storage.SyncRun) RunResponse {
	resp := RunResponse{
		SyncID:        run.ID,
		TenantID:      run.TenantID,
		Status:        run.Status,
		StartedAt:     run.StartedAt.UTC().Format(time.RFC3339),
		FilesScanned:  run.FilesScanned,
		FilesAdded:    run.FilesAdded,
		FilesModified: run.FilesModified,
		FilesDeleted:  run.FilesDeleted,
		FilesFailed:   run.FilesFailed,
		ChunksWritten: run.ChunksWritten,
		ErrorMessage:  run.ErrorMessage,
	}
	if run.CompletedAt != nil {
		resp.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
		resp.ProcessingMS = run.CompletedAt.Sub(run.StartedAt).Milliseconds()
	}
	return resp
}

// Trigger handles POST /api/tenants/{tenant}/sync.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	tenantID := chi.URLParam(r, "tenant")

	// Force-full comes from the JSON body; an empty body means a delta
	// sync. ?force=true is accepted as a curl-friendly shorthand.
	var req struct {
		ForceFullSync bool `json:"force_full_sync"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	force := req.ForceFullSync || r.URL.Query().Get("force") == "true"

	run, err := h.service.Trigger(ctx, tenantID, force)
	switch {
	case errors.Is(err, syncer.ErrUnknownTenant):
		writeError(w, http.StatusNotFound, "unknown tenant")
		return
	case errors.Is(err, syncer.ErrConflict):
		writeError(w, http.StatusConflict, "a sync is already running for this tenant")
		return
	case err != nil:
		logger.ErrorContext(ctx, "failed to start sync", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start sync")
		return
	}

	logger.InfoContext(ctx, "sync started via API", "tenant_id", tenantID, "sync_id", run.ID, "force", force)
	writeJSON(w, http.StatusAccepted, runResponse(run))
}

// Cancel handles POST /api/sync/{syncID}/cancel.
func (h *SyncHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	syncID := chi.URLParam(r, "syncID")
	err := h.service.Cancel(ctx, syncID)
	switch {
	case errors.Is(err, syncer.ErrNotActive):
		writeError(w, http.StatusNotFound, "no active sync with that ID")
		return
	case err != nil:
		logger.ErrorContext(ctx, "failed to cancel sync", "sync_id", syncID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel sync")
		return
	}

	logger.InfoContext(ctx, "sync cancellation requested", "sync_id", syncID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// Status handles GET /api/tenants/{tenant}/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	tenantID := chi.URLParam(r, "tenant")
	status, err := h.service.Status(ctx, tenantID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to read tenant status", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// GetRun handles GET /api/sync/{syncID}.
func (h *SyncHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	syncID := chi.URLParam(r, "syncID")
	run, err := h.runs.Get(ctx, syncID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "sync run not found")
		return
	case err != nil:
		logger.ErrorContext(ctx, "failed to load sync run", "sync_id", syncID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load sync run")
		return
	}

	writeJSON(w, http.StatusOK, runResponse(run))
}

// ListEvents handles GET /api/sync/{syncID}/events.
func (h *SyncHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	syncID := chi.URLParam(r, "syncID")
	if _, err := h.runs.Get(ctx, syncID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "sync run not found")
			return
		}
		logger.ErrorContext(ctx, "failed to load sync run", "sync_id", syncID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load sync run")
		return
	}

	events, err := h.events.ListByRun(ctx, syncID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list sync events", "sync_id", syncID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	out := make([]EventResponse, len(events))
	for i, ev := range events {
		out[i] = EventResponse{
			EventType: ev.EventType,
			Status:    ev.Status,
			Message:   ev.Message,
			CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}
