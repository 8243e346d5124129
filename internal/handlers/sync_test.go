package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"docsync/internal/storage"
	"docsync/internal/syncer"
)

// fakeService scripts the orchestrator surface.
type fakeService struct {
	triggerRun *storage.SyncRun
	triggerErr error
	cancelErr  error
	status     *syncer.SyncStatus
	statusErr  error
	gotTenant  string
	gotForce   bool
	gotSyncID  string
}

func (f *fakeService) Trigger(ctx context.Context, tenantID string, forceFull bool) (*storage.SyncRun, error) {
	f.gotTenant = tenantID
	f.gotForce = forceFull
	return f.triggerRun, f.triggerErr
}

func (f *fakeService) Cancel(ctx context.Context, syncID string) error {
	f.gotSyncID = syncID
	return f.cancelErr
}

func (f *fakeService) Status(ctx context.Context, tenantID string) (*syncer.SyncStatus, error) {
	f.gotTenant = tenantID
	return f.status, f.statusErr
}

// fakeRunStore serves canned runs by ID.
type fakeRunStore struct {
	runs map[string]*storage.SyncRun
}

func (f *fakeRunStore) Acquire(ctx context.Context, tenantID string) (*storage.SyncRun, error) {
	return nil, storage.ErrConflict
}

func (f *fakeRunStore) Finish(ctx context.Context, run *storage.SyncRun) error { return nil }

func (f *fakeRunStore) Get(ctx context.Context, id string) (*storage.SyncRun, error) {
	if run, ok := f.runs[id]; ok {
		return run, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeRunStore) ActiveByTenant(ctx context.Context, tenantID string) (*storage.SyncRun, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeRunStore) LatestTerminalByTenant(ctx context.Context, tenantID string) (*storage.SyncRun, error) {
	return nil, storage.ErrNotFound
}

func (f *fakeRunStore) FailInterrupted(ctx context.Context) ([]string, error) { return nil, nil }

// fakeEventStore serves canned events by run ID.
type fakeEventStore struct {
	events map[string][]storage.SyncEvent
}

func (f *fakeEventStore) Append(ctx context.Context, ev *storage.SyncEvent) error { return nil }

func (f *fakeEventStore) AppendTx(ctx context.Context, tx *sql.Tx, ev *storage.SyncEvent) error {
	return nil
}

func (f *fakeEventStore) ListByRun(ctx context.Context, syncRunID string) ([]storage.SyncEvent, error) {
	return f.events[syncRunID], nil
}

func newTestRouter(service SyncService, runs storage.RunStore, events storage.EventStore) http.Handler {
	h := NewSyncHandler(service, runs, events)
	r := chi.NewRouter()
	r.Post("/api/tenants/{tenant}/sync", h.Trigger)
	r.Get("/api/tenants/{tenant}/status", h.Status)
	r.Post("/api/sync/{syncID}/cancel", h.Cancel)
	r.Get("/api/sync/{syncID}", h.GetRun)
	r.Get("/api/sync/{syncID}/events", h.ListEvents)
	return r
}

func TestSyncHandler_Trigger(t *testing.T) {
	service := &fakeService{
		triggerRun: &storage.SyncRun{
			ID:        "run-1",
			TenantID:  "acme",
			Status:    storage.RunStatusRunning,
			StartedAt: time.Now().UTC(),
		},
	}
	router := newTestRouter(service, &fakeRunStore{}, &fakeEventStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/tenants/acme/sync?force=true", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if service.gotTenant != "acme" || !service.gotForce {
		t.Errorf("service called with tenant=%s force=%v", service.gotTenant, service.gotForce)
	}

	var resp RunResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SyncID != "run-1" || resp.Status != storage.RunStatusRunning {
		t.Errorf("response = %+v", resp)
	}
}

func TestSyncHandler_TriggerBody(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantForce  bool
	}{
		{"force full via body", `{"force_full_sync": true}`, http.StatusAccepted, true},
		{"explicit delta", `{"force_full_sync": false}`, http.StatusAccepted, false},
		{"empty body", "", http.StatusAccepted, false},
		{"malformed body", `{"force_full_sync":`, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &fakeService{
				triggerRun: &storage.SyncRun{
					ID:        "run-1",
					TenantID:  "acme",
					Status:    storage.RunStatusRunning,
					StartedAt: time.Now().UTC(),
				},
			}
			router := newTestRouter(service, &fakeRunStore{}, &fakeEventStore{})

			req := httptest.NewRequest(http.MethodPost, "/api/tenants/acme/sync", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Code == http.StatusAccepted && service.gotForce != tt.wantForce {
				t.Errorf("force = %v, want %v", service.gotForce, tt.wantForce)
			}
		})
	}
}

func TestSyncHandler_TriggerErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"conflict while running", syncer.ErrConflict, http.StatusConflict},
		{"unknown tenant", syncer.ErrUnknownTenant, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeService{triggerErr: tt.err}, &fakeRunStore{}, &fakeEventStore{})

			req := httptest.NewRequest(http.MethodPost, "/api/tenants/acme/sync", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Error == "" {
				t.Error("error body is empty")
			}
		})
	}
}

func TestSyncHandler_Cancel(t *testing.T) {
	service := &fakeService{}
	router := newTestRouter(service, &fakeRunStore{}, &fakeEventStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync/run-1/cancel", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if service.gotSyncID != "run-1" {
		t.Errorf("cancelled sync ID = %s", service.gotSyncID)
	}
}

func TestSyncHandler_CancelNotActive(t *testing.T) {
	router := newTestRouter(&fakeService{cancelErr: syncer.ErrNotActive}, &fakeRunStore{}, &fakeEventStore{})

	req := httptest.NewRequest(http.MethodPost, "/api/sync/run-9/cancel", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSyncHandler_Status(t *testing.T) {
	service := &fakeService{
		status: &syncer.SyncStatus{
			TenantID:       "acme",
			SyncEnabled:    true,
			CurrentStatus:  "idle",
			PendingChanges: 2,
		},
	}
	router := newTestRouter(service, &fakeRunStore{}, &fakeEventStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/acme/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp syncer.SyncStatus
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TenantID != "acme" || resp.PendingChanges != 2 {
		t.Errorf("response = %+v", resp)
	}
}

func TestSyncHandler_GetRun(t *testing.T) {
	completed := time.Now().UTC()
	runs := &fakeRunStore{runs: map[string]*storage.SyncRun{
		"run-1": {
			ID:            "run-1",
			TenantID:      "acme",
			Status:        storage.RunStatusCompleted,
			StartedAt:     completed.Add(-time.Minute),
			CompletedAt:   &completed,
			FilesScanned:  5,
			FilesAdded:    2,
			ChunksWritten: 9,
		},
	}}
	router := newTestRouter(&fakeService{}, runs, &fakeEventStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/sync/run-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp RunResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.FilesScanned != 5 || resp.ChunksWritten != 9 || resp.CompletedAt == "" {
		t.Errorf("response = %+v", resp)
	}
	if resp.ProcessingMS < 59000 || resp.ProcessingMS > 61000 {
		t.Errorf("ProcessingMS = %d, want about one minute", resp.ProcessingMS)
	}
}

func TestSyncHandler_GetRunNotFound(t *testing.T) {
	router := newTestRouter(&fakeService{}, &fakeRunStore{}, &fakeEventStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/sync/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSyncHandler_ListEvents(t *testing.T) {
	runs := &fakeRunStore{runs: map[string]*storage.SyncRun{
		"run-1": {ID: "run-1", TenantID: "acme", Status: storage.RunStatusCompleted, StartedAt: time.Now()},
	}}
	events := &fakeEventStore{events: map[string][]storage.SyncEvent{
		"run-1": {
			{EventType: storage.EventPhase, Status: "scanning", CreatedAt: time.Now()},
			{EventType: storage.EventFileProcessed, Status: storage.FileStatusSynced, Message: "a.md", CreatedAt: time.Now()},
		},
	}}
	router := newTestRouter(&fakeService{}, runs, events)

	req := httptest.NewRequest(http.MethodGet, "/api/sync/run-1/events", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp []EventResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 2 || resp[1].Message != "a.md" {
		t.Errorf("response = %+v", resp)
	}
}
