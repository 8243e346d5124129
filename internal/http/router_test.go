package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"docsync/internal/storage"
	"docsync/internal/syncer"
)

type stubService struct {
	run *storage.SyncRun
}

func (s *stubService) Trigger(ctx context.Context, tenantID string, forceFull bool) (*storage.SyncRun, error) {
	return s.run, nil
}

func (s *stubService) Cancel(ctx context.Context, syncID string) error {
	return syncer.ErrNotActive
}

func (s *stubService) Status(ctx context.Context, tenantID string) (*syncer.SyncStatus, error) {
	return &syncer.SyncStatus{TenantID: tenantID, CurrentStatus: "idle"}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	service := &stubService{run: &storage.SyncRun{
		ID:        "run-1",
		TenantID:  "acme",
		Status:    storage.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}}
	router := NewRouter(&Deps{
		Service: service,
		Runs:    storage.NewRunRepo(db),
		Events:  storage.NewEventRepo(db),
		DB:      db,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestRouter_Routes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"trigger sync", http.MethodPost, "/api/tenants/acme/sync", http.StatusAccepted},
		{"tenant status", http.MethodGet, "/api/tenants/acme/status", http.StatusOK},
		{"cancel unknown", http.MethodPost, "/api/sync/nope/cancel", http.StatusNotFound},
		{"run not found", http.MethodGet, "/api/sync/nope", http.StatusNotFound},
		{"events of missing run", http.MethodGet, "/api/sync/nope/events", http.StatusNotFound},
		{"unknown path", http.MethodGet, "/api/nothing", http.StatusNotFound},
		{"method not allowed", http.MethodDelete, "/api/tenants/acme/sync", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			if err != nil {
				t.Fatalf("build request: %v", err)
			}
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatalf("do request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestRouter_Healthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "healthy" || body.Checks["metadata_store"] != "ok" {
		t.Errorf("body = %+v", body)
	}
}
