package http

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"docsync/internal/contextutil"
)

func TestLoggerMiddleware_AttachesLogger(t *testing.T) {
	var got *slog.Logger
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = contextutil.LoggerFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	handler := middleware.RequestID(LoggerMiddleware(inner))

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/acme/status", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if got == nil {
		t.Fatal("no logger on request context")
	}
	if got == slog.Default() {
		t.Error("logger was not request-scoped")
	}
}
