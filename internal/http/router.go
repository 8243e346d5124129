// Package http wires the API router.
package http

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docsync/internal/handlers"
	"docsync/internal/storage"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Service handlers.SyncService
	Runs    storage.RunStore
	Events  storage.EventStore
	DB      *sql.DB
}

// NewRouter creates the API router.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)

	syncHandler := handlers.NewSyncHandler(deps.Service, deps.Runs, deps.Events)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tenants/{tenant}/sync", syncHandler.Trigger)
		r.Get("/tenants/{tenant}/status", syncHandler.Status)
		r.Post("/sync/{syncID}/cancel", syncHandler.Cancel)
		r.Get("/sync/{syncID}", syncHandler.GetRun)
		r.Get("/sync/{syncID}/events", syncHandler.ListEvents)
	})

	r.Method(http.MethodGet, "/healthz", handlers.NewHealthHandler(deps.DB))

	return r
}
