package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/membank/membank/internal/consolidate"
	"github.com/membank/membank/internal/gitlink"
	"github.com/membank/membank/internal/lifecycle"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/project"
	"github.com/membank/membank/internal/retrieval"
	"github.com/membank/membank/internal/store"
	syncpkg "github.com/membank/membank/internal/sync"
)

// Deps collects everything the router serves. SyncEngine is nil when no
// sync remote is configured; the sync routes are then not registered.
type Deps struct {
	DB               *store.DB
	Manager          *lifecycle.Manager
	Search           *retrieval.Engine
	Consolidations   *consolidate.Engine
	Links            *gitlink.Service
	Router           *project.Router
	SyncEngine       *syncpkg.Engine
	EmbedderHealth   HealthChecker
	IndexHealth      HealthChecker
	ProviderDefaults models.Project
	Logger           *slog.Logger
}

// NewRouter creates the chi router with all routes and middleware.
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger(d.Logger))
	r.Use(Recovery(d.Logger))

	healthH := NewHealthHandler(d.DB, d.EmbedderHealth, d.IndexHealth)
	memoryH := NewMemoryHandler(d.Manager, d.Search, d.Links, d.Router)
	consolidationH := NewConsolidationHandler(d.Consolidations, d.Router)
	projectH := NewProjectHandler(d.Router, d.Manager)

	r.Get("/health", healthH.Health)

	r.Route("/memories", func(r chi.Router) {
		r.Get("/", memoryH.List)
		r.Post("/", memoryH.Create)
		r.Get("/pending", memoryH.Pending)
		r.Post("/search", memoryH.Search)
		r.Get("/{id}", memoryH.Get)
		r.Patch("/{id}", memoryH.Update)
		r.Delete("/{id}", memoryH.Delete)
		r.Post("/{id}/confirm", memoryH.Confirm)
		r.Post("/{id}/stale", memoryH.MarkStale)
		r.Delete("/{id}/stale", memoryH.ClearStale)
		r.Get("/{id}/history", memoryH.History)
		r.Get("/{id}/history/{revision}", memoryH.HistoryAt)
		r.Get("/{id}/links", memoryH.Links)
		r.Post("/{id}/links", memoryH.Link)
		r.Delete("/{id}/links/{sha}", memoryH.Unlink)
	})

	r.Get("/commits/{sha}/memories", memoryH.ByCommit)
	r.Post("/rebuild", memoryH.Rebuild)

	r.Route("/consolidations", func(r chi.Router) {
		r.Get("/", consolidationH.History)
		r.Post("/", consolidationH.Apply)
		r.Get("/suggestions", consolidationH.Suggestions)
		r.Post("/{mergedId}/rollback", consolidationH.Rollback)
	})

	r.Route("/projects", func(r chi.Router) {
		r.Get("/", projectH.List)
		r.Post("/", projectH.Register(d.ProviderDefaults))
		r.Get("/{name}/stats", projectH.Stats)
		r.Patch("/{name}/embedding", projectH.SetEmbedding)
	})

	if d.SyncEngine != nil {
		syncH := NewSyncHandler(d.SyncEngine, d.Router)
		r.Route("/sync", func(r chi.Router) {
			r.Post("/push", syncH.Push)
			r.Post("/pull", syncH.Pull)
			r.Get("/status", syncH.Status)
			r.Get("/conflicts", syncH.Conflicts)
		})
	}

	return r
}
