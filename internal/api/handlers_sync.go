package api

import (
	"net/http"

	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/project"
	"github.com/membank/membank/internal/sync"
)

type SyncHandler struct {
	engine *sync.Engine
	router *project.Router
}

func NewSyncHandler(engine *sync.Engine, router *project.Router) *SyncHandler {
	return &SyncHandler{engine: engine, router: router}
}

func (h *SyncHandler) project(r *http.Request) (*models.Project, error) {
	return h.router.Resolve(r.URL.Query().Get("project"))
}

// Push handles POST /sync/push. ?force=true overwrites diverged remote
// revisions.
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	proj, err := h.project(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.engine.Push(r.Context(), proj, r.URL.Query().Get("force") == "true")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Pull handles POST /sync/pull.
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	proj, err := h.project(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, err := h.engine.Pull(r.Context(), proj, r.URL.Query().Get("force") == "true")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Status handles GET /sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	proj, err := h.project(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status, err := h.engine.Status(proj)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Conflicts handles GET /sync/conflicts. ?all=true includes resolved
// conflicts.
func (h *SyncHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	proj, err := h.project(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var conflicts []*models.SyncConflict
	if r.URL.Query().Get("all") == "true" {
		conflicts, err = h.engine.ConflictHistory(proj)
	} else {
		conflicts, err = h.engine.Conflicts(proj)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if conflicts == nil {
		conflicts = []*models.SyncConflict{}
	}
	writeJSON(w, http.StatusOK, conflicts)
}
