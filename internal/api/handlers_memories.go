package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/membank/membank/internal/gitlink"
	"github.com/membank/membank/internal/lifecycle"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/project"
	"github.com/membank/membank/internal/retrieval"
	"github.com/membank/membank/internal/store"
)

type MemoryHandler struct {
	manager *lifecycle.Manager
	search  *retrieval.Engine
	links   *gitlink.Service
	router  *project.Router
}

func NewMemoryHandler(manager *lifecycle.Manager, search *retrieval.Engine, links *gitlink.Service, router *project.Router) *MemoryHandler {
	return &MemoryHandler{manager: manager, search: search, links: links, router: router}
}

// project resolves the target project from the ?project= query param,
// falling back to directory and default resolution.
func (h *MemoryHandler) project(r *http.Request) (*models.Project, error) {
	return h.router.Resolve(r.URL.Query().Get("project"))
}

type createRequest struct {
	Content  string `json:"content"`
	Category string `json:"category"`
	Source   string `json:"source"`
	Confirm  bool   `json:"confirm"`
}

// Create handles POST /memories
func (h *MemoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	proj, err := h.project(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	mem, err := h.manager.Create(proj, req.Content, models.Category(req.Category), models.Source(req.Source))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if req.Confirm {
		mem, err = h.manager.Confirm(r.Context(), proj, mem.ID, false)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, mem)
}

// List handles GET /memories
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	proj, err := h.project(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	q := r.URL.Query()
	f := store.ListFilter{Category: models.Category(q.Get("category"))}
	if s := q.Get("state"); s != "" {
		f.States = []models.State{models.State(s)}
	}
	if s := q.Get("stale"); s != "" {
		stale := s == "true"
		f.Stale = &stale
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	memories, err := h.manager.List(proj, f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if memories == nil {
		memories = []*models.Memory{}
	}
	writeJSON(w, http.StatusOK, memories)
}

// Pending handles GET /memories/pending
func (h *MemoryHandler) Pending(w http.ResponseWriter, r *http.Request) {
	proj, err := h.project(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	memories, err := h.manager.Pending(proj)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if memories == nil {
		memories = []*models.Memory{}
	}
	writeJSON(w, http.StatusOK, memories)
}

type searchRequest struct {
	Query    string `json:"query"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Search handles POST /memories/search
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	proj, err := h.project(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	hits, err := h.search.Search(r.Context(), proj, retrieval.Query{
		Text:     req.Query,
		Category: models.Category(req.Category),
		Limit:    req.Limit,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

// Get handles GET /memories/{id}
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	mem, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

type updateRequest struct {
	Content string `json:"content"`
	Force   bool   `json:"force,omitempty"`
}

// Update handles PATCH /memories/{id}
func (h *MemoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	proj, err := h.project(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req updateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	mem, err := h.manager.Update(r.Context(), proj, chi.URLParam(r, "id"), req.Content, req.Force)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

// Delete handles DELETE /memories/{id}
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	proj, err := h.project(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.manager.Delete(r.Context(), proj, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type confirmRequest struct {
	Force bool `json:"force,omitempty"`
}

// Confirm handles POST /memories/{id}/confirm
func (h *MemoryHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	proj, err := h.project(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req confirmRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	mem, err := h.manager.Confirm(r.Context(), proj, chi.URLParam(r, "id"), req.Force)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

type staleRequest struct {
	Reason string `json:"reason,omitempty"`
}

// MarkStale handles POST /memories/{id}/stale
func (h *MemoryHandler) MarkStale(w http.ResponseWriter, r *http.Request) {
	var req staleRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	mem, err := h.manager.MarkStale(chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

// ClearStale handles DELETE /memories/{id}/stale
func (h *MemoryHandler) ClearStale(w http.ResponseWriter, r *http.Request) {
	mem, err := h.manager.ClearStale(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

// History handles GET /memories/{id}/history
func (h *MemoryHandler) History(w http.ResponseWriter, r *http.Request) {
	versions, err := h.manager.History(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if versions == nil {
		versions = []*models.MemoryVersion{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// HistoryAt handles GET /memories/{id}/history/{revision}
func (h *MemoryHandler) HistoryAt(w http.ResponseWriter, r *http.Request) {
	revision, err := strconv.ParseInt(chi.URLParam(r, "revision"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "revision must be an integer")
		return
	}

	version, err := h.manager.VersionAt(chi.URLParam(r, "id"), revision)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

type linkRequest struct {
	CommitSHA string `json:"commitSha"`
}

// Link handles POST /memories/{id}/links
func (h *MemoryHandler) Link(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.links.Link(chi.URLParam(r, "id"), req.CommitSHA); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unlink handles DELETE /memories/{id}/links/{sha}
func (h *MemoryHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	if err := h.links.Unlink(chi.URLParam(r, "id"), chi.URLParam(r, "sha")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Links handles GET /memories/{id}/links
func (h *MemoryHandler) Links(w http.ResponseWriter, r *http.Request) {
	links, err := h.links.Commits(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if links == nil {
		links = []*models.GitLink{}
	}
	writeJSON(w, http.StatusOK, links)
}

// ByCommit handles GET /commits/{sha}/memories
func (h *MemoryHandler) ByCommit(w http.ResponseWriter, r *http.Request) {
	memories, err := h.links.Memories(chi.URLParam(r, "sha"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memories)
}

// Rebuild handles POST /rebuild
func (h *MemoryHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	proj, err := h.project(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	indexed, err := h.manager.Rebuild(r.Context(), proj)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"indexed": indexed})
}
