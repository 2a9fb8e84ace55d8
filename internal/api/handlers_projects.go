package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/membank/membank/internal/lifecycle"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/project"
)

type ProjectHandler struct {
	router  *project.Router
	manager *lifecycle.Manager
}

func NewProjectHandler(router *project.Router, manager *lifecycle.Manager) *ProjectHandler {
	return &ProjectHandler{router: router, manager: manager}
}

// List handles GET /projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.router.List()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

type registerRequest struct {
	Name              string `json:"name"`
	RootPath          string `json:"rootPath"`
	EmbeddingProvider string `json:"embeddingProvider,omitempty"`
	EmbeddingModel    string `json:"embeddingModel,omitempty"`
	EmbeddingDim      int    `json:"embeddingDim,omitempty"`
}

// Register handles POST /projects. Provider details default to the
// server's configured embedder.
func (h *ProjectHandler) Register(defaults models.Project) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		if req.EmbeddingProvider == "" {
			req.EmbeddingProvider = defaults.EmbeddingProvider
		}
		if req.EmbeddingModel == "" {
			req.EmbeddingModel = defaults.EmbeddingModel
		}
		if req.EmbeddingDim == 0 {
			req.EmbeddingDim = defaults.EmbeddingDim
		}

		p, err := h.router.Register(req.Name, req.RootPath, req.EmbeddingProvider, req.EmbeddingModel, req.EmbeddingDim)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

type setEmbeddingRequest struct {
	EmbeddingProvider string `json:"embeddingProvider"`
	EmbeddingModel    string `json:"embeddingModel"`
	EmbeddingDim      int    `json:"embeddingDim"`
}

// SetEmbedding handles PATCH /projects/{name}/embedding. The caller is
// expected to POST /rebuild afterwards so the index matches again.
func (h *ProjectHandler) SetEmbedding(w http.ResponseWriter, r *http.Request) {
	var req setEmbeddingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := h.router.SetEmbedding(chi.URLParam(r, "name"),
		req.EmbeddingProvider, req.EmbeddingModel, req.EmbeddingDim)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Stats handles GET /projects/{name}/stats
func (h *ProjectHandler) Stats(w http.ResponseWriter, r *http.Request) {
	proj, err := h.router.Resolve(chi.URLParam(r, "name"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stats, err := h.manager.Stats(proj)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
