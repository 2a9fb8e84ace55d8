package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/membank/membank/internal/consolidate"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/project"
)

type ConsolidationHandler struct {
	engine *consolidate.Engine
	router *project.Router
}

func NewConsolidationHandler(engine *consolidate.Engine, router *project.Router) *ConsolidationHandler {
	return &ConsolidationHandler{engine: engine, router: router}
}

// Suggestions handles GET /consolidations/suggestions
func (h *ConsolidationHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	proj, err := h.router.Resolve(r.URL.Query().Get("project"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	suggestions, err := h.engine.Suggest(r.Context(), proj, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

type applyRequest struct {
	SourceIDs     []string `json:"sourceIds"`
	MergedContent string   `json:"mergedContent,omitempty"`
}

// Apply handles POST /consolidations
func (h *ConsolidationHandler) Apply(w http.ResponseWriter, r *http.Request) {
	proj, err := h.router.Resolve(r.URL.Query().Get("project"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var req applyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	merged, err := h.engine.Apply(r.Context(), proj, req.SourceIDs, req.MergedContent)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, merged)
}

// Rollback handles POST /consolidations/{mergedId}/rollback
func (h *ConsolidationHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	proj, err := h.router.Resolve(r.URL.Query().Get("project"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.engine.Rollback(r.Context(), proj, chi.URLParam(r, "mergedId")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History handles GET /consolidations
func (h *ConsolidationHandler) History(w http.ResponseWriter, r *http.Request) {
	proj, err := h.router.Resolve(r.URL.Query().Get("project"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	records, err := h.engine.History(proj)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []*models.ConsolidationRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}
