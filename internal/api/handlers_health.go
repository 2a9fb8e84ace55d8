package api

import (
	"context"
	"net/http"

	"github.com/membank/membank/internal/store"
)

// HealthChecker is implemented by the Ollama embedder and the Qdrant
// index client. The embedded backends have nothing to probe and pass nil.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type serviceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status   string        `json:"status"`
	DB       serviceCheck  `json:"db"`
	Embedder *serviceCheck `json:"embedder,omitempty"`
	Index    *serviceCheck `json:"index,omitempty"`
	Version  int           `json:"schemaVersion"`
}

type HealthHandler struct {
	db       *store.DB
	embedder HealthChecker
	index    HealthChecker
}

func NewHealthHandler(db *store.DB, embedder, index HealthChecker) *HealthHandler {
	return &HealthHandler{db: db, embedder: embedder, index: index}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	version, err := store.NewMigrator(h.db, nil).Version()
	if err != nil {
		resp.DB = serviceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = serviceCheck{Status: "ok"}
		resp.Version = version
	}

	resp.Embedder = check(r.Context(), h.embedder, &resp.Status)
	resp.Index = check(r.Context(), h.index, &resp.Status)

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func check(ctx context.Context, hc HealthChecker, overall *string) *serviceCheck {
	if hc == nil {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		*overall = "degraded"
		return &serviceCheck{Status: "error", Message: err.Error()}
	}
	return &serviceCheck{Status: "ok"}
}
