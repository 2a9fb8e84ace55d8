// Package project resolves which project an operation targets and
// manages project registration.
package project

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/membank/membank/internal/config"
	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/store"
)

// Router picks the target project for every operation. Resolution order:
// explicit name, then the registered project whose root is the nearest
// ancestor of the working directory, then the persisted default. The
// default lives in the state file, not the database, so a synced
// database never carries another machine's notion of "current".
type Router struct {
	projects  *store.ProjectStore
	statePath string
	logger    *slog.Logger
}

func NewRouter(projects *store.ProjectStore, statePath string, logger *slog.Logger) *Router {
	return &Router{projects: projects, statePath: statePath, logger: logger}
}

// Resolve returns the target project. explicit takes priority when
// non-empty; otherwise the working directory, then the saved default.
func (r *Router) Resolve(explicit string) (*models.Project, error) {
	if explicit != "" {
		return r.projects.GetByName(explicit)
	}

	cwd, err := os.Getwd()
	if err == nil {
		p, err := r.projects.FindByPath(cwd)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, memerr.ErrNotFound) {
			return nil, err
		}
	}

	st, err := config.LoadState(r.statePath)
	if err != nil {
		return nil, err
	}
	if st.ActiveProject != "" {
		p, err := r.projects.GetByID(st.ActiveProject)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, memerr.ErrNotFound) {
			return nil, err
		}
		r.logger.Warn("saved default project no longer exists", "id", st.ActiveProject)
	}

	return nil, fmt.Errorf("%w: no project for this directory (run `membank init` or `membank project switch <name>`)", memerr.ErrNotFound)
}

// Register creates a project rooted at rootPath and makes it the
// default. The embedding provider, model, and dimension are fixed here;
// changing them later requires a rebuild.
func (r *Router) Register(name, rootPath, provider, model string, dim int) (*models.Project, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: project name must not be empty", memerr.ErrValidation)
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", memerr.ErrValidation)
	}

	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}

	p := &models.Project{
		ID:                uuid.New().String(),
		Name:              name,
		RootPath:          abs,
		EmbeddingProvider: provider,
		EmbeddingModel:    model,
		EmbeddingDim:      dim,
		CreatedAt:         time.Now().Unix(),
	}
	if err := r.projects.Insert(p); err != nil {
		return nil, err
	}

	if err := r.setDefault(p.ID); err != nil {
		r.logger.Warn("project registered but default not saved", "name", name, "error", err)
	}

	r.logger.Info("registered project", "name", name, "root", abs, "dim", dim)
	return p, nil
}

// SetEmbedding records a new provider, model, and dimension for the
// named project. The existing index collection no longer matches the
// stored vectors afterwards; the caller must run a rebuild.
func (r *Router) SetEmbedding(name, provider, model string, dim int) (*models.Project, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", memerr.ErrValidation)
	}

	p, err := r.projects.GetByName(name)
	if err != nil {
		return nil, err
	}
	if err := r.projects.SetEmbedding(p.ID, provider, model, dim); err != nil {
		return nil, err
	}
	p.EmbeddingProvider = provider
	p.EmbeddingModel = model
	p.EmbeddingDim = dim

	r.logger.Info("reconfigured project embedding",
		"name", name, "provider", provider, "model", model, "dim", dim)
	return p, nil
}

// Switch makes the named project the persisted default.
func (r *Router) Switch(name string) (*models.Project, error) {
	p, err := r.projects.GetByName(name)
	if err != nil {
		return nil, err
	}
	if err := r.setDefault(p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns all registered projects.
func (r *Router) List() ([]*models.Project, error) {
	return r.projects.List()
}

// Default returns the persisted default project id, empty when unset.
func (r *Router) Default() (string, error) {
	st, err := config.LoadState(r.statePath)
	if err != nil {
		return "", err
	}
	return st.ActiveProject, nil
}

func (r *Router) setDefault(id string) error {
	st, err := config.LoadState(r.statePath)
	if err != nil {
		return err
	}
	st.ActiveProject = id
	return config.SaveState(r.statePath, st)
}
