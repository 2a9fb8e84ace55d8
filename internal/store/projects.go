package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
)

const projectColumns = `id, name, root_path, embedding_provider, embedding_model, embedding_dim, created_at`

// ProjectStore handles project rows.
type ProjectStore struct {
	db *DB
}

func NewProjectStore(db *DB) *ProjectStore {
	return &ProjectStore{db: db}
}

// Insert registers a new project. Names are unique.
func (s *ProjectStore) Insert(p *models.Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, root_path, embedding_provider, embedding_model, embedding_dim, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.RootPath, p.EmbeddingProvider, p.EmbeddingModel, p.EmbeddingDim, p.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: project name %q already exists", memerr.ErrValidation, p.Name)
		}
		return mapBusy(fmt.Errorf("insert project: %w", err))
	}
	return nil
}

func (s *ProjectStore) GetByID(id string) (*models.Project, error) {
	p, err := scanProject(s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM projects WHERE id = ?`, projectColumns), id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: project %s", memerr.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *ProjectStore) GetByName(name string) (*models.Project, error) {
	p, err := scanProject(s.db.QueryRow(
		fmt.Sprintf(`SELECT %s FROM projects WHERE name = ?`, projectColumns), name))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: project %q", memerr.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return p, nil
}

func (s *ProjectStore) List() ([]*models.Project, error) {
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT %s FROM projects ORDER BY created_at DESC`, projectColumns))
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FindByPath returns the project whose root is the nearest ancestor of
// path, or ErrNotFound when no registered root contains it.
func (s *ProjectStore) FindByPath(path string) (*models.Project, error) {
	projects, err := s.List()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	var best *models.Project
	for _, p := range projects {
		root := filepath.Clean(p.RootPath)
		if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
			continue
		}
		if best == nil || len(root) > len(filepath.Clean(best.RootPath)) {
			best = p
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no project registered for %s", memerr.ErrNotFound, abs)
	}
	return best, nil
}

// SetEmbedding reconfigures a project's provider. The existing index
// collection is invalid afterwards; callers must rebuild.
func (s *ProjectStore) SetEmbedding(id, provider, model string, dim int) error {
	res, err := s.db.Exec(`
		UPDATE projects SET embedding_provider = ?, embedding_model = ?, embedding_dim = ?
		WHERE id = ?
	`, provider, model, dim, id)
	if err != nil {
		return mapBusy(fmt.Errorf("update project embedding: %w", err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: project %s", memerr.ErrNotFound, id)
	}
	return nil
}

// Delete removes a project with no memories. Projects that still own
// memories are protected against accidental loss.
func (s *ProjectStore) Delete(id string) error {
	var count int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM memories WHERE project_id = ?", id).Scan(&count); err != nil {
		return fmt.Errorf("count project memories: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: project has %d memories, delete them first", memerr.ErrValidation, count)
	}

	res, err := s.db.Exec("DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return mapBusy(fmt.Errorf("delete project: %w", err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: project %s", memerr.ErrNotFound, id)
	}
	return nil
}

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.Name, &p.RootPath, &p.EmbeddingProvider, &p.EmbeddingModel, &p.EmbeddingDim, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
