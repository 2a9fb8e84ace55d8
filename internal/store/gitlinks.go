package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
)

// GitLinkStore handles memory ↔ commit associations.
type GitLinkStore struct {
	db *DB
}

func NewGitLinkStore(db *DB) *GitLinkStore {
	return &GitLinkStore{db: db}
}

// Link associates a memory with a commit. Linking the same pair twice is
// a no-op.
func (s *GitLinkStore) Link(memoryID, commitSHA string) error {
	_, err := s.db.Exec(`
		INSERT INTO git_links (memory_id, commit_sha, created_at) VALUES (?, ?, ?)
	`, memoryID, commitSHA, time.Now().Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil
		}
		return mapBusy(fmt.Errorf("link memory to commit: %w", err))
	}
	return nil
}

// Unlink removes an association.
func (s *GitLinkStore) Unlink(memoryID, commitSHA string) error {
	res, err := s.db.Exec(
		"DELETE FROM git_links WHERE memory_id = ? AND commit_sha = ?", memoryID, commitSHA)
	if err != nil {
		return mapBusy(fmt.Errorf("unlink memory from commit: %w", err))
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: no link between %s and %s", memerr.ErrNotFound, memoryID, commitSHA)
	}
	return nil
}

// ListByMemory returns the commits linked to a memory.
func (s *GitLinkStore) ListByMemory(memoryID string) ([]*models.GitLink, error) {
	return s.list("memory_id", memoryID)
}

// ListByCommit returns the memories linked to a commit.
func (s *GitLinkStore) ListByCommit(commitSHA string) ([]*models.GitLink, error) {
	return s.list("commit_sha", commitSHA)
}

func (s *GitLinkStore) list(column, value string) ([]*models.GitLink, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, memory_id, commit_sha, created_at FROM git_links
		WHERE %s = ? ORDER BY created_at DESC
	`, column), value)
	if err != nil {
		return nil, fmt.Errorf("list git links: %w", err)
	}
	defer rows.Close()

	var out []*models.GitLink
	for rows.Next() {
		var l models.GitLink
		if err := rows.Scan(&l.ID, &l.MemoryID, &l.CommitSHA, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}
