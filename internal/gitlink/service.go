// Package gitlink ties memories to the commits that motivated them, so
// "why is the code like this" can be answered from either direction.
package gitlink

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/store"
)

// Abbreviated SHAs are accepted; git itself guarantees at least 7 hex
// characters for unambiguous short forms.
var shaPattern = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// Service validates and records memory ↔ commit associations.
type Service struct {
	memories *store.MemoryStore
	links    *store.GitLinkStore
}

func NewService(memories *store.MemoryStore, links *store.GitLinkStore) *Service {
	return &Service{memories: memories, links: links}
}

// Link associates a memory with a commit. The memory must exist; the
// commit is not verified against any repository.
func (s *Service) Link(memoryID, commitSHA string) error {
	sha, err := normalizeSHA(commitSHA)
	if err != nil {
		return err
	}
	if _, err := s.memories.GetByID(memoryID); err != nil {
		return err
	}
	return s.links.Link(memoryID, sha)
}

// Unlink removes an association.
func (s *Service) Unlink(memoryID, commitSHA string) error {
	sha, err := normalizeSHA(commitSHA)
	if err != nil {
		return err
	}
	return s.links.Unlink(memoryID, sha)
}

// Commits lists the commits linked to a memory, newest first.
func (s *Service) Commits(memoryID string) ([]*models.GitLink, error) {
	return s.links.ListByMemory(memoryID)
}

// Memories returns the memories linked to a commit, newest link first.
// Links whose memory was deleted are skipped.
func (s *Service) Memories(commitSHA string) ([]*models.Memory, error) {
	sha, err := normalizeSHA(commitSHA)
	if err != nil {
		return nil, err
	}
	links, err := s.links.ListByCommit(sha)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(links))
	for i, l := range links {
		ids[i] = l.MemoryID
	}
	byID, err := s.memories.GetByIDs(ids)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Memory, 0, len(links))
	for _, l := range links {
		if mem, ok := byID[l.MemoryID]; ok {
			out = append(out, mem)
		}
	}
	return out, nil
}

func normalizeSHA(sha string) (string, error) {
	sha = strings.ToLower(strings.TrimSpace(sha))
	if !shaPattern.MatchString(sha) {
		return "", fmt.Errorf("%w: %q is not a commit sha", memerr.ErrValidation, sha)
	}
	return sha, nil
}
