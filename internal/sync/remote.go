// Package sync exports a project's confirmed memories to a shared
// location as a single encrypted document and imports what teammates
// pushed, detecting divergent edits instead of merging them silently.
package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/membank/membank/internal/memerr"
)

// Remote is the shared location. Only three operations are needed
// because the export is a single document per project: a Dropbox
// folder, an NFS mount, or a synced git worktree all qualify.
type Remote interface {
	// Read returns a document's bytes, memerr.ErrNotFound when missing.
	Read(name string) ([]byte, error)

	// Write stores a document, replacing any previous version.
	Write(name string, data []byte) error

	// Exists reports whether a document is present.
	Exists(name string) (bool, error)
}

// LocalDir is a Remote backed by a filesystem directory.
type LocalDir struct {
	root string
}

func NewLocalDir(root string) (*LocalDir, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: sync remote directory not configured", memerr.ErrValidation)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create sync dir: %w", err)
	}
	return &LocalDir{root: root}, nil
}

func (d *LocalDir) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: remote document %s", memerr.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read remote document: %w", err)
	}
	return data, nil
}

// Write replaces the document atomically so a concurrent reader never
// sees a torn file.
func (d *LocalDir) Write(name string, data []byte) error {
	path := filepath.Join(d.root, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write remote document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace remote document: %w", err)
	}
	return nil
}

func (d *LocalDir) Exists(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(d.root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat remote document: %w", err)
	}
	return true, nil
}

// DocumentName is the per-project export filename.
func DocumentName(projectID string) string {
	return projectID + ".membank.enc"
}
