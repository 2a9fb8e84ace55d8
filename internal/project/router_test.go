package project

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/store"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()

	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(store.NewProjectStore(db), filepath.Join(dir, "state.yaml"), logger)
}

func TestRegister(t *testing.T) {
	r := newTestRouter(t)
	root := t.TempDir()

	p, err := r.Register("webapp", root, "mock", "mock", 8)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.Name != "webapp" || p.RootPath != root {
		t.Errorf("project = %q at %q", p.Name, p.RootPath)
	}
	if p.EmbeddingDim != 8 {
		t.Errorf("dim = %d", p.EmbeddingDim)
	}

	t.Run("becomes default", func(t *testing.T) {
		id, err := r.Default()
		if err != nil {
			t.Fatalf("default: %v", err)
		}
		if id != p.ID {
			t.Errorf("default = %q, want %q", id, p.ID)
		}
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		if _, err := r.Register("webapp", t.TempDir(), "mock", "mock", 8); !errors.Is(err, memerr.ErrValidation) {
			t.Errorf("err = %v, want ErrValidation", err)
		}
	})

	t.Run("empty name rejected", func(t *testing.T) {
		if _, err := r.Register("", t.TempDir(), "mock", "mock", 8); !errors.Is(err, memerr.ErrValidation) {
			t.Errorf("err = %v, want ErrValidation", err)
		}
	})

	t.Run("bad dimension rejected", func(t *testing.T) {
		if _, err := r.Register("other", t.TempDir(), "mock", "mock", 0); !errors.Is(err, memerr.ErrValidation) {
			t.Errorf("err = %v, want ErrValidation", err)
		}
	})
}

func TestSetEmbedding(t *testing.T) {
	r := newTestRouter(t)

	if _, err := r.Register("webapp", t.TempDir(), "mock", "mock", 8); err != nil {
		t.Fatalf("register: %v", err)
	}

	p, err := r.SetEmbedding("webapp", "ollama", "nomic-embed-text", 768)
	if err != nil {
		t.Fatalf("set embedding: %v", err)
	}
	if p.EmbeddingProvider != "ollama" || p.EmbeddingModel != "nomic-embed-text" || p.EmbeddingDim != 768 {
		t.Errorf("project = %s/%s/%d", p.EmbeddingProvider, p.EmbeddingModel, p.EmbeddingDim)
	}

	t.Run("persisted", func(t *testing.T) {
		got, err := r.Resolve("webapp")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if got.EmbeddingDim != 768 {
			t.Errorf("dim = %d, want 768", got.EmbeddingDim)
		}
	})

	t.Run("unknown project", func(t *testing.T) {
		if _, err := r.SetEmbedding("nonexistent", "mock", "mock", 8); !errors.Is(err, memerr.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("bad dimension rejected", func(t *testing.T) {
		if _, err := r.SetEmbedding("webapp", "mock", "mock", 0); !errors.Is(err, memerr.ErrValidation) {
			t.Errorf("err = %v, want ErrValidation", err)
		}
	})
}

func TestResolve(t *testing.T) {
	r := newTestRouter(t)

	// Roots live under temp dirs so the test's working directory never
	// matches a registered project.
	first, err := r.Register("first", t.TempDir(), "mock", "mock", 8)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := r.Register("second", t.TempDir(), "mock", "mock", 8)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	t.Run("explicit name wins", func(t *testing.T) {
		p, err := r.Resolve("first")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if p.ID != first.ID {
			t.Errorf("resolved %q, want first", p.Name)
		}
	})

	t.Run("unknown explicit name", func(t *testing.T) {
		if _, err := r.Resolve("nonexistent"); !errors.Is(err, memerr.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("falls back to persisted default", func(t *testing.T) {
		p, err := r.Resolve("")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if p.ID != second.ID {
			t.Errorf("resolved %q, want the most recently registered default", p.Name)
		}
	})

	t.Run("switch changes default", func(t *testing.T) {
		if _, err := r.Switch("first"); err != nil {
			t.Fatalf("switch: %v", err)
		}
		p, err := r.Resolve("")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if p.ID != first.ID {
			t.Errorf("resolved %q after switch, want first", p.Name)
		}
	})

	t.Run("switch to unknown project", func(t *testing.T) {
		if _, err := r.Switch("nonexistent"); !errors.Is(err, memerr.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestResolveNothingRegistered(t *testing.T) {
	r := newTestRouter(t)

	if _, err := r.Resolve(""); !errors.Is(err, memerr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	r := newTestRouter(t)

	if _, err := r.Register("alpha", t.TempDir(), "mock", "mock", 8); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := r.Register("beta", t.TempDir(), "mock", "mock", 8); err != nil {
		t.Fatalf("register: %v", err)
	}

	projects, err := r.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("projects = %d, want 2", len(projects))
	}
}
