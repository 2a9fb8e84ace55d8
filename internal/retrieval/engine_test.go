package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/membank/membank/internal/embedding"
	"github.com/membank/membank/internal/lifecycle"
	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/store"
	"github.com/membank/membank/internal/vectorindex"
)

const testDim = 8

type testEnv struct {
	project  *models.Project
	embedder *embedding.Mock
	memories *store.MemoryStore
	manager  *lifecycle.Manager
	engine   *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	project := &models.Project{
		ID:           uuid.New().String(),
		Name:         "testproj",
		RootPath:     t.TempDir(),
		EmbeddingDim: testDim,
		CreatedAt:    time.Now().Unix(),
	}
	if err := store.NewProjectStore(db).Insert(project); err != nil {
		t.Fatalf("insert project: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	embedder := embedding.NewMock(testDim)
	index := vectorindex.NewChromemInMemory()
	memories := store.NewMemoryStore(db)
	scorer := lifecycle.NewConfidenceScorer(store.NewConflictStore(db))

	return &testEnv{
		project:  project,
		embedder: embedder,
		memories: memories,
		manager:  lifecycle.NewManager(db, memories, store.NewVersionStore(db), scorer, embedder, index, logger),
		engine:   NewEngine(memories, scorer, embedder, index, logger),
	}
}

// seed creates and confirms a memory whose vector is pinned so tests
// control similarity ordering exactly.
func (e *testEnv) seed(t *testing.T, content string, category models.Category, vec []float32) *models.Memory {
	t.Helper()
	e.embedder.SetVector(content, vec)
	mem, err := e.manager.Create(e.project, content, category, models.SourceManual)
	if err != nil {
		t.Fatalf("create %q: %v", content, err)
	}
	mem, err = e.manager.Confirm(context.Background(), e.project, mem.ID, false)
	if err != nil {
		t.Fatalf("confirm %q: %v", content, err)
	}
	return mem
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	near := env.seed(t, "uses postgres for persistence", models.CategoryStack, []float32{1, 0, 0})
	mid := env.seed(t, "ships a docker compose file", models.CategoryStack, []float32{0.8, 0.6, 0})
	far := env.seed(t, "standup is at ten", models.CategoryNote, []float32{0, 0, 1})

	env.embedder.SetVector("database", []float32{1, 0, 0})

	t.Run("ordered by similarity", func(t *testing.T) {
		hits, err := env.engine.Search(ctx, env.project, Query{Text: "database"})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 3 {
			t.Fatalf("hits = %d, want 3", len(hits))
		}
		if hits[0].Memory.ID != near.ID || hits[1].Memory.ID != mid.ID || hits[2].Memory.ID != far.ID {
			t.Errorf("order = %s, %s, %s", hits[0].Memory.Content, hits[1].Memory.Content, hits[2].Memory.Content)
		}
		if hits[0].Score < hits[1].Score || hits[1].Score < hits[2].Score {
			t.Error("scores not descending")
		}
	})

	t.Run("category filter", func(t *testing.T) {
		hits, err := env.engine.Search(ctx, env.project, Query{Text: "database", Category: models.CategoryNote})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 || hits[0].Memory.ID != far.ID {
			t.Fatalf("expected only the note, got %d hits", len(hits))
		}
	})

	t.Run("limit truncates", func(t *testing.T) {
		hits, err := env.engine.Search(ctx, env.project, Query{Text: "database", Limit: 1})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(hits) != 1 || hits[0].Memory.ID != near.ID {
			t.Fatalf("expected single closest hit, got %d", len(hits))
		}
	})

	t.Run("stale excluded", func(t *testing.T) {
		if _, err := env.manager.MarkStale(mid.ID, "compose replaced by kind"); err != nil {
			t.Fatalf("mark stale: %v", err)
		}
		hits, err := env.engine.Search(ctx, env.project, Query{Text: "database"})
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		for _, h := range hits {
			if h.Memory.ID == mid.ID {
				t.Error("stale memory returned")
			}
		}
	})

	t.Run("touch bumps access count", func(t *testing.T) {
		before, err := env.memories.GetByID(near.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if _, err := env.engine.Search(ctx, env.project, Query{Text: "database", Limit: 1}); err != nil {
			t.Fatalf("search: %v", err)
		}
		after, err := env.memories.GetByID(near.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if after.AccessCount != before.AccessCount+1 {
			t.Errorf("access count %d, want %d", after.AccessCount, before.AccessCount+1)
		}
		if after.LastAccessedAt == nil {
			t.Error("last accessed not set")
		}
	})
}

func TestSearchValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Search(ctx, env.project, Query{Text: ""}); !errors.Is(err, memerr.ErrValidation) {
		t.Errorf("empty query: err = %v, want ErrValidation", err)
	}
	if _, err := env.engine.Search(ctx, env.project, Query{Text: "x", Category: "mystery"}); !errors.Is(err, memerr.ErrValidation) {
		t.Errorf("bad category: err = %v, want ErrValidation", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	env := newTestEnv(t)

	hits, err := env.engine.Search(context.Background(), env.project, Query{Text: "anything"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if hits == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(hits) != 0 {
		t.Fatalf("hits = %d, want 0", len(hits))
	}
}

func TestSearchUnconfirmedInvisible(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.embedder.SetVector("draft fact", []float32{1, 0, 0})
	if _, err := env.manager.Create(env.project, "draft fact", models.CategoryNote, models.SourceManual); err != nil {
		t.Fatalf("create: %v", err)
	}
	env.seed(t, "confirmed fact", models.CategoryNote, []float32{1, 0, 0})

	env.embedder.SetVector("fact", []float32{1, 0, 0})
	hits, err := env.engine.Search(ctx, env.project, Query{Text: "fact"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].Memory.Content != "confirmed fact" {
		t.Fatalf("expected only the confirmed memory, got %d hits", len(hits))
	}
}
