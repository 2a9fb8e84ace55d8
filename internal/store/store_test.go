package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestProject(t *testing.T, db *DB) *models.Project {
	t.Helper()
	p := &models.Project{
		ID:                uuid.New().String(),
		Name:              "proj-" + uuid.New().String()[:8],
		RootPath:          t.TempDir(),
		EmbeddingProvider: "mock",
		EmbeddingModel:    "mock",
		EmbeddingDim:      8,
		CreatedAt:         time.Now().Unix(),
	}
	if err := NewProjectStore(db).Insert(p); err != nil {
		t.Fatalf("insert project: %v", err)
	}
	return p
}

func newTestMemory(projectID, content string, state models.State) *models.Memory {
	now := time.Now().Unix()
	return &models.Memory{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Content:   content,
		Category:  models.CategoryNote,
		Source:    models.SourceManual,
		State:     state,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStore(t *testing.T) {
	db := setupTestDB(t)
	ms := NewMemoryStore(db)
	proj := newTestProject(t, db)

	t.Run("Insert and GetByID", func(t *testing.T) {
		m := newTestMemory(proj.ID, "use sqlite for the record store", models.StateUnconfirmed)
		if err := ms.Insert(m); err != nil {
			t.Fatalf("insert: %v", err)
		}

		got, err := ms.GetByID(m.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Content != m.Content {
			t.Errorf("content = %q, want %q", got.Content, m.Content)
		}
		if got.State != models.StateUnconfirmed {
			t.Errorf("state = %s, want unconfirmed", got.State)
		}
	})

	t.Run("GetByID unknown returns ErrNotFound", func(t *testing.T) {
		_, err := ms.GetByID("no-such-id")
		if !errors.Is(err, memerr.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Save updates fields and errors on missing row", func(t *testing.T) {
		m := newTestMemory(proj.ID, "original", models.StateConfirmed)
		if err := ms.Insert(m); err != nil {
			t.Fatalf("insert: %v", err)
		}

		m.Content = "updated"
		m.Revision = 2
		if err := ms.Save(m); err != nil {
			t.Fatalf("save: %v", err)
		}
		got, _ := ms.GetByID(m.ID)
		if got.Content != "updated" || got.Revision != 2 {
			t.Errorf("got content=%q revision=%d", got.Content, got.Revision)
		}

		ghost := newTestMemory(proj.ID, "x", models.StateConfirmed)
		if err := ms.Save(ghost); !errors.Is(err, memerr.ErrNotFound) {
			t.Fatalf("expected ErrNotFound saving missing row, got %v", err)
		}
	})

	t.Run("List filters by state, category, and staleness", func(t *testing.T) {
		p := newTestProject(t, db)
		confirmed := newTestMemory(p.ID, "confirmed fact", models.StateConfirmed)
		pending := newTestMemory(p.ID, "pending fact", models.StateUnconfirmed)
		stale := newTestMemory(p.ID, "stale fact", models.StateConfirmed)
		stale.Stale = true
		stale.Category = models.CategoryDecision
		for _, m := range []*models.Memory{confirmed, pending, stale} {
			if err := ms.Insert(m); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}

		got, err := ms.List(p.ID, ListFilter{States: []models.State{models.StateConfirmed}})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 confirmed, got %d", len(got))
		}

		isStale := true
		got, _ = ms.List(p.ID, ListFilter{Stale: &isStale})
		if len(got) != 1 || got[0].ID != stale.ID {
			t.Fatalf("stale filter returned %d rows", len(got))
		}

		got, _ = ms.List(p.ID, ListFilter{Category: models.CategoryDecision})
		if len(got) != 1 || got[0].ID != stale.ID {
			t.Fatalf("category filter returned %d rows", len(got))
		}
	})

	t.Run("GetByIDs skips missing ids", func(t *testing.T) {
		m := newTestMemory(proj.ID, "present", models.StateConfirmed)
		ms.Insert(m)

		got, err := ms.GetByIDs([]string{m.ID, "missing-id"})
		if err != nil {
			t.Fatalf("get by ids: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 row, got %d", len(got))
		}
		if _, ok := got[m.ID]; !ok {
			t.Fatal("present id missing from result")
		}
	})

	t.Run("Touch bumps access count and confidence", func(t *testing.T) {
		m := newTestMemory(proj.ID, "touched", models.StateConfirmed)
		ms.Insert(m)

		if err := ms.Touch(m.ID, 0.75); err != nil {
			t.Fatalf("touch: %v", err)
		}
		got, _ := ms.GetByID(m.ID)
		if got.AccessCount != 1 {
			t.Errorf("access count = %d, want 1", got.AccessCount)
		}
		if got.Confidence != 0.75 {
			t.Errorf("confidence = %v, want 0.75", got.Confidence)
		}
		if got.LastAccessedAt == nil {
			t.Error("last accessed not set")
		}
	})

	t.Run("Delete removes memory with versions and links", func(t *testing.T) {
		m := newTestMemory(proj.ID, "doomed", models.StateConfirmed)
		ms.Insert(m)
		vs := NewVersionStore(db)
		if err := vs.Append(m.Snapshot()); err != nil {
			t.Fatalf("append version: %v", err)
		}
		ls := NewGitLinkStore(db)
		if err := ls.Link(m.ID, "abcdef1"); err != nil {
			t.Fatalf("link: %v", err)
		}

		if err := ms.Delete(m.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := ms.GetByID(m.ID); !errors.Is(err, memerr.ErrNotFound) {
			t.Fatal("memory still present")
		}
		versions, _ := vs.ListByMemory(m.ID)
		if len(versions) != 0 {
			t.Errorf("expected versions deleted, found %d", len(versions))
		}
		links, _ := ls.ListByMemory(m.ID)
		if len(links) != 0 {
			t.Errorf("expected links deleted, found %d", len(links))
		}
	})

	t.Run("Stats counts by state", func(t *testing.T) {
		p := newTestProject(t, db)
		ms.Insert(newTestMemory(p.ID, "a", models.StateConfirmed))
		ms.Insert(newTestMemory(p.ID, "b", models.StateUnconfirmed))
		ms.Insert(newTestMemory(p.ID, "c", models.StateArchived))
		staleMem := newTestMemory(p.ID, "d", models.StateConfirmed)
		staleMem.Stale = true
		ms.Insert(staleMem)

		stats, err := ms.Stats(p.ID)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Confirmed != 2 || stats.Pending != 1 || stats.Archived != 1 || stats.Stale != 1 {
			t.Errorf("stats = %+v", stats)
		}
	})
}

func TestVersionStore(t *testing.T) {
	db := setupTestDB(t)
	ms := NewMemoryStore(db)
	vs := NewVersionStore(db)
	proj := newTestProject(t, db)

	m := newTestMemory(proj.ID, "first draft", models.StateConfirmed)
	if err := ms.Insert(m); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := vs.Append(m.Snapshot()); err != nil {
		t.Fatalf("append r1: %v", err)
	}
	m.Revision = 2
	m.Content = "second draft"
	if err := vs.Append(m.Snapshot()); err != nil {
		t.Fatalf("append r2: %v", err)
	}

	versions, err := vs.ListByMemory(m.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].Revision != 1 || versions[1].Revision != 2 {
		t.Errorf("versions out of order: %d then %d", versions[0].Revision, versions[1].Revision)
	}

	v, err := vs.GetByRevision(m.ID, 1)
	if err != nil {
		t.Fatalf("get revision: %v", err)
	}
	if v.Content != "first draft" {
		t.Errorf("r1 content = %q", v.Content)
	}
}

func TestProjectStore(t *testing.T) {
	db := setupTestDB(t)
	ps := NewProjectStore(db)

	t.Run("duplicate name rejected", func(t *testing.T) {
		p := newTestProject(t, db)
		dup := *p
		dup.ID = uuid.New().String()
		dup.RootPath = t.TempDir()
		if err := ps.Insert(&dup); !errors.Is(err, memerr.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("FindByPath picks nearest registered ancestor", func(t *testing.T) {
		root := t.TempDir()
		outer := newTestProject(t, db)
		outer.RootPath = root
		outerID := uuid.New().String()
		outer.ID = outerID
		outer.Name = "outer-" + outerID[:8]
		if err := ps.Insert(outer); err != nil {
			t.Fatalf("insert outer: %v", err)
		}

		inner := newTestProject(t, db)
		inner.RootPath = filepath.Join(root, "services", "api")
		innerID := uuid.New().String()
		inner.ID = innerID
		inner.Name = "inner-" + innerID[:8]
		if err := ps.Insert(inner); err != nil {
			t.Fatalf("insert inner: %v", err)
		}

		got, err := ps.FindByPath(filepath.Join(root, "services", "api", "handlers"))
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got.ID != innerID {
			t.Errorf("resolved %s, want inner project", got.Name)
		}

		got, err = ps.FindByPath(filepath.Join(root, "docs"))
		if err != nil {
			t.Fatalf("find outer: %v", err)
		}
		if got.ID != outerID {
			t.Errorf("resolved %s, want outer project", got.Name)
		}

		if _, err := ps.FindByPath(t.TempDir()); !errors.Is(err, memerr.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for unregistered path, got %v", err)
		}
	})

	t.Run("Delete refuses while memories exist", func(t *testing.T) {
		p := newTestProject(t, db)
		ms := NewMemoryStore(db)
		m := newTestMemory(p.ID, "blocker", models.StateConfirmed)
		ms.Insert(m)

		if err := ps.Delete(p.ID); !errors.Is(err, memerr.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}

		ms.Delete(m.ID)
		if err := ps.Delete(p.ID); err != nil {
			t.Fatalf("delete after cleanup: %v", err)
		}
	})
}

func TestConsolidationStore(t *testing.T) {
	db := setupTestDB(t)
	cs := NewConsolidationStore(db)
	proj := newTestProject(t, db)

	record := &models.ConsolidationRecord{
		ID:         uuid.New().String(),
		ProjectID:  proj.ID,
		MergedID:   uuid.New().String(),
		SourceIDs:  []string{"a", "b"},
		Similarity: 0.95,
		CreatedAt:  time.Now().Unix(),
	}
	err := db.WriteTx(func(tx *sql.Tx) error { return cs.InsertTx(tx, record) })
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := cs.GetByMergedID(record.MergedID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.SourceIDs) != 2 || got.SourceIDs[0] != "a" {
		t.Errorf("source ids = %v", got.SourceIDs)
	}
	if got.RolledBack() {
		t.Error("fresh record reports rolled back")
	}

	err = db.WriteTx(func(tx *sql.Tx) error { return cs.MarkRolledBackTx(tx, record.ID) })
	if err != nil {
		t.Fatalf("mark rolled back: %v", err)
	}

	err = db.WriteTx(func(tx *sql.Tx) error { return cs.MarkRolledBackTx(tx, record.ID) })
	if !errors.Is(err, memerr.ErrAlreadyRolledBack) {
		t.Fatalf("expected ErrAlreadyRolledBack, got %v", err)
	}
}

func TestGitLinkStore(t *testing.T) {
	db := setupTestDB(t)
	ms := NewMemoryStore(db)
	ls := NewGitLinkStore(db)
	proj := newTestProject(t, db)

	m := newTestMemory(proj.ID, "linked", models.StateConfirmed)
	ms.Insert(m)

	if err := ls.Link(m.ID, "abcdef1234567"); err != nil {
		t.Fatalf("link: %v", err)
	}
	// Same pair again is a no-op, not an error.
	if err := ls.Link(m.ID, "abcdef1234567"); err != nil {
		t.Fatalf("duplicate link: %v", err)
	}

	links, err := ls.ListByMemory(m.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}

	if err := ls.Unlink(m.ID, "abcdef1234567"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := ls.Unlink(m.ID, "abcdef1234567"); !errors.Is(err, memerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEmbeddingCacheStore(t *testing.T) {
	db := setupTestDB(t)
	ec := NewEmbeddingCacheStore(db)

	miss, err := ec.Get("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if miss != nil {
		t.Fatal("expected nil on miss")
	}

	entry := &EmbeddingCacheEntry{
		ContentHash: "hash-1",
		Embedding:   []byte{1, 2, 3, 4},
		Dimension:   1,
		Model:       "mock",
	}
	if err := ec.Put(entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := ec.Get("hash-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Model != "mock" || len(got.Embedding) != 4 {
		t.Fatalf("got %+v", got)
	}
}
