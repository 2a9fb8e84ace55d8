package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/membank/membank/internal/consolidate"
	"github.com/membank/membank/internal/embedding"
	"github.com/membank/membank/internal/gitlink"
	"github.com/membank/membank/internal/lifecycle"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/project"
	"github.com/membank/membank/internal/retrieval"
	"github.com/membank/membank/internal/store"
	syncpkg "github.com/membank/membank/internal/sync"
	"github.com/membank/membank/internal/vectorindex"
)

const testDim = 8

type testServer struct {
	*httptest.Server
	embedder *embedding.Mock
}

// newTestServer wires the full stack over a temp database, an in-memory
// index, and the deterministic embedder. syncDir, when non-empty,
// enables the sync routes against a local remote.
func newTestServer(t *testing.T, syncDir string) *testServer {
	t.Helper()

	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	embedder := embedding.NewMock(testDim)
	index := vectorindex.NewChromemInMemory()

	memories := store.NewMemoryStore(db)
	versions := store.NewVersionStore(db)
	conflicts := store.NewConflictStore(db)
	scorer := lifecycle.NewConfidenceScorer(conflicts)
	manager := lifecycle.NewManager(db, memories, versions, scorer, embedder, index, logger)
	router := project.NewRouter(store.NewProjectStore(db), filepath.Join(dir, "state.yaml"), logger)

	if _, err := router.Register("testproj", t.TempDir(), "mock", "mock", testDim); err != nil {
		t.Fatalf("register project: %v", err)
	}

	var syncEngine *syncpkg.Engine
	if syncDir != "" {
		remote, err := syncpkg.NewLocalDir(syncDir)
		if err != nil {
			t.Fatalf("local dir: %v", err)
		}
		syncEngine = syncpkg.NewEngine(db, memories, versions, conflicts, store.NewSyncStateStore(db),
			scorer, embedder, index, remote, "test-key", logger)
	}

	mux := NewRouter(Deps{
		DB:             db,
		Manager:        manager,
		Search:         retrieval.NewEngine(memories, scorer, embedder, index, logger),
		Consolidations: consolidate.NewEngine(db, memories, versions, store.NewConsolidationStore(db), scorer, embedder, index, logger),
		Links:          gitlink.NewService(memories, store.NewGitLinkStore(db)),
		Router:         router,
		SyncEngine:     syncEngine,
		ProviderDefaults: models.Project{
			EmbeddingProvider: "mock",
			EmbeddingModel:    "mock",
			EmbeddingDim:      testDim,
		},
		Logger: logger,
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, embedder: embedder}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return v
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, "")

	resp, data := srv.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("no request id header")
	}
}

func TestMemoryFlow(t *testing.T) {
	srv := newTestServer(t, "")
	srv.embedder.SetVector("auth uses paseto tokens", []float32{1, 0, 0})
	srv.embedder.SetVector("authentication", []float32{1, 0, 0})

	resp, data := srv.do(t, http.MethodPost, "/memories?project=testproj", map[string]any{
		"content":  "auth uses paseto tokens",
		"category": "decision",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", resp.StatusCode, data)
	}
	mem := decode[*models.Memory](t, data)
	if mem.State != models.StateUnconfirmed {
		t.Errorf("state = %s, want unconfirmed", mem.State)
	}

	t.Run("pending lists it", func(t *testing.T) {
		resp, data := srv.do(t, http.MethodGet, "/memories/pending?project=testproj", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if pending := decode[[]*models.Memory](t, data); len(pending) != 1 {
			t.Errorf("pending = %d, want 1", len(pending))
		}
	})

	resp, data = srv.do(t, http.MethodPost, "/memories/"+mem.ID+"/confirm?project=testproj", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status = %d: %s", resp.StatusCode, data)
	}
	if confirmed := decode[*models.Memory](t, data); confirmed.State != models.StateConfirmed {
		t.Errorf("state = %s, want confirmed", confirmed.State)
	}

	t.Run("searchable after confirm", func(t *testing.T) {
		resp, data := srv.do(t, http.MethodPost, "/memories/search?project=testproj", map[string]any{
			"query": "authentication",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("search status = %d: %s", resp.StatusCode, data)
		}
		hits := decode[[]retrieval.Hit](t, data)
		if len(hits) != 1 || hits[0].Memory.ID != mem.ID {
			t.Fatalf("hits = %s", data)
		}
	})

	t.Run("update snapshots history", func(t *testing.T) {
		resp, data := srv.do(t, http.MethodPatch, "/memories/"+mem.ID+"?project=testproj", map[string]any{
			"content": "auth moved to paseto v4 tokens",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("update status = %d: %s", resp.StatusCode, data)
		}
		if updated := decode[*models.Memory](t, data); updated.Revision != 2 {
			t.Errorf("revision = %d, want 2", updated.Revision)
		}

		resp, data = srv.do(t, http.MethodGet, "/memories/"+mem.ID+"/history", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("history status = %d", resp.StatusCode)
		}
		if history := decode[[]*models.MemoryVersion](t, data); len(history) != 1 {
			t.Errorf("history = %d, want 1", len(history))
		}

		resp, data = srv.do(t, http.MethodGet, "/memories/"+mem.ID+"/history/1", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("history-at status = %d: %s", resp.StatusCode, data)
		}
		if v := decode[*models.MemoryVersion](t, data); v.Content != "auth uses paseto tokens" {
			t.Errorf("snapshot = %s", data)
		}

		resp, _ = srv.do(t, http.MethodGet, "/memories/"+mem.ID+"/history/9", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("missing snapshot status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("delete", func(t *testing.T) {
		resp, _ := srv.do(t, http.MethodDelete, "/memories/"+mem.ID+"?project=testproj", nil)
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("delete status = %d", resp.StatusCode)
		}
		resp, _ = srv.do(t, http.MethodGet, "/memories/"+mem.ID, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("get after delete = %d, want 404", resp.StatusCode)
		}
	})
}

func TestLinksEndpoints(t *testing.T) {
	srv := newTestServer(t, "")

	_, data := srv.do(t, http.MethodPost, "/memories?project=testproj", map[string]any{
		"content":  "retry loop added for s3 uploads",
		"category": "note",
	})
	mem := decode[*models.Memory](t, data)

	const sha = "abc1234def5678"
	resp, data := srv.do(t, http.MethodPost, "/memories/"+mem.ID+"/links", map[string]any{"commitSha": sha})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("link status = %d: %s", resp.StatusCode, data)
	}

	resp, data = srv.do(t, http.MethodGet, "/memories/"+mem.ID+"/links", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("links status = %d", resp.StatusCode)
	}
	if links := decode[[]*models.GitLink](t, data); len(links) != 1 || links[0].CommitSHA != sha {
		t.Fatalf("links = %s", data)
	}

	resp, data = srv.do(t, http.MethodGet, "/commits/"+sha+"/memories", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("by-commit status = %d", resp.StatusCode)
	}
	if found := decode[[]*models.Memory](t, data); len(found) != 1 || found[0].ID != mem.ID {
		t.Fatalf("memories = %s", data)
	}

	resp, _ = srv.do(t, http.MethodDelete, "/memories/"+mem.ID+"/links/"+sha, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unlink status = %d", resp.StatusCode)
	}
}

func TestConsolidationEndpoints(t *testing.T) {
	srv := newTestServer(t, "")

	srv.embedder.SetVector("uses zap for logging", []float32{1, 0, 0})
	srv.embedder.SetVector("logging goes through zap", []float32{0.99, 0.14, 0})

	var ids []string
	for _, content := range []string{"uses zap for logging", "logging goes through zap"} {
		_, data := srv.do(t, http.MethodPost, "/memories?project=testproj", map[string]any{
			"content":  content,
			"category": "stack",
			"confirm":  true,
		})
		ids = append(ids, decode[*models.Memory](t, data).ID)
	}

	resp, data := srv.do(t, http.MethodGet, "/consolidations/suggestions?project=testproj", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("suggestions status = %d: %s", resp.StatusCode, data)
	}
	if suggestions := decode[[]*models.ConsolidationSuggestion](t, data); len(suggestions) != 1 {
		t.Fatalf("suggestions = %s", data)
	}

	resp, data = srv.do(t, http.MethodPost, "/consolidations?project=testproj", map[string]any{
		"sourceIds": ids,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("apply status = %d: %s", resp.StatusCode, data)
	}
	merged := decode[*models.Memory](t, data)

	resp, _ = srv.do(t, http.MethodPost, "/consolidations/"+merged.ID+"/rollback?project=testproj", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("rollback status = %d", resp.StatusCode)
	}

	t.Run("second rollback conflicts", func(t *testing.T) {
		resp, _ := srv.do(t, http.MethodPost, "/consolidations/"+merged.ID+"/rollback?project=testproj", nil)
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("status = %d, want 409", resp.StatusCode)
		}
	})
}

func TestProjectEndpoints(t *testing.T) {
	srv := newTestServer(t, "")

	resp, data := srv.do(t, http.MethodPost, "/projects", map[string]any{
		"name":     "another",
		"rootPath": t.TempDir(),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d: %s", resp.StatusCode, data)
	}
	p := decode[*models.Project](t, data)
	if p.EmbeddingProvider != "mock" || p.EmbeddingDim != testDim {
		t.Errorf("defaults not applied: %+v", p)
	}

	resp, data = srv.do(t, http.MethodGet, "/projects", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	if projects := decode[[]*models.Project](t, data); len(projects) != 2 {
		t.Errorf("projects = %d, want 2", len(projects))
	}

	resp, data = srv.do(t, http.MethodGet, "/projects/testproj/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	if stats := decode[*models.ProjectStats](t, data); stats.ProjectName != "testproj" {
		t.Errorf("stats = %s", data)
	}

	t.Run("set embedding", func(t *testing.T) {
		resp, data := srv.do(t, http.MethodPatch, "/projects/another/embedding", map[string]any{
			"embeddingProvider": "ollama",
			"embeddingModel":    "nomic-embed-text",
			"embeddingDim":      768,
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("set-embedding status = %d: %s", resp.StatusCode, data)
		}
		if p := decode[*models.Project](t, data); p.EmbeddingDim != 768 || p.EmbeddingModel != "nomic-embed-text" {
			t.Errorf("project = %s", data)
		}

		resp, _ = srv.do(t, http.MethodPatch, "/projects/ghost/embedding", map[string]any{
			"embeddingProvider": "mock",
			"embeddingModel":    "mock",
			"embeddingDim":      8,
		})
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("unknown project status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t, "")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown memory", http.MethodGet, "/memories/no-such-id", nil, http.StatusNotFound},
		{"unknown project", http.MethodGet, "/memories?project=ghost", nil, http.StatusNotFound},
		{"bad category", http.MethodPost, "/memories?project=testproj",
			map[string]any{"content": "x", "category": "mystery"}, http.StatusBadRequest},
		{"unknown json field", http.MethodPost, "/memories?project=testproj",
			map[string]any{"content": "x", "category": "note", "bogus": true}, http.StatusBadRequest},
		{"single consolidation source", http.MethodPost, "/consolidations?project=testproj",
			map[string]any{"sourceIds": []string{"only-one"}}, http.StatusBadRequest},
		{"rollback unknown merge", http.MethodPost, "/consolidations/no-such-id/rollback?project=testproj",
			nil, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, data := srv.do(t, tc.method, tc.path, tc.body)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tc.want, data)
			}
			var body struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
				t.Errorf("error body = %s", data)
			}
		})
	}
}

func TestSyncRoutes(t *testing.T) {
	t.Run("absent when unconfigured", func(t *testing.T) {
		srv := newTestServer(t, "")
		resp, _ := srv.do(t, http.MethodGet, "/sync/status?project=testproj", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("push and status", func(t *testing.T) {
		srv := newTestServer(t, t.TempDir())

		_, data := srv.do(t, http.MethodPost, "/memories?project=testproj", map[string]any{
			"content":  "team fact",
			"category": "note",
			"confirm":  true,
		})
		if mem := decode[*models.Memory](t, data); mem.State != models.StateConfirmed {
			t.Fatalf("memory = %s", data)
		}

		resp, data := srv.do(t, http.MethodPost, "/sync/push?project=testproj", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("push status = %d: %s", resp.StatusCode, data)
		}
		if res := decode[*syncpkg.PushResult](t, data); res.Pushed != 1 {
			t.Errorf("push result = %s", data)
		}

		resp, data = srv.do(t, http.MethodGet, "/sync/status?project=testproj", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status status = %d", resp.StatusCode)
		}
		if status := decode[*models.SyncStatus](t, data); !status.RemoteExists || len(status.PendingMemories) != 0 {
			t.Errorf("status = %s", data)
		}

		resp, data = srv.do(t, http.MethodGet, "/sync/conflicts?project=testproj&all=true", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("conflicts status = %d", resp.StatusCode)
		}
		if conflicts := decode[[]*models.SyncConflict](t, data); len(conflicts) != 0 {
			t.Errorf("conflicts = %s", data)
		}
	})
}
