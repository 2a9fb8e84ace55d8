package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/membank/membank/internal/api"
	"github.com/membank/membank/internal/config"
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

// app is the composition root: everything a command needs, wired once.
// Logs go to stderr so stdout stays parseable (and protocol-clean for
// the MCP server).
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db             *store.DB
	memories       *store.MemoryStore
	projects       *store.ProjectStore
	versions       *store.VersionStore
	conflicts      *store.ConflictStore
	syncState      *store.SyncStateStore
	gitLinks       *store.GitLinkStore
	embedCache     *store.EmbeddingCacheStore
	consolidations *store.ConsolidationStore

	embedder embedding.Embedder
	index    vectorindex.Index
	scorer   *lifecycle.ConfidenceScorer

	manager       *lifecycle.Manager
	search        *retrieval.Engine
	consolidation *consolidate.Engine
	links         *gitlink.Service
	router        *project.Router
	syncEngine    *syncpkg.Engine // nil unless sync.remote_dir is set

	embedderHealth api.HealthChecker
	indexHealth    api.HealthChecker
}

func newApp(cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.LogLevel)

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:            cfg,
		logger:         logger,
		db:             db,
		memories:       store.NewMemoryStore(db),
		projects:       store.NewProjectStore(db),
		versions:       store.NewVersionStore(db),
		conflicts:      store.NewConflictStore(db),
		syncState:      store.NewSyncStateStore(db),
		gitLinks:       store.NewGitLinkStore(db),
		embedCache:     store.NewEmbeddingCacheStore(db),
		consolidations: store.NewConsolidationStore(db),
	}

	if err := a.initEmbedder(); err != nil {
		db.Close()
		return nil, err
	}
	if err := a.initIndex(); err != nil {
		db.Close()
		return nil, err
	}

	a.scorer = lifecycle.NewConfidenceScorer(a.conflicts)
	a.manager = lifecycle.NewManager(a.db, a.memories, a.versions, a.scorer, a.embedder, a.index, logger)
	a.search = retrieval.NewEngine(a.memories, a.scorer, a.embedder, a.index, logger)
	a.consolidation = consolidate.NewEngine(a.db, a.memories, a.versions, a.consolidations, a.scorer, a.embedder, a.index, logger)
	a.links = gitlink.NewService(a.memories, a.gitLinks)
	a.router = project.NewRouter(a.projects, cfg.StatePath(), logger)

	if cfg.Sync.RemoteDir != "" {
		remote, err := syncpkg.NewLocalDir(cfg.Sync.RemoteDir)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.syncEngine = syncpkg.NewEngine(a.db, a.memories, a.versions, a.conflicts, a.syncState,
			a.scorer, a.embedder, a.index, remote, cfg.Sync.Key, logger)
	}

	return a, nil
}

func (a *app) initEmbedder() error {
	switch a.cfg.Embedding.Provider {
	case config.ProviderOllama:
		ollama := embedding.NewOllamaClient(a.cfg.Embedding.OllamaURL, a.cfg.Embedding.Model, a.cfg.Embedding.Dimension)
		a.embedder = embedding.NewCachedEmbedder(ollama, a.embedCache)
		a.embedderHealth = ollama
	case config.ProviderMock:
		a.embedder = embedding.NewMock(a.cfg.Embedding.Dimension)
	default:
		return fmt.Errorf("unknown embedding provider %q", a.cfg.Embedding.Provider)
	}
	return nil
}

func (a *app) initIndex() error {
	switch a.cfg.Index.Backend {
	case config.IndexChromem:
		idx, err := vectorindex.NewChromem(a.cfg.ChromemPath())
		if err != nil {
			return err
		}
		a.index = idx
	case config.IndexQdrant:
		qdrant := vectorindex.NewQdrant(a.cfg.Index.QdrantURL)
		a.index = qdrant
		a.indexHealth = qdrant
	default:
		return fmt.Errorf("unknown index backend %q", a.cfg.Index.Backend)
	}
	return nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

// providerDefaults seeds new projects with the configured embedder.
func (a *app) providerDefaults() models.Project {
	return models.Project{
		EmbeddingProvider: a.cfg.Embedding.Provider,
		EmbeddingModel:    a.cfg.Embedding.Model,
		EmbeddingDim:      a.cfg.Embedding.Dimension,
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
