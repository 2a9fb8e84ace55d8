// Package lifecycle owns the memory state machine and keeps the record
// store and the derived vector index reconciled.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/membank/membank/internal/embedding"
	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/store"
	"github.com/membank/membank/internal/vectorindex"
)

// Manager coordinates create/confirm/update/delete between SQLite
// (source of truth) and the vector index (derived). Every operation
// receives the project explicitly; nothing here reads ambient state.
type Manager struct {
	db       *store.DB
	memories *store.MemoryStore
	versions *store.VersionStore
	scorer   *ConfidenceScorer
	embedder embedding.Embedder
	index    vectorindex.Index
	logger   *slog.Logger
}

func NewManager(
	db *store.DB,
	memories *store.MemoryStore,
	versions *store.VersionStore,
	scorer *ConfidenceScorer,
	embedder embedding.Embedder,
	index vectorindex.Index,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		db:       db,
		memories: memories,
		versions: versions,
		scorer:   scorer,
		embedder: embedder,
		index:    index,
		logger:   logger,
	}
}

// Create writes a new unconfirmed memory. No index interaction: the
// invariant is that unconfirmed ids are never present in the index.
func (m *Manager) Create(project *models.Project, content string, category models.Category, source models.Source) (*models.Memory, error) {
	content, err := validateContent(content)
	if err != nil {
		return nil, err
	}
	if !category.IsValid() {
		return nil, fmt.Errorf("%w: unknown category %q", memerr.ErrValidation, category)
	}
	if source == "" {
		source = models.SourceManual
	}
	if !source.IsValid() {
		return nil, fmt.Errorf("%w: unknown source %q", memerr.ErrValidation, source)
	}

	now := time.Now().Unix()
	mem := &models.Memory{
		ID:        uuid.New().String(),
		ProjectID: project.ID,
		Content:   content,
		Category:  category,
		Source:    source,
		State:     models.StateUnconfirmed,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	mem.Confidence = m.scorer.Score(mem)

	if err := m.memories.Insert(mem); err != nil {
		return nil, err
	}

	m.logger.Info("created memory", "id", mem.ID, "project", project.ID, "category", category)
	return mem, nil
}

// Confirm transitions Unconfirmed → Confirmed: embed, upsert into the
// index, then record the confirmation. With force unset, an index
// failure leaves the memory unconfirmed so the two stores never
// disagree. force=true is the manual-repair path when the index is
// transiently unavailable: the record store is updated regardless and
// the inconsistency surfaced as a warning.
func (m *Manager) Confirm(ctx context.Context, project *models.Project, id string, force bool) (*models.Memory, error) {
	mem, err := m.memories.GetByID(id)
	if err != nil {
		return nil, err
	}
	if mem.State == models.StateConfirmed {
		return mem, nil // idempotent
	}
	if !mem.CanConfirm() {
		return nil, fmt.Errorf("%w: cannot confirm %s memory %s", memerr.ErrValidation, mem.State, id)
	}

	vec, err := m.embed(ctx, project, mem.Content)
	if err != nil {
		return nil, err
	}

	collection := vectorindex.CollectionName(project.ID)
	if err := m.upsert(ctx, project, collection, mem.ID, vec); err != nil {
		if !force {
			return nil, fmt.Errorf("index upsert failed, memory %s remains unconfirmed (retry, or `membank confirm --force` and rebuild later): %w", id, err)
		}
		m.logger.Warn("confirming despite index failure; index is out of date until rebuild",
			"id", id, "error", err)
	}

	mem.State = models.StateConfirmed
	mem.UpdatedAt = time.Now().Unix()
	mem.Confidence = m.scorer.Score(mem)
	if err := m.memories.Save(mem); err != nil {
		// The vector may already be indexed for a memory the store still
		// considers unconfirmed; remove it so the invariant holds.
		if delErr := m.index.Delete(ctx, collection, []string{mem.ID}); delErr != nil {
			m.logger.Error("failed to undo index upsert after store failure", "id", id, "error", delErr)
		}
		return nil, err
	}

	m.logger.Info("confirmed memory", "id", id, "project", project.ID)
	return mem, nil
}

// Update replaces the content of a confirmed, non-archived memory. The
// prior state is snapshotted as a MemoryVersion, the revision bumped,
// and the index re-upserted with the same failure policy as Confirm.
func (m *Manager) Update(ctx context.Context, project *models.Project, id, newContent string, force bool) (*models.Memory, error) {
	newContent, err := validateContent(newContent)
	if err != nil {
		return nil, err
	}

	mem, err := m.memories.GetByID(id)
	if err != nil {
		return nil, err
	}
	if !mem.CanUpdate() {
		return nil, fmt.Errorf("%w: cannot update %s memory %s", memerr.ErrValidation, mem.State, id)
	}

	vec, err := m.embed(ctx, project, newContent)
	if err != nil {
		return nil, err
	}

	collection := vectorindex.CollectionName(project.ID)
	if err := m.upsert(ctx, project, collection, mem.ID, vec); err != nil {
		if !force {
			return nil, fmt.Errorf("index upsert failed, memory %s unchanged (retry, or use --force and rebuild later): %w", id, err)
		}
		m.logger.Warn("updating despite index failure; run `membank rebuild`", "id", id, "error", err)
	}

	snapshot := mem.Snapshot()
	mem.Content = newContent
	mem.Revision++
	mem.UpdatedAt = time.Now().Unix()
	mem.Confidence = m.scorer.Score(mem)

	err = m.db.WriteTx(func(tx *sql.Tx) error {
		if err := m.versions.AppendTx(tx, snapshot); err != nil {
			return err
		}
		return m.memories.SaveTx(tx, mem)
	})
	if err != nil {
		m.logger.Error("store update failed after index upsert; index is ahead, run `membank rebuild`",
			"id", id, "error", err)
		return nil, err
	}

	m.logger.Info("updated memory", "id", id, "revision", mem.Revision)
	return mem, nil
}

// Delete removes the memory from the record store and issues an index
// delete. An index-delete failure is logged, not fatal: the index is
// derived and a later rebuild repairs it.
func (m *Manager) Delete(ctx context.Context, project *models.Project, id string) error {
	mem, err := m.memories.GetByID(id)
	if err != nil {
		return err
	}

	if err := m.memories.Delete(id); err != nil {
		return err
	}

	if mem.State == models.StateConfirmed {
		collection := vectorindex.CollectionName(project.ID)
		if err := m.index.Delete(ctx, collection, []string{id}); err != nil {
			m.logger.Warn("index delete failed; rebuild will repair", "id", id, "error", err)
		}
	}

	m.logger.Info("deleted memory", "id", id)
	return nil
}

// MarkStale flags a confirmed memory as stale. Flag-only: the vector
// stays indexed and staleness is applied as a retrieval-time filter.
func (m *Manager) MarkStale(id, reason string) (*models.Memory, error) {
	mem, err := m.memories.GetByID(id)
	if err != nil {
		return nil, err
	}
	if !mem.CanMarkStale() {
		return nil, fmt.Errorf("%w: cannot mark %s memory %s stale", memerr.ErrValidation, mem.State, id)
	}

	mem.Stale = true
	mem.StaleReason = reason
	mem.UpdatedAt = time.Now().Unix()
	if err := m.memories.Save(mem); err != nil {
		return nil, err
	}
	return mem, nil
}

// ClearStale removes the staleness flag.
func (m *Manager) ClearStale(id string) (*models.Memory, error) {
	mem, err := m.memories.GetByID(id)
	if err != nil {
		return nil, err
	}
	if !mem.Stale {
		return mem, nil
	}

	mem.Stale = false
	mem.StaleReason = ""
	mem.UpdatedAt = time.Now().Unix()
	if err := m.memories.Save(mem); err != nil {
		return nil, err
	}
	return mem, nil
}

// Rebuild drops the project's collection and re-indexes every confirmed,
// non-archived memory from the record store in ascending creation order.
// Idempotent and safe to re-run; this is the recovery path for dimension
// changes and index corruption. The context is checked between memories
// so a cancelled rebuild leaves a valid, resumable state.
func (m *Manager) Rebuild(ctx context.Context, project *models.Project) (int, error) {
	collection := vectorindex.CollectionName(project.ID)

	if err := m.index.DropCollection(ctx, collection); err != nil {
		return 0, err
	}
	if err := m.index.EnsureCollection(ctx, collection, project.EmbeddingDim); err != nil {
		return 0, err
	}

	memories, err := m.memories.ListConfirmedActive(project.ID)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for _, mem := range memories {
		if err := ctx.Err(); err != nil {
			return indexed, fmt.Errorf("rebuild cancelled after %d memories (re-run to resume): %w", indexed, err)
		}

		vec, err := m.embed(ctx, project, mem.Content)
		if err != nil {
			return indexed, fmt.Errorf("embed memory %s: %w", mem.ID, err)
		}
		if err := m.index.Upsert(ctx, collection, []vectorindex.Point{{ID: mem.ID, Vector: vec}}); err != nil {
			return indexed, fmt.Errorf("re-index memory %s: %w", mem.ID, err)
		}
		indexed++
	}

	m.logger.Info("rebuilt index", "project", project.ID, "indexed", indexed)
	return indexed, nil
}

// Get returns a single memory.
func (m *Manager) Get(id string) (*models.Memory, error) {
	return m.memories.GetByID(id)
}

// List returns a project's memories through the store filter.
func (m *Manager) List(project *models.Project, f store.ListFilter) ([]*models.Memory, error) {
	return m.memories.List(project.ID, f)
}

// Pending returns unconfirmed memories awaiting review.
func (m *Manager) Pending(project *models.Project) ([]*models.Memory, error) {
	return m.memories.List(project.ID, store.ListFilter{States: []models.State{models.StateUnconfirmed}})
}

// History returns a memory's version snapshots, oldest first.
func (m *Manager) History(id string) ([]*models.MemoryVersion, error) {
	return m.versions.ListByMemory(id)
}

// VersionAt returns the snapshot taken when the given revision was
// superseded. The current revision has no snapshot yet.
func (m *Manager) VersionAt(id string, revision int64) (*models.MemoryVersion, error) {
	if _, err := m.memories.GetByID(id); err != nil {
		return nil, err
	}
	return m.versions.GetByRevision(id, revision)
}

// Stats summarizes a project's memory population.
func (m *Manager) Stats(project *models.Project) (*models.ProjectStats, error) {
	stats, err := m.memories.Stats(project.ID)
	if err != nil {
		return nil, err
	}
	stats.ProjectName = project.Name
	return stats, nil
}

// embed runs the provider and enforces the project's recorded dimension.
// A drifted provider configuration is rejected before any index write.
func (m *Manager) embed(ctx context.Context, project *models.Project, content string) ([]float32, error) {
	if m.embedder.Dimension() != project.EmbeddingDim {
		return nil, fmt.Errorf("%w: provider %q produces %d dimensions, project %q records %d; reconfigure and run `membank rebuild`",
			memerr.ErrDimensionMismatch, m.embedder.Model(), m.embedder.Dimension(), project.Name, project.EmbeddingDim)
	}

	vec, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(vec) != project.EmbeddingDim {
		return nil, fmt.Errorf("%w: provider returned %d dimensions, project records %d; run `membank rebuild` after reconfiguring",
			memerr.ErrDimensionMismatch, len(vec), project.EmbeddingDim)
	}
	return vec, nil
}

func (m *Manager) upsert(ctx context.Context, project *models.Project, collection, id string, vec []float32) error {
	if err := m.index.EnsureCollection(ctx, collection, project.EmbeddingDim); err != nil {
		return err
	}
	return m.index.Upsert(ctx, collection, []vectorindex.Point{{ID: id, Vector: vec}})
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("%w: content must not be empty", memerr.ErrValidation)
	}
	if len(content) > models.MaxContentLength {
		return "", fmt.Errorf("%w: content exceeds %d bytes", memerr.ErrValidation, models.MaxContentLength)
	}
	return content, nil
}
