// Package consolidate merges near-duplicate confirmed memories into a
// single memory, keeping the sources archived so the merge can be
// rolled back.
package consolidate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/membank/membank/internal/embedding"
	"github.com/membank/membank/internal/lifecycle"
	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/store"
	"github.com/membank/membank/internal/vectorindex"
)

// SimilarityThreshold is the minimum cosine similarity for a pair to be
// suggested. Below this, memories are treated as distinct facts.
const SimilarityThreshold = 0.90

// Engine suggests, applies, and rolls back consolidations.
type Engine struct {
	db             *store.DB
	memories       *store.MemoryStore
	versions       *store.VersionStore
	consolidations *store.ConsolidationStore
	scorer         *lifecycle.ConfidenceScorer
	embedder       embedding.Embedder
	index          vectorindex.Index
	logger         *slog.Logger
}

func NewEngine(
	db *store.DB,
	memories *store.MemoryStore,
	versions *store.VersionStore,
	consolidations *store.ConsolidationStore,
	scorer *lifecycle.ConfidenceScorer,
	embedder embedding.Embedder,
	index vectorindex.Index,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		db:             db,
		memories:       memories,
		versions:       versions,
		consolidations: consolidations,
		scorer:         scorer,
		embedder:       embedder,
		index:          index,
		logger:         logger,
	}
}

// Suggest scans a project's confirmed, non-stale memories pairwise and
// returns candidate merges above the similarity threshold, strongest
// first. Advisory only: nothing is mutated. Pairs crossing category
// boundaries are skipped since merging, say, a constraint into a note
// loses meaning.
func (e *Engine) Suggest(ctx context.Context, project *models.Project, limit int) ([]*models.ConsolidationSuggestion, error) {
	memories, err := e.memories.ListConfirmedActive(project.ID)
	if err != nil {
		return nil, err
	}

	candidates := memories[:0]
	for _, m := range memories {
		if !m.Stale {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) < 2 {
		return []*models.ConsolidationSuggestion{}, nil
	}

	collection := vectorindex.CollectionName(project.ID)
	ids := make([]string, len(candidates))
	for i, m := range candidates {
		ids[i] = m.ID
	}
	points, err := e.index.Fetch(ctx, collection, ids)
	if err != nil {
		return nil, err
	}
	vectors := make(map[string][]float32, len(points))
	for _, p := range points {
		vectors[p.ID] = p.Vector
	}

	var out []*models.ConsolidationSuggestion
	for i := 0; i < len(candidates); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		va, ok := vectors[candidates[i].ID]
		if !ok {
			e.logger.Debug("skipping unindexed memory in scan", "id", candidates[i].ID)
			continue
		}
		for j := i + 1; j < len(candidates); j++ {
			if candidates[i].Category != candidates[j].Category {
				continue
			}
			vb, ok := vectors[candidates[j].ID]
			if !ok {
				continue
			}
			sim := embedding.CosineSimilarity(va, vb)
			if sim >= SimilarityThreshold {
				out = append(out, &models.ConsolidationSuggestion{
					A:          candidates[i],
					B:          candidates[j],
					Similarity: sim,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []*models.ConsolidationSuggestion{}
	}
	return out, nil
}

// Apply merges the source memories into one new confirmed memory. The
// merged vector is indexed first; the record-store changes (insert
// merged, snapshot and archive sources, write the audit record) then
// commit in a single transaction, so a crash leaves at worst an orphan
// vector that rebuild clears. Source vectors are removed last, best
// effort.
func (e *Engine) Apply(ctx context.Context, project *models.Project, sourceIDs []string, mergedContent string) (*models.Memory, error) {
	if len(sourceIDs) < 2 {
		return nil, fmt.Errorf("%w: consolidation needs at least two sources", memerr.ErrValidation)
	}
	seen := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate source id %s", memerr.ErrValidation, id)
		}
		seen[id] = true
	}

	sources := make([]*models.Memory, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		mem, err := e.memories.GetByID(id)
		if err != nil {
			return nil, err
		}
		if !mem.CanArchive() {
			return nil, fmt.Errorf("%w: memory %s is %s, only confirmed memories can be consolidated",
				memerr.ErrValidation, id, mem.State)
		}
		if mem.ProjectID != project.ID {
			return nil, fmt.Errorf("%w: memory %s belongs to another project", memerr.ErrValidation, id)
		}
		if len(sources) > 0 && mem.Category != sources[0].Category {
			return nil, fmt.Errorf("%w: sources span categories %s and %s",
				memerr.ErrValidation, sources[0].Category, mem.Category)
		}
		sources = append(sources, mem)
	}

	if strings.TrimSpace(mergedContent) == "" {
		mergedContent = mergeContents(sources)
	}
	if len(mergedContent) > models.MaxContentLength {
		return nil, fmt.Errorf("%w: merged content exceeds %d bytes", memerr.ErrValidation, models.MaxContentLength)
	}

	vec, err := e.embedder.Embed(ctx, mergedContent)
	if err != nil {
		return nil, fmt.Errorf("embed merged content: %w", err)
	}
	if len(vec) != project.EmbeddingDim {
		return nil, fmt.Errorf("%w: merged embedding has %d dimensions, project records %d",
			memerr.ErrDimensionMismatch, len(vec), project.EmbeddingDim)
	}

	similarity := minPairwiseSimilarity(ctx, e.index, project, sources)

	now := time.Now().Unix()
	merged := &models.Memory{
		ID:        uuid.New().String(),
		ProjectID: project.ID,
		Content:   mergedContent,
		Category:  sources[0].Category,
		Source:    sources[0].Source,
		State:     models.StateConfirmed,
		Revision:  1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	merged.Confidence = e.scorer.Score(merged)

	record := &models.ConsolidationRecord{
		ID:         uuid.New().String(),
		ProjectID:  project.ID,
		MergedID:   merged.ID,
		SourceIDs:  sourceIDs,
		Similarity: similarity,
		CreatedAt:  now,
	}

	collection := vectorindex.CollectionName(project.ID)
	if err := e.index.EnsureCollection(ctx, collection, project.EmbeddingDim); err != nil {
		return nil, err
	}
	if err := e.index.Upsert(ctx, collection, []vectorindex.Point{{ID: merged.ID, Vector: vec}}); err != nil {
		return nil, err
	}

	err = e.db.WriteTx(func(tx *sql.Tx) error {
		if err := e.memories.InsertTx(tx, merged); err != nil {
			return err
		}
		for _, src := range sources {
			if err := e.versions.AppendTx(tx, src.Snapshot()); err != nil {
				return err
			}
			src.State = models.StateArchived
			src.Revision++
			src.UpdatedAt = now
			if err := e.memories.SaveTx(tx, src); err != nil {
				return err
			}
		}
		return e.consolidations.InsertTx(tx, record)
	})
	if err != nil {
		if delErr := e.index.Delete(ctx, collection, []string{merged.ID}); delErr != nil {
			e.logger.Error("failed to remove merged vector after aborted consolidation",
				"id", merged.ID, "error", delErr)
		}
		return nil, err
	}

	if err := e.index.Delete(ctx, collection, sourceIDs); err != nil {
		e.logger.Warn("failed to remove source vectors; rebuild will repair", "error", err)
	}

	e.logger.Info("consolidated memories",
		"merged", merged.ID, "sources", len(sourceIDs), "similarity", similarity)
	return merged, nil
}

// Rollback undoes a consolidation: sources are re-indexed and restored
// to confirmed with their original content, the merged memory removed,
// and the record consumed. Single use; a second rollback of the same
// merge fails with ErrAlreadyRolledBack.
func (e *Engine) Rollback(ctx context.Context, project *models.Project, mergedID string) error {
	record, err := e.consolidations.GetByMergedID(mergedID)
	if err != nil {
		return err
	}
	if record.RolledBack() {
		return fmt.Errorf("%w: consolidation of %s", memerr.ErrAlreadyRolledBack, mergedID)
	}

	sourcesByID, err := e.memories.GetByIDs(record.SourceIDs)
	if err != nil {
		return err
	}

	// Re-embed source content before any mutation. The embedding cache
	// makes this cheap when the provider has seen the text before.
	collection := vectorindex.CollectionName(project.ID)
	points := make([]vectorindex.Point, 0, len(sourcesByID))
	for _, src := range sourcesByID {
		vec, err := e.embedder.Embed(ctx, src.Content)
		if err != nil {
			return fmt.Errorf("re-embed source %s: %w", src.ID, err)
		}
		points = append(points, vectorindex.Point{ID: src.ID, Vector: vec})
	}
	if err := e.index.EnsureCollection(ctx, collection, project.EmbeddingDim); err != nil {
		return err
	}
	if err := e.index.Upsert(ctx, collection, points); err != nil {
		return err
	}

	now := time.Now().Unix()
	err = e.db.WriteTx(func(tx *sql.Tx) error {
		for _, id := range record.SourceIDs {
			src, ok := sourcesByID[id]
			if !ok {
				// Source deleted since the merge; restore what remains.
				e.logger.Warn("consolidation source no longer exists, skipping", "id", id)
				continue
			}
			src.State = models.StateConfirmed
			src.Revision++
			src.UpdatedAt = now
			if err := e.memories.SaveTx(tx, src); err != nil {
				return err
			}
		}
		if err := e.memories.DeleteTx(tx, mergedID); err != nil {
			return err
		}
		return e.consolidations.MarkRolledBackTx(tx, record.ID)
	})
	if err != nil {
		return err
	}

	if err := e.index.Delete(ctx, collection, []string{mergedID}); err != nil {
		e.logger.Warn("failed to remove merged vector; rebuild will repair", "id", mergedID, "error", err)
	}

	e.logger.Info("rolled back consolidation", "merged", mergedID, "restored", len(sourcesByID))
	return nil
}

// History lists a project's consolidation records, newest first.
func (e *Engine) History(project *models.Project) ([]*models.ConsolidationRecord, error) {
	return e.consolidations.List(project.ID)
}

func mergeContents(sources []*models.Memory) string {
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = s.Content
	}
	return strings.Join(parts, "\n\n")
}

// minPairwiseSimilarity records the weakest link among the sources. Best
// effort: missing vectors yield 0 rather than blocking the merge the
// operator asked for.
func minPairwiseSimilarity(ctx context.Context, index vectorindex.Index, project *models.Project, sources []*models.Memory) float64 {
	ids := make([]string, len(sources))
	for i, s := range sources {
		ids[i] = s.ID
	}
	points, err := index.Fetch(ctx, vectorindex.CollectionName(project.ID), ids)
	if err != nil || len(points) < len(sources) {
		return 0
	}
	min := 1.0
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			if sim := embedding.CosineSimilarity(points[i].Vector, points[j].Vector); sim < min {
				min = sim
			}
		}
	}
	return min
}
