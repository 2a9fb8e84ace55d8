// Package retrieval answers similarity queries by searching the vector
// index and hydrating hits from the record store. The store is
// authoritative: index hits with no live, searchable row are dropped.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/membank/membank/internal/embedding"
	"github.com/membank/membank/internal/lifecycle"
	"github.com/membank/membank/internal/memerr"
	"github.com/membank/membank/internal/models"
	"github.com/membank/membank/internal/store"
	"github.com/membank/membank/internal/vectorindex"
)

// Index hits are overfetched so that post-filtering (stale, archived,
// category) can still fill the requested limit.
const overfetchFactor = 4

const defaultLimit = 10

// Hit pairs a memory with its similarity score for one query.
type Hit struct {
	Memory *models.Memory `json:"memory"`
	Score  float64        `json:"score"`
}

// Query carries the search parameters.
type Query struct {
	Text     string
	Category models.Category // optional; empty means all categories
	Limit    int
}

// Engine is the read path: embed the query, search, hydrate, filter,
// rerank, and touch the returned memories.
type Engine struct {
	memories *store.MemoryStore
	scorer   *lifecycle.ConfidenceScorer
	embedder embedding.Embedder
	index    vectorindex.Index
	logger   *slog.Logger
}

func NewEngine(
	memories *store.MemoryStore,
	scorer *lifecycle.ConfidenceScorer,
	embedder embedding.Embedder,
	index vectorindex.Index,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		memories: memories,
		scorer:   scorer,
		embedder: embedder,
		index:    index,
		logger:   logger,
	}
}

// Search returns up to q.Limit hits ordered by score descending, ties
// broken newest first. A query that matches nothing returns an empty
// slice, not an error.
func (e *Engine) Search(ctx context.Context, project *models.Project, q Query) ([]Hit, error) {
	if q.Text == "" {
		return nil, fmt.Errorf("%w: query must not be empty", memerr.ErrValidation)
	}
	if q.Category != "" && !q.Category.IsValid() {
		return nil, fmt.Errorf("%w: unknown category %q", memerr.ErrValidation, q.Category)
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}

	vec, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) != project.EmbeddingDim {
		return nil, fmt.Errorf("%w: query embedding has %d dimensions, project records %d",
			memerr.ErrDimensionMismatch, len(vec), project.EmbeddingDim)
	}

	collection := vectorindex.CollectionName(project.ID)
	results, err := e.index.Search(ctx, collection, vec, q.Limit*overfetchFactor)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	byID, err := e.memories.GetByIDs(ids)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, q.Limit)
	for _, r := range results {
		mem, ok := byID[r.ID]
		if !ok {
			// Index is ahead of the store (deleted or never committed).
			e.logger.Debug("dropping index hit with no record", "id", r.ID)
			continue
		}
		if !mem.Searchable() {
			continue
		}
		if q.Category != "" && mem.Category != q.Category {
			continue
		}
		hits = append(hits, Hit{Memory: mem, Score: r.Score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Memory.CreatedAt > hits[j].Memory.CreatedAt
	})
	if len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}

	e.touch(hits)
	return hits, nil
}

// touch bumps access counts and recomputes confidence for returned
// memories. Best effort: a touch failure never fails the search.
func (e *Engine) touch(hits []Hit) {
	for _, h := range hits {
		h.Memory.AccessCount++
		h.Memory.Confidence = e.scorer.Score(h.Memory)
		if err := e.memories.Touch(h.Memory.ID, h.Memory.Confidence); err != nil {
			e.logger.Warn("failed to record memory access", "id", h.Memory.ID, "error", err)
		}
	}
}
