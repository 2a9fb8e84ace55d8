package embedding

import (
	"context"
	"fmt"

	"github.com/membank/membank/internal/store"
)

// CachedEmbedder fronts a provider with the content-hash cache in the
// record store. Entries from a different model or dimension are ignored
// rather than invalidated; they age out naturally on overwrite.
type CachedEmbedder struct {
	provider Embedder
	cache    *store.EmbeddingCacheStore
}

func NewCachedEmbedder(provider Embedder, cache *store.EmbeddingCacheStore) *CachedEmbedder {
	return &CachedEmbedder{provider: provider, cache: cache}
}

// Embed returns the embedding for text, using the cache when available.
// A cache write failure is non-fatal; the vector is still returned.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	hash := ContentHash(text)

	entry, err := e.cache.Get(hash)
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	if entry != nil && entry.Model == e.provider.Model() && entry.Dimension == e.provider.Dimension() {
		return BytesToFloat32(entry.Embedding), nil
	}

	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	_ = e.cache.Put(&store.EmbeddingCacheEntry{
		ContentHash: hash,
		Embedding:   Float32ToBytes(vec),
		Dimension:   e.provider.Dimension(),
		Model:       e.provider.Model(),
	})

	return vec, nil
}

func (e *CachedEmbedder) Model() string {
	return e.provider.Model()
}

func (e *CachedEmbedder) Dimension() int {
	return e.provider.Dimension()
}
