// Package embedding turns text into fixed-dimension vectors through a
// provider interface, with a content-hash cache in front of the provider.
package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
)

// Embedder is the capability membank consumes: text in, vector of the
// provider's fixed dimension out. Provider identity and dimension are
// part of a project's configuration and immutable once memories exist.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimension() int
}

// ContentHash computes the SHA-256 hash of text, hex encoded. Used as
// the embedding cache key and as the sync record checksum.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
