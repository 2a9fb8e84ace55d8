// Package vectorindex is the derived store: vector → memory-id mappings
// per project collection. Everything in it is reconstructible from the
// record store via rebuild; failures here never corrupt the source of
// truth.
package vectorindex

import "context"

// Point is one stored vector.
type Point struct {
	ID     string
	Vector []float32
}

// Result is one scored neighbor from a similarity query.
type Result struct {
	ID    string
	Score float64
}

// Index is the capability the lifecycle, retrieval, and consolidation
// engines consume. Implementations wrap Qdrant's REST API or an embedded
// chromem database; their errors are tagged with memerr.ErrIndexWrite /
// memerr.ErrIndexRead so callers can route them to the rebuild
// remediation path.
type Index interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, collection string, dim int) error

	// Upsert inserts or replaces points.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Delete removes points by id. Missing ids are not an error.
	Delete(ctx context.Context, collection string, ids []string) error

	// Search returns up to limit nearest neighbors by cosine similarity,
	// best first. A missing collection yields an empty result.
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]Result, error)

	// Fetch returns the stored vectors for the given ids, skipping ids
	// the collection does not hold.
	Fetch(ctx context.Context, collection string, ids []string) ([]Point, error)

	// DropCollection removes the collection and all its points. Dropping
	// a missing collection is a no-op.
	DropCollection(ctx context.Context, collection string) error
}

const collectionPrefix = "membank_"

// CollectionName derives the index collection for a project. One
// collection per project, named deterministically from the project id.
func CollectionName(projectID string) string {
	return collectionPrefix + projectID
}
