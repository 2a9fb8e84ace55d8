package vectorindex

import (
	"context"
	"errors"
	"fmt"

	chromem "github.com/philippgille/chromem-go"

	"github.com/membank/membank/internal/memerr"
)

// Chromem is the embedded backend: a pure-Go vector database persisted
// under the membank data directory. It serves installations that do not
// run a Qdrant instance.
type Chromem struct {
	db *chromem.DB
}

// NewChromem opens (or creates) a persistent chromem database at path.
func NewChromem(path string) (*Chromem, error) {
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	return &Chromem{db: db}, nil
}

// NewChromemInMemory returns a volatile index, used by tests.
func NewChromemInMemory() *Chromem {
	return &Chromem{db: chromem.NewDB()}
}

// noEmbed guards against chromem ever embedding on our behalf: membank
// always supplies vectors from the configured provider.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("index must not compute embeddings")
}

func (c *Chromem) collection(collection string) (*chromem.Collection, error) {
	col, err := c.db.GetOrCreateCollection(collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("get collection %s: %w", collection, err)
	}
	return col, nil
}

func (c *Chromem) EnsureCollection(_ context.Context, collection string, _ int) error {
	if _, err := c.collection(collection); err != nil {
		return fmt.Errorf("%w: %v", memerr.ErrIndexWrite, err)
	}
	return nil
}

func (c *Chromem) Upsert(ctx context.Context, collection string, points []Point) error {
	col, err := c.collection(collection)
	if err != nil {
		return fmt.Errorf("%w: %v", memerr.ErrIndexWrite, err)
	}
	for _, p := range points {
		doc := chromem.Document{ID: p.ID, Embedding: p.Vector}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("%w: upsert %s into %s: %v", memerr.ErrIndexWrite, p.ID, collection, err)
		}
	}
	return nil
}

func (c *Chromem) Delete(ctx context.Context, collection string, ids []string) error {
	col := c.db.GetCollection(collection, noEmbed)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("%w: delete from %s: %v", memerr.ErrIndexWrite, collection, err)
	}
	return nil
}

func (c *Chromem) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Result, error) {
	col := c.db.GetCollection(collection, noEmbed)
	if col == nil {
		return nil, nil
	}

	// chromem rejects nResults larger than the collection.
	if n := col.Count(); limit > n {
		limit = n
	}
	if limit == 0 {
		return nil, nil
	}

	found, err := col.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", memerr.ErrIndexRead, collection, err)
	}

	results := make([]Result, len(found))
	for i, r := range found {
		results[i] = Result{ID: r.ID, Score: float64(r.Similarity)}
	}
	return results, nil
}

func (c *Chromem) Fetch(ctx context.Context, collection string, ids []string) ([]Point, error) {
	col := c.db.GetCollection(collection, noEmbed)
	if col == nil {
		return nil, nil
	}

	points := make([]Point, 0, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue // not indexed
		}
		points = append(points, Point{ID: doc.ID, Vector: doc.Embedding})
	}
	return points, nil
}

func (c *Chromem) DropCollection(_ context.Context, collection string) error {
	if err := c.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("%w: drop collection %s: %v", memerr.ErrIndexWrite, collection, err)
	}
	return nil
}
