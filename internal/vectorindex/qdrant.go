package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/membank/membank/internal/memerr"
)

// Qdrant talks to the Qdrant REST API.
type Qdrant struct {
	baseURL    string
	httpClient *http.Client
}

func NewQdrant(baseURL string) *Qdrant {
	return &Qdrant{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// HealthCheck verifies Qdrant connectivity.
func (c *Qdrant) HealthCheck(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("qdrant health check: status %d", status)
	}
	return nil
}

func (c *Qdrant) EnsureCollection(ctx context.Context, collection string, dim int) error {
	exists, err := c.collectionExists(ctx, collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	status, respBody, err := c.do(ctx, http.MethodPut, "/collections/"+collection, body)
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", memerr.ErrIndexWrite, collection, err)
	}
	if status >= 400 {
		return fmt.Errorf("%w: create collection %s: status %d: %s", memerr.ErrIndexWrite, collection, status, respBody)
	}
	return nil
}

func (c *Qdrant) Upsert(ctx context.Context, collection string, points []Point) error {
	type qdrantPoint struct {
		ID     string    `json:"id"`
		Vector []float32 `json:"vector"`
	}
	qp := make([]qdrantPoint, len(points))
	for i, p := range points {
		qp[i] = qdrantPoint{ID: p.ID, Vector: p.Vector}
	}

	status, respBody, err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points", map[string]any{"points": qp})
	if err != nil {
		return fmt.Errorf("%w: upsert into %s: %v", memerr.ErrIndexWrite, collection, err)
	}
	if status >= 400 {
		return fmt.Errorf("%w: upsert into %s: status %d: %s", memerr.ErrIndexWrite, collection, status, respBody)
	}
	return nil
}

func (c *Qdrant) Delete(ctx context.Context, collection string, ids []string) error {
	status, respBody, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete", map[string]any{"points": ids})
	if err != nil {
		return fmt.Errorf("%w: delete from %s: %v", memerr.ErrIndexWrite, collection, err)
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status >= 400 {
		return fmt.Errorf("%w: delete from %s: status %d: %s", memerr.ErrIndexWrite, collection, status, respBody)
	}
	return nil
}

func (c *Qdrant) Search(ctx context.Context, collection string, vector []float32, limit int) ([]Result, error) {
	body := map[string]any{
		"vector": vector,
		"limit":  limit,
	}
	status, respBody, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body)
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", memerr.ErrIndexRead, collection, err)
	}
	if status == http.StatusNotFound {
		// Collection not created yet: nothing indexed, nothing found.
		return nil, nil
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: search %s: status %d: %s", memerr.ErrIndexRead, collection, status, respBody)
	}

	var resp struct {
		Result []struct {
			ID    string  `json:"id"`
			Score float64 `json:"score"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", memerr.ErrIndexRead, err)
	}

	results := make([]Result, len(resp.Result))
	for i, r := range resp.Result {
		results[i] = Result{ID: r.ID, Score: r.Score}
	}
	return results, nil
}

func (c *Qdrant) Fetch(ctx context.Context, collection string, ids []string) ([]Point, error) {
	body := map[string]any{
		"ids":         ids,
		"with_vector": true,
	}
	status, respBody, err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points", body)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch from %s: %v", memerr.ErrIndexRead, collection, err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: fetch from %s: status %d: %s", memerr.ErrIndexRead, collection, status, respBody)
	}

	var resp struct {
		Result []struct {
			ID     string    `json:"id"`
			Vector []float32 `json:"vector"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode fetch response: %v", memerr.ErrIndexRead, err)
	}

	points := make([]Point, 0, len(resp.Result))
	for _, r := range resp.Result {
		if len(r.Vector) == 0 {
			continue
		}
		points = append(points, Point{ID: r.ID, Vector: r.Vector})
	}
	return points, nil
}

func (c *Qdrant) DropCollection(ctx context.Context, collection string) error {
	status, respBody, err := c.do(ctx, http.MethodDelete, "/collections/"+collection, nil)
	if err != nil {
		return fmt.Errorf("%w: drop collection %s: %v", memerr.ErrIndexWrite, collection, err)
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status >= 400 {
		return fmt.Errorf("%w: drop collection %s: status %d: %s", memerr.ErrIndexWrite, collection, status, respBody)
	}
	return nil
}

func (c *Qdrant) collectionExists(ctx context.Context, collection string) (bool, error) {
	status, _, err := c.do(ctx, http.MethodGet, "/collections/"+collection, nil)
	if err != nil {
		return false, fmt.Errorf("%w: check collection %s: %v", memerr.ErrIndexRead, collection, err)
	}
	return status == http.StatusOK, nil
}

func (c *Qdrant) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
