package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// Mock is a deterministic in-process embedder used by tests and by the
// "mock" provider setting. Vectors are hash-seeded unit vectors, with an
// override table for texts that must land near each other.
type Mock struct {
	dim       int
	overrides map[string][]float32
}

func NewMock(dim int) *Mock {
	return &Mock{dim: dim, overrides: make(map[string][]float32)}
}

// SetVector pins the vector returned for an exact text. The vector is
// normalized and padded/truncated to the mock's dimension.
func (m *Mock) SetVector(text string, vec []float32) {
	fixed := make([]float32, m.dim)
	copy(fixed, vec)
	m.overrides[text] = normalize(fixed)
}

func (m *Mock) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := m.overrides[text]; ok {
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.dim)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

func (m *Mock) Model() string {
	return "mock"
}

func (m *Mock) Dimension() int {
	return m.dim
}

func normalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / n
	}
	return out
}
