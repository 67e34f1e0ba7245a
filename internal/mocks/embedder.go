package mocks

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/phrazzld/quill/internal/generation"
)

// MockEmbedder implements generation.Embedder for testing.
//
// Without EmbedFn it returns Vectors[text] when present, otherwise a
// deterministic vector derived from the lower-cased text, so equal texts
// (ignoring case) always have similarity 1.
type MockEmbedder struct {
	EmbedFn func(ctx context.Context, text string, task generation.EmbeddingTask) ([]float32, error)

	Dims    int
	Vectors map[string][]float32
	Err     error

	mu    sync.Mutex
	texts []string
}

var _ generation.Embedder = (*MockEmbedder)(nil)

// Dimensions implements generation.Embedder.
func (m *MockEmbedder) Dimensions() int {
	if m.Dims <= 0 {
		return 64
	}
	return m.Dims
}

// Embed implements generation.Embedder.
func (m *MockEmbedder) Embed(ctx context.Context, text string, task generation.EmbeddingTask) ([]float32, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.EmbedFn != nil {
		return m.EmbedFn(ctx, text, task)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if v, ok := m.Vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return HashVector(text, m.Dimensions()), nil
}

// Texts returns every text embedded so far.
func (m *MockEmbedder) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// HashVector derives a pseudo-random vector of length dims from the lower-cased
// text. Distinct texts are close to orthogonal for large dims.
func HashVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	norm := strings.ToLower(strings.TrimSpace(text))
	for i := range v {
		h := fnv.New32a()
		_, _ = h.Write([]byte{byte(i)})
		_, _ = h.Write([]byte(norm))
		v[i] = float32(h.Sum32()%2000)/1000 - 1
	}
	return v
}
