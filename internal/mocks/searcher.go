package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/quill/internal/retrieval"
)

// MockSearcher implements retrieval.Searcher for testing.
type MockSearcher struct {
	SearchFn func(ctx context.Context, query string, topK int) ([]retrieval.Chunk, error)

	Chunks []retrieval.Chunk
	Err    error

	mu      sync.Mutex
	queries []string
}

var _ retrieval.Searcher = (*MockSearcher)(nil)

// Search implements retrieval.Searcher.
func (m *MockSearcher) Search(ctx context.Context, query string, topK int) ([]retrieval.Chunk, error) {
	m.mu.Lock()
	m.queries = append(m.queries, query)
	m.mu.Unlock()

	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, topK)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Chunks) > topK {
		return m.Chunks[:topK], nil
	}
	return m.Chunks, nil
}

// Queries returns every query received.
func (m *MockSearcher) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}
