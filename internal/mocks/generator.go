package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/quill/internal/generation"
)

// MockGenerator implements generation.Generator for testing.
type MockGenerator struct {
	// GenerateFn allows test cases to mock the Generate behavior.
	GenerateFn func(ctx context.Context, req generation.Request) (*generation.Response, error)

	// Default response values, used when GenerateFn is nil.
	Text string
	Err  error

	mu       sync.Mutex
	requests []generation.Request
}

var _ generation.Generator = (*MockGenerator)(nil)

// Generate implements the generation.Generator interface.
func (m *MockGenerator) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &generation.Response{Text: m.Text}, nil
}

// Calls returns how many times Generate was called.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *MockGenerator) Requests() []generation.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]generation.Request(nil), m.requests...)
}

// NewMockGeneratorWithText creates a MockGenerator that always returns text.
func NewMockGeneratorWithText(text string) *MockGenerator {
	return &MockGenerator{Text: text}
}

// NewMockGeneratorWithError creates a MockGenerator that always fails with err.
func NewMockGeneratorWithError(err error) *MockGenerator {
	return &MockGenerator{Err: err}
}

// NewMockGeneratorSequence returns each response in order, then fails with
// generation.ErrInvalidResponse once they run out. A response with a non-nil
// error fails that call.
func NewMockGeneratorSequence(responses ...SequencedResponse) *MockGenerator {
	var mu sync.Mutex
	next := 0
	return &MockGenerator{
		GenerateFn: func(ctx context.Context, req generation.Request) (*generation.Response, error) {
			mu.Lock()
			defer mu.Unlock()
			if next >= len(responses) {
				return nil, generation.ErrInvalidResponse
			}
			r := responses[next]
			next++
			if r.Err != nil {
				return nil, r.Err
			}
			return &generation.Response{Text: r.Text}, nil
		},
	}
}

// SequencedResponse is one scripted reply for NewMockGeneratorSequence.
type SequencedResponse struct {
	Text string
	Err  error
}
