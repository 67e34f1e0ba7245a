// Package retrieval turns a search over the external retrieval service into a
// single context block for prompt construction.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Separator joins formatted chunks in the aggregated context.
const Separator = "\n\n---\n\n"

// Chunk is one scored passage returned by the retrieval endpoint.
type Chunk struct {
	ID           string  `json:"id"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
}

// Searcher is the retrieval endpoint. Chunks come back most relevant first.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Chunk, error)
}

// NoopSearcher returns no chunks. It stands in when no retrieval endpoint is configured.
type NoopSearcher struct{}

// Search implements Searcher.
func (NoopSearcher) Search(context.Context, string, int) ([]Chunk, error) {
	return nil, nil
}

// Aggregator is the context aggregator used by every stage processor.
type Aggregator struct {
	searcher Searcher
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator over searcher. A nil searcher behaves like NoopSearcher.
func NewAggregator(searcher Searcher, logger *slog.Logger) *Aggregator {
	if searcher == nil {
		searcher = NoopSearcher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		searcher: searcher,
		logger:   logger.With(slog.String("component", "retrieval")),
	}
}

// RetrieveContext queries the retrieval endpoint and concatenates the chunks
// in the order returned. No results yield an empty string and a nil error;
// endpoint failures are returned to the caller unchanged in kind.
func (a *Aggregator) RetrieveContext(ctx context.Context, query string, topK int) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" || topK <= 0 {
		return "", nil
	}

	chunks, err := a.searcher.Search(ctx, query, topK)
	if err != nil {
		return "", fmt.Errorf("retrieve context for %q: %w", query, err)
	}

	a.logger.DebugContext(ctx, "retrieved context chunks",
		slog.String("query", query),
		slog.Int("top_k", topK),
		slog.Int("chunks", len(chunks)))

	return Format(chunks), nil
}

// Format renders chunks as "Document: <name>\nContent: <content>" blocks
// joined by Separator.
func Format(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, "Document: "+c.DocumentName+"\nContent: "+c.Content)
	}
	return strings.Join(parts, Separator)
}
