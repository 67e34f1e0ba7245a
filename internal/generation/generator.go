package generation

import "context"

// Request is one text-generation call.
type Request struct {
	Prompt      string
	Model       string
	Temperature float32
	MaxTokens   int
	// JSON asks the model for an application/json response body.
	JSON bool
}

// Response carries the generated text.
type Response struct {
	Text string
}

// Generator is the text-generation endpoint. Implementations classify their
// failures with the errors in this package; parsing the returned text is the
// caller's job.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// EmbeddingTask hints the embedding model at how a vector will be used.
type EmbeddingTask string

// Embedding tasks understood by the embedding endpoint.
const (
	EmbeddingTaskSimilarity     EmbeddingTask = "SEMANTIC_SIMILARITY"
	EmbeddingTaskRetrievalQuery EmbeddingTask = "RETRIEVAL_QUERY"
	EmbeddingTaskClustering     EmbeddingTask = "CLUSTERING"
)

// Embedder is the embedding endpoint. Every vector it returns has Dimensions() entries.
type Embedder interface {
	Embed(ctx context.Context, text string, task EmbeddingTask) ([]float32, error)
	Dimensions() int
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (*Response, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
