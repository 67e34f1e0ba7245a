package similarity

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/quill/internal/generation"
)

// FallbackEmbedder wraps an Embedder and substitutes an all-zero vector when
// the wrapped service fails. Dimension mismatches and caller cancellation are
// still returned as errors.
type FallbackEmbedder struct {
	inner  generation.Embedder
	logger *slog.Logger
}

var _ generation.Embedder = (*FallbackEmbedder)(nil)

// NewFallbackEmbedder wraps inner.
func NewFallbackEmbedder(inner generation.Embedder, logger *slog.Logger) *FallbackEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackEmbedder{inner: inner, logger: logger}
}

// Dimensions implements generation.Embedder.
func (f *FallbackEmbedder) Dimensions() int {
	return f.inner.Dimensions()
}

// Embed implements generation.Embedder.
func (f *FallbackEmbedder) Embed(ctx context.Context, text string, task generation.EmbeddingTask) ([]float32, error) {
	vec, err := f.inner.Embed(ctx, text, task)
	if err == nil {
		return vec, nil
	}
	if errors.Is(err, generation.ErrDimensionMismatch) || errors.Is(err, context.Canceled) {
		return nil, err
	}
	f.logger.WarnContext(ctx, "embedder unavailable, substituting zero vector",
		slog.String("error", err.Error()))
	return make([]float32, f.inner.Dimensions()), nil
}
