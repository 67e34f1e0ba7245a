package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/telemetry"
	"google.golang.org/genai"
)

// Embedder implements generation.Embedder with a fixed output dimensionality.
type Embedder struct {
	logger     *slog.Logger
	models     modelsAPI
	model      string
	dimensions int
}

var _ generation.Embedder = (*Embedder)(nil)

// Dimensions returns the configured vector length.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Embed returns the embedding of text. A vector of any other length than
// Dimensions() is reported as generation.ErrDimensionMismatch.
func (e *Embedder) Embed(ctx context.Context, text string, task generation.EmbeddingTask) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text to embed cannot be empty", generation.ErrInvalidConfig)
	}

	dims := int32(e.dimensions)
	start := time.Now()
	resp, err := e.models.EmbedContent(ctx, e.model, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             string(task),
		OutputDimensionality: &dims,
	})
	telemetry.ObserveExternalCall("gemini_embed", start)
	if err != nil {
		e.logger.WarnContext(ctx, "gemini embed call failed",
			slog.String("model", e.model),
			slog.String("error", err.Error()))
		return nil, classifyError(err)
	}

	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("%w: no embedding returned", generation.ErrInvalidResponse)
	}
	values := resp.Embeddings[0].Values
	if len(values) != e.dimensions {
		return nil, fmt.Errorf("%w: got %d values, want %d", generation.ErrDimensionMismatch, len(values), e.dimensions)
	}
	return values, nil
}
