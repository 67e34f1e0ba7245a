package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/quill/internal/config"
	"github.com/phrazzld/quill/internal/generation"
	"google.golang.org/genai"
)

// modelsAPI is the subset of *genai.Models used by this package.
type modelsAPI interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
	EmbedContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.EmbedContentConfig,
	) (*genai.EmbedContentResponse, error)
}

// validateConfig checks the settings every Gemini-backed component needs.
func validateConfig(cfg config.LLMConfig) error {
	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.EmbeddingModel == "" {
		return fmt.Errorf("%w: embedding model cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.EmbeddingDimensions <= 0 {
		return fmt.Errorf("%w: embedding dimensions must be positive, got %d",
			generation.ErrInvalidConfig, cfg.EmbeddingDimensions)
	}
	return nil
}

// Client owns one genai client and hands out a Generator and an Embedder
// sharing it.
type Client struct {
	logger *slog.Logger
	cfg    config.LLMConfig
	models modelsAPI
}

// NewClient validates cfg and connects to the Gemini API.
func NewClient(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	logger.InfoContext(ctx, "gemini client initialized",
		slog.String("embedding_model", cfg.EmbeddingModel),
		slog.Int("embedding_dimensions", cfg.EmbeddingDimensions))

	return newClient(logger, cfg, client.Models), nil
}

func newClient(logger *slog.Logger, cfg config.LLMConfig, models modelsAPI) *Client {
	return &Client{
		logger: logger.With(slog.String("component", "gemini")),
		cfg:    cfg,
		models: models,
	}
}

// Generator returns the text-generation side of the client.
func (c *Client) Generator() *Generator {
	return &Generator{logger: c.logger, models: c.models}
}

// Embedder returns the embedding side of the client.
func (c *Client) Embedder() *Embedder {
	return &Embedder{
		logger:     c.logger,
		models:     c.models,
		model:      c.cfg.EmbeddingModel,
		dimensions: c.cfg.EmbeddingDimensions,
	}
}
