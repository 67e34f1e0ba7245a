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

// Generator implements generation.Generator.
type Generator struct {
	logger *slog.Logger
	models modelsAPI
}

var _ generation.Generator = (*Generator)(nil)

// Generate sends one prompt to req.Model.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt cannot be empty", generation.ErrInvalidConfig)
	}
	if req.Model == "" {
		return nil, fmt.Errorf("%w: model cannot be empty", generation.ErrInvalidConfig)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	telemetry.ObserveExternalCall("gemini_generate", start)
	if err != nil {
		g.logger.WarnContext(ctx, "gemini generate call failed",
			slog.String("model", req.Model),
			slog.String("error", err.Error()))
		return nil, classifyError(err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	g.logger.DebugContext(ctx, "gemini generate call succeeded",
		slog.String("model", req.Model),
		slog.Int("prompt_length", len(req.Prompt)),
		slog.Int("response_length", len(text)),
		slog.Duration("elapsed", time.Since(start)))

	return &generation.Response{Text: text}, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates generated", generation.ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}
	if resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty text in response", generation.ErrInvalidResponse)
	}
	return text, nil
}
