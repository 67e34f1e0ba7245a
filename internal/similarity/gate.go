// Package similarity implements the duplicate gate: candidate texts are
// embedded and compared by cosine similarity against every stored embedding
// in a scope, and only non-duplicates are registered.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/store"
	"github.com/phrazzld/quill/internal/telemetry"
)

// Request describes one candidate.
type Request struct {
	// Text is embedded and compared.
	Text string
	// Scope selects the population of stored embeddings to compare against.
	Scope string
	// SourceID identifies the entity the embedding belongs to once registered.
	SourceID string
	// Threshold is the similarity above which the candidate is a duplicate.
	Threshold float64
	// ExcludeSourceID skips one stored source, e.g. the entity being re-embedded.
	ExcludeSourceID string
}

// Match is the nearest stored embedding.
type Match struct {
	RecordID   int64
	SourceID   string
	Text       string
	Similarity float64
}

// Verdict is the gate's decision.
type Verdict struct {
	Duplicate bool
	// Nearest is the most similar stored embedding, if any was compared.
	Nearest *Match
	// Registered is the persisted record; nil for duplicates, soft checks,
	// and candidates embedded while the embedder was unavailable.
	Registered *domain.EmbeddingRecord
	// Degraded is set when the embedder was unavailable and the zero vector was used.
	Degraded bool
}

// Gate is the vector similarity gate.
type Gate struct {
	embedder generation.Embedder
	records  store.EmbeddingStore
	logger   *slog.Logger
}

// NewGate creates a gate over records. The embedder is wrapped so that an
// unavailable service degrades to the zero vector instead of failing callers.
func NewGate(embedder generation.Embedder, records store.EmbeddingStore, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "similarity_gate"))
	if _, ok := embedder.(*FallbackEmbedder); !ok {
		embedder = NewFallbackEmbedder(embedder, logger)
	}
	return &Gate{embedder: embedder, records: records, logger: logger}
}

// Check compares the candidate without persisting anything.
func (g *Gate) Check(ctx context.Context, req Request) (Verdict, error) {
	verdict, _, err := g.evaluate(ctx, req)
	return verdict, err
}

// CheckAndRegister compares the candidate and, when it is not a duplicate,
// stores its embedding under req.SourceID.
func (g *Gate) CheckAndRegister(ctx context.Context, req Request) (Verdict, error) {
	if strings.TrimSpace(req.SourceID) == "" {
		return Verdict{}, fmt.Errorf("similarity gate: source id is required to register")
	}

	verdict, vec, err := g.evaluate(ctx, req)
	if err != nil || verdict.Duplicate || verdict.Degraded {
		return verdict, err
	}

	record := &domain.EmbeddingRecord{
		Scope:    req.Scope,
		SourceID: req.SourceID,
		Text:     req.Text,
		Vector:   vec,
	}
	if req.ExcludeSourceID != "" && req.ExcludeSourceID == req.SourceID {
		if err := g.records.Replace(ctx, record); err != nil {
			return verdict, fmt.Errorf("similarity gate: replace embedding: %w", err)
		}
		verdict.Registered = record
		return verdict, nil
	}
	if err := g.records.Insert(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Registered concurrently after evaluate listed the scope.
			telemetry.GateDecisions.WithLabelValues(telemetry.OutcomeRejected).Inc()
			g.logger.InfoContext(ctx, "candidate rejected, source already registered",
				slog.String("scope", req.Scope),
				slog.String("source_id", req.SourceID))
			return Verdict{Duplicate: true, Nearest: g.registered(ctx, req)}, nil
		}
		return verdict, fmt.Errorf("similarity gate: register embedding: %w", err)
	}
	verdict.Registered = record
	return verdict, nil
}

// registered returns the stored record of req.SourceID as an exact match.
func (g *Gate) registered(ctx context.Context, req Request) *Match {
	match := &Match{SourceID: req.SourceID, Text: req.Text, Similarity: 1}
	stored, err := g.records.ListByScope(ctx, req.Scope)
	if err != nil {
		return match
	}
	for _, rec := range stored {
		if rec.SourceID == req.SourceID {
			match.RecordID = rec.ID
			match.Text = rec.Text
			break
		}
	}
	return match
}

// Forget deletes the embeddings of a source that no longer exists.
func (g *Gate) Forget(ctx context.Context, scope, sourceID string) (int, error) {
	n, err := g.records.DeleteBySource(ctx, scope, sourceID)
	if err != nil {
		return 0, fmt.Errorf("similarity gate: forget %q: %w", sourceID, err)
	}
	return n, nil
}

func (g *Gate) evaluate(ctx context.Context, req Request) (Verdict, []float32, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Verdict{}, nil, fmt.Errorf("similarity gate: candidate text is empty")
	}
	if req.Scope == "" {
		return Verdict{}, nil, fmt.Errorf("similarity gate: scope is required")
	}

	dims := g.embedder.Dimensions()
	vec, err := g.embedder.Embed(ctx, req.Text, generation.EmbeddingTaskSimilarity)
	if err != nil {
		telemetry.GateDecisions.WithLabelValues(telemetry.OutcomeError).Inc()
		return Verdict{}, nil, fmt.Errorf("similarity gate: embed candidate: %w", err)
	}
	if len(vec) != dims {
		telemetry.GateDecisions.WithLabelValues(telemetry.OutcomeError).Inc()
		return Verdict{}, nil, fmt.Errorf("similarity gate: %w: candidate has %d values, want %d",
			generation.ErrDimensionMismatch, len(vec), dims)
	}

	// A zero vector has similarity 0 to everything, so it can never be a duplicate.
	if IsZero(vec) {
		telemetry.GateDecisions.WithLabelValues(telemetry.OutcomeAccepted).Inc()
		return Verdict{Degraded: true}, vec, nil
	}

	stored, err := g.records.ListByScope(ctx, req.Scope)
	if err != nil {
		telemetry.GateDecisions.WithLabelValues(telemetry.OutcomeError).Inc()
		return Verdict{}, nil, fmt.Errorf("similarity gate: load scope %q: %w", req.Scope, err)
	}

	var nearest *Match
	for _, rec := range stored {
		if req.ExcludeSourceID != "" && rec.SourceID == req.ExcludeSourceID {
			continue
		}
		if len(rec.Vector) != dims {
			g.logger.WarnContext(ctx, "skipping stored embedding with wrong dimensionality",
				slog.Int64("record_id", rec.ID),
				slog.Int("dimensions", len(rec.Vector)),
				slog.Int("expected", dims))
			continue
		}
		sim := Cosine(vec, rec.Vector)
		if nearest == nil || sim > nearest.Similarity {
			nearest = &Match{RecordID: rec.ID, SourceID: rec.SourceID, Text: rec.Text, Similarity: sim}
		}
	}

	verdict := Verdict{Nearest: nearest}
	if nearest != nil && nearest.Similarity > req.Threshold {
		verdict.Duplicate = true
		telemetry.GateDecisions.WithLabelValues(telemetry.OutcomeRejected).Inc()
		g.logger.InfoContext(ctx, "candidate rejected as duplicate",
			slog.String("scope", req.Scope),
			slog.String("nearest_source_id", nearest.SourceID),
			slog.Float64("similarity", nearest.Similarity),
			slog.Float64("threshold", req.Threshold))
		return verdict, vec, nil
	}

	telemetry.GateDecisions.WithLabelValues(telemetry.OutcomeAccepted).Inc()
	return verdict, vec, nil
}
