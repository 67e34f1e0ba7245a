package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/similarity"
	"github.com/phrazzld/quill/internal/store"
)

// ErrDuplicateIdea is returned by AddIdea when the gate rejects the idea.
var ErrDuplicateIdea = errors.New("idea duplicates an existing idea")

// IdeaRequest triggers idea generation.
type IdeaRequest struct {
	// Focus is a free-text theme or an upstream entity id used as the retrieval query.
	Focus    string
	Audience string
	// Count overrides the configured number of ideas requested from the model.
	Count    int
	Priority int
}

// Rejected describes a candidate the idea stage skipped.
type Rejected struct {
	Title      string
	Reason     string
	NearestID  string
	Similarity float64
}

// IdeaResult summarizes one generation request.
type IdeaResult struct {
	Created  []*domain.PipelineTask
	Rejected []Rejected
}

// IdeaGenerator is the idea stage. It creates pending idea tasks from a
// focus and audience, passing every candidate title through the gate.
type IdeaGenerator struct {
	base
	gate       *similarity.Gate
	rejections store.RejectionLog
}

// NewIdeaGenerator creates the idea stage. rejections may be nil.
func NewIdeaGenerator(deps Deps, gate *similarity.Gate, rejections store.RejectionLog, settings Settings) *IdeaGenerator {
	return &IdeaGenerator{
		base:       newBase(deps, settings, "idea_generator"),
		gate:       gate,
		rejections: rejections,
	}
}

type ideaCandidate struct {
	Title    string   `json:"title"`
	Angle    string   `json:"angle"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// Generate asks the model for ideas and creates a pending task for every
// candidate that is valid and not a duplicate. Duplicates are skipped, not errors.
func (g *IdeaGenerator) Generate(ctx context.Context, req IdeaRequest) (*IdeaResult, error) {
	focus := strings.TrimSpace(req.Focus)
	audience := strings.TrimSpace(req.Audience)
	if focus == "" {
		return nil, domain.NewValidationError(domain.TaskTypeIdea, "Focus", "is required")
	}
	if audience == "" {
		return nil, domain.NewValidationError(domain.TaskTypeIdea, "Audience", "is required")
	}
	count := req.Count
	if count <= 0 {
		count = g.settings.IdeasPerRequest
	}

	log := g.log(ctx).With(slog.String("focus", focus), slog.String("audience", audience))

	known, err := g.tasks.RecentTitles(ctx, domain.TaskTypeIdea, g.settings.KnownTitlesWindow)
	if err != nil {
		return nil, fmt.Errorf("load known titles: %w", err)
	}

	prompt, err := renderPrompt("idea.tmpl", ideaPromptData{
		Focus:       focus,
		Audience:    audience,
		Count:       count,
		Context:     g.retrieveContext(ctx, focus),
		KnownTitles: known,
	})
	if err != nil {
		return nil, err
	}

	text, err := g.generate(ctx, "idea_generation", g.settings.Agents.Idea, prompt, true)
	if err != nil {
		return nil, err
	}
	candidates, err := decodeIdeaCandidates(text)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(known)+len(candidates))
	for _, title := range known {
		seen[normalizeTitle(title)] = struct{}{}
	}

	result := &IdeaResult{}
	for _, c := range candidates {
		payload := domain.IdeaPayload{
			Title:    strings.TrimSpace(c.Title),
			Audience: audience,
			Angle:    strings.TrimSpace(c.Angle),
			Summary:  strings.TrimSpace(c.Summary),
			Keywords: cleanKeywords(c.Keywords),
			Focus:    focus,
			Source:   "model",
		}
		if err := payload.Validate(); err != nil {
			log.WarnContext(ctx, "discarding invalid idea candidate",
				slog.String("title", payload.Title),
				slog.String("error", err.Error()))
			result.Rejected = append(result.Rejected, Rejected{Title: payload.Title, Reason: err.Error()})
			continue
		}

		key := normalizeTitle(payload.Title)
		if _, dup := seen[key]; dup {
			log.InfoContext(ctx, "skipping idea with a known title", slog.String("title", payload.Title))
			result.Rejected = append(result.Rejected, Rejected{
				Title: payload.Title, Reason: "title already known", NearestID: key, Similarity: 1,
			})
			g.recordRejection(ctx, payload.Title, key, 1, g.settings.DuplicateThreshold)
			continue
		}
		seen[key] = struct{}{}

		task, rejected, err := g.admit(ctx, payload, req.Priority, g.settings.DuplicateThreshold)
		if err != nil {
			return result, err
		}
		if rejected != nil {
			result.Rejected = append(result.Rejected, *rejected)
			continue
		}
		result.Created = append(result.Created, task)
	}

	log.InfoContext(ctx, "idea generation finished",
		slog.Int("candidates", len(candidates)),
		slog.Int("created", len(result.Created)),
		slog.Int("rejected", len(result.Rejected)))
	return result, nil
}

// AddIdea submits a hand-written idea through the gate at the duplicate threshold.
func (g *IdeaGenerator) AddIdea(ctx context.Context, payload domain.IdeaPayload, priority int) (*domain.PipelineTask, error) {
	payload.Title = strings.TrimSpace(payload.Title)
	payload.Audience = strings.TrimSpace(payload.Audience)
	payload.Source = "manual"
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	task, rejected, err := g.admit(ctx, payload, priority, g.settings.DuplicateThreshold)
	if err != nil {
		return nil, err
	}
	if rejected != nil {
		return nil, fmt.Errorf("%w: %q is %.2f similar to %q",
			ErrDuplicateIdea, payload.Title, rejected.Similarity, rejected.NearestID)
	}
	return task, nil
}

// CheckIdea reports how close title is to existing ideas at the warn
// threshold without registering anything.
func (g *IdeaGenerator) CheckIdea(ctx context.Context, title string) (similarity.Verdict, error) {
	return g.gate.Check(ctx, similarity.Request{
		Text:      strings.TrimSpace(title),
		Scope:     IdeaTitleScope,
		Threshold: g.settings.WarnThreshold,
	})
}

// admit runs the gate and creates the task. A non-nil Rejected means the
// gate refused the idea and nothing was created.
func (g *IdeaGenerator) admit(ctx context.Context, payload domain.IdeaPayload, priority int, threshold float64) (*domain.PipelineTask, *Rejected, error) {
	sourceID := normalizeTitle(payload.Title)
	verdict, err := g.gate.CheckAndRegister(ctx, similarity.Request{
		Text:      payload.Title,
		Scope:     IdeaTitleScope,
		SourceID:  sourceID,
		Threshold: threshold,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("check idea %q: %w", payload.Title, err)
	}
	if verdict.Duplicate {
		rej := &Rejected{Title: payload.Title, Reason: "similar to an existing idea"}
		if verdict.Nearest != nil {
			rej.NearestID = verdict.Nearest.SourceID
			rej.Similarity = verdict.Nearest.Similarity
		}
		g.recordRejection(ctx, payload.Title, rej.NearestID, rej.Similarity, threshold)
		return nil, rej, nil
	}

	task, err := g.tasks.CreateTask(ctx, domain.NewTaskSpec{
		Type:     domain.TaskTypeIdea,
		Payload:  payload,
		Priority: priority,
	})
	if err != nil {
		if verdict.Registered != nil {
			if _, ferr := g.gate.Forget(ctx, IdeaTitleScope, sourceID); ferr != nil {
				g.log(ctx).WarnContext(ctx, "could not remove embedding of uncreated idea",
					slog.String("source_id", sourceID),
					slog.String("error", ferr.Error()))
			}
		}
		return nil, nil, fmt.Errorf("create idea %q: %w", payload.Title, err)
	}
	g.log(ctx).InfoContext(ctx, "idea created",
		slog.Int64("task_id", task.ID),
		slog.String("title", payload.Title),
		slog.Bool("embedding_degraded", verdict.Degraded))
	return task, nil, nil
}

func (g *IdeaGenerator) recordRejection(ctx context.Context, title, nearest string, sim, threshold float64) {
	if g.rejections == nil {
		return
	}
	err := g.rejections.Record(ctx, &domain.Rejection{
		Scope:           IdeaTitleScope,
		CandidateText:   title,
		NearestSourceID: nearest,
		Similarity:      sim,
		Threshold:       threshold,
	})
	if err != nil {
		g.log(ctx).WarnContext(ctx, "could not record rejection",
			slog.String("title", title),
			slog.String("error", err.Error()))
	}
}

// decodeIdeaCandidates accepts a bare JSON array or an object wrapping it
// under "ideas".
func decodeIdeaCandidates(text string) ([]ideaCandidate, error) {
	raw, err := generation.ExtractJSON(text)
	if err != nil {
		return nil, domain.NewValidationError(domain.TaskTypeIdea, "", err.Error())
	}
	var list []ideaCandidate
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Ideas []ideaCandidate `json:"ideas"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err != nil || wrapped.Ideas == nil {
		return nil, domain.NewValidationError(domain.TaskTypeIdea, "", "model response is not a JSON array of ideas")
	}
	return wrapped.Ideas, nil
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

func cleanKeywords(in []string) []string {
	var out []string
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
