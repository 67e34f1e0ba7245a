package pipeline

import (
	"context"
	"strings"

	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/generation"
)

// OutlineProcessor consumes leased idea tasks and creates one outline task per idea.
type OutlineProcessor struct {
	base
}

var _ Processor = (*OutlineProcessor)(nil)

// NewOutlineProcessor creates the outline stage.
func NewOutlineProcessor(deps Deps, settings Settings) *OutlineProcessor {
	return &OutlineProcessor{base: newBase(deps, settings, "outline_processor")}
}

// Stage implements Processor.
func (p *OutlineProcessor) Stage() domain.TaskType { return domain.TaskTypeIdea }

// Process implements Processor.
func (p *OutlineProcessor) Process(ctx context.Context, task *domain.PipelineTask) error {
	idea, err := task.Idea()
	if err != nil {
		return p.fail(ctx, task, err)
	}

	prompt, err := renderPrompt("outline.tmpl", outlinePromptData{
		Idea:    idea,
		Context: p.retrieveContext(ctx, outlineQuery(idea)),
	})
	if err != nil {
		return p.fail(ctx, task, err)
	}

	text, err := p.generate(ctx, "outline_generation", p.settings.Agents.Outline, prompt, true)
	if err != nil {
		return p.fail(ctx, task, err)
	}

	var outline domain.OutlinePayload
	if err := generation.DecodeJSON(text, &outline); err != nil {
		return p.fail(ctx, task, domain.NewValidationError(domain.TaskTypeOutline, "", err.Error()))
	}
	if strings.TrimSpace(outline.Title) == "" {
		outline.Title = idea.Title
	}
	if strings.TrimSpace(outline.Audience) == "" {
		outline.Audience = idea.Audience
	}
	if err := outline.Validate(); err != nil {
		return p.fail(ctx, task, err)
	}

	_, err = p.advance(ctx, task, domain.TaskTypeOutline, outline)
	return err
}

func outlineQuery(idea domain.IdeaPayload) string {
	parts := []string{idea.Title}
	if idea.Angle != "" {
		parts = append(parts, idea.Angle)
	}
	parts = append(parts, idea.Keywords...)
	return strings.Join(parts, " ")
}
