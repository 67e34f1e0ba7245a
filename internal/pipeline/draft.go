package pipeline

import (
	"context"
	"strings"

	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/generation"
)

// DraftProcessor consumes leased outline tasks and expands each into a draft.
type DraftProcessor struct {
	base
}

var _ Processor = (*DraftProcessor)(nil)

// NewDraftProcessor creates the draft stage.
func NewDraftProcessor(deps Deps, settings Settings) *DraftProcessor {
	return &DraftProcessor{base: newBase(deps, settings, "draft_processor")}
}

// Stage implements Processor.
func (p *DraftProcessor) Stage() domain.TaskType { return domain.TaskTypeOutline }

// Process implements Processor.
func (p *DraftProcessor) Process(ctx context.Context, task *domain.PipelineTask) error {
	outline, err := task.Outline()
	if err != nil {
		return p.fail(ctx, task, err)
	}

	prompt, err := renderPrompt("draft.tmpl", draftPromptData{
		Outline:  outline,
		Context:  p.retrieveContext(ctx, outline.Title+" "+outline.SEO.PrimaryKeyword),
		MinWords: p.settings.MinDraftWords,
	})
	if err != nil {
		return p.fail(ctx, task, err)
	}

	text, err := p.generate(ctx, "draft_generation", p.settings.Agents.Draft, prompt, false)
	if err != nil {
		return p.fail(ctx, task, err)
	}
	content := strings.TrimSpace(text)
	words := generation.WordCount(content)
	if words == 0 {
		return p.fail(ctx, task, domain.NewValidationError(domain.TaskTypeDraft, "Content", "model returned no prose"))
	}

	draft := domain.DraftPayload{
		OutlineTaskID:   task.ID,
		Outline:         outline,
		Title:           outline.Title,
		Content:         content,
		WordCount:       words,
		PrimaryKeyword:  outline.SEO.PrimaryKeyword,
		MetaDescription: outline.SEO.MetaDescription,
		Audience:        outline.Audience,
	}
	if err := draft.Validate(); err != nil {
		return p.fail(ctx, task, err)
	}

	_, err = p.advance(ctx, task, domain.TaskTypeDraft, draft)
	return err
}
