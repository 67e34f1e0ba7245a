package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/generation"
)

// ReviewProcessor consumes leased draft tasks. A draft that still matches
// the outline it was derived from and meets the word minimum is completed
// and becomes ready for external publishing.
type ReviewProcessor struct {
	base
}

var _ Processor = (*ReviewProcessor)(nil)

// NewReviewProcessor creates the review stage.
func NewReviewProcessor(deps Deps, settings Settings) *ReviewProcessor {
	return &ReviewProcessor{base: newBase(deps, settings, "review_processor")}
}

// Stage implements Processor.
func (p *ReviewProcessor) Stage() domain.TaskType { return domain.TaskTypeDraft }

// Process implements Processor.
func (p *ReviewProcessor) Process(ctx context.Context, task *domain.PipelineTask) error {
	draft, err := task.Draft()
	if err != nil {
		return p.fail(ctx, task, err)
	}
	if err := p.review(ctx, task, draft); err != nil {
		return p.fail(ctx, task, err)
	}
	if err := p.tasks.Complete(ctx, task.ID, nil); err != nil {
		return fmt.Errorf("complete draft task %d: %w", task.ID, err)
	}
	p.log(ctx).InfoContext(ctx, "draft approved",
		slog.Int64("task_id", task.ID),
		slog.Int("word_count", draft.WordCount))
	return nil
}

func (p *ReviewProcessor) review(ctx context.Context, task *domain.PipelineTask, draft domain.DraftPayload) error {
	if task.RelatedTaskID == nil || *task.RelatedTaskID != draft.OutlineTaskID {
		return domain.NewValidationError(domain.TaskTypeDraft, "OutlineTaskID", "does not match the producing task")
	}

	source, err := p.tasks.FindByID(ctx, draft.OutlineTaskID)
	if err != nil {
		return fmt.Errorf("load outline task %d: %w", draft.OutlineTaskID, err)
	}
	outline, err := source.Outline()
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(outline, draft.Outline) {
		return domain.NewValidationError(domain.TaskTypeDraft, "Outline", "differs from the outline it was derived from")
	}

	if words := generation.WordCount(draft.Content); words < p.settings.MinDraftWords {
		return domain.NewValidationError(domain.TaskTypeDraft, "Content",
			fmt.Sprintf("has %d words, need at least %d", words, p.settings.MinDraftWords))
	}
	return nil
}
