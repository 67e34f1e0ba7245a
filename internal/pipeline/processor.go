package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/quill/internal/config"
	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/phrazzld/quill/internal/retrieval"
	"github.com/phrazzld/quill/internal/retry"
	"github.com/phrazzld/quill/internal/store"
	"github.com/phrazzld/quill/internal/telemetry"
)

// Processor consumes one leased task of Stage().
//
// Process returns nil when the task was completed. Any other outcome returns
// an error; when the failure could be recorded the task is failed, otherwise
// it stays in whatever state the store left it.
type Processor interface {
	Stage() domain.TaskType
	Process(ctx context.Context, task *domain.PipelineTask) error
}

// Deps are the collaborators shared by all processors.
type Deps struct {
	Tasks     store.TaskStore
	Generator generation.Generator
	Context   *retrieval.Aggregator
	Logger    *slog.Logger
}

// base carries what every processor needs to call models and record outcomes.
type base struct {
	tasks     store.TaskStore
	generator generation.Generator
	context   *retrieval.Aggregator
	logger    *slog.Logger
	component string
	settings  Settings
}

func newBase(deps Deps, settings Settings, component string) base {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	agg := deps.Context
	if agg == nil {
		agg = retrieval.NewAggregator(nil, log)
	}
	return base{
		tasks:     deps.Tasks,
		generator: deps.Generator,
		context:   agg,
		logger:    log.With(slog.String("component", component)),
		component: component,
		settings:  settings,
	}
}

// log prefers a logger carried in ctx, e.g. one tagged with a scheduler run id.
func (b *base) log(ctx context.Context) *slog.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l.With(slog.String("component", b.component))
	}
	return b.logger
}

// retryable excludes validation failures and permanent model errors.
func retryable(err error) bool {
	return !domain.IsValidationError(err) && generation.IsTransient(err)
}

func (b *base) retryConfig(ctx context.Context, operation string) retry.Config {
	cfg := b.settings.Retry
	cfg.IsRetryable = retryable
	cfg.OnRetry = func(attempt int, err error) {
		telemetry.RetryAttempts.WithLabelValues(operation).Inc()
		b.log(ctx).WarnContext(ctx, "external call failed, retrying",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
	return cfg
}

// generate calls the model for agent through the retry wrapper.
func (b *base) generate(ctx context.Context, operation string, agent config.AgentConfig, prompt string, wantJSON bool) (string, error) {
	res := retry.Execute(ctx, b.retryConfig(ctx, operation), func(ctx context.Context) (string, error) {
		resp, err := b.generator.Generate(ctx, generation.Request{
			Prompt:      prompt,
			Model:       agent.Model,
			Temperature: agent.Temperature,
			MaxTokens:   agent.MaxTokens,
			JSON:        wantJSON,
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
	text, err := res.Unwrap()
	if err != nil {
		return "", fmt.Errorf("%s failed after %d attempt(s): %w", operation, res.Attempts, err)
	}
	return text, nil
}

// retrieveContext fetches supporting context through the retry wrapper. The
// context is supplementary, so a retrieval outage degrades to an empty string.
func (b *base) retrieveContext(ctx context.Context, query string) string {
	res := retry.Execute(ctx, b.retryConfig(ctx, "retrieval"), func(ctx context.Context) (string, error) {
		return b.context.RetrieveContext(ctx, query, b.settings.TopK)
	})
	if !res.OK() {
		b.log(ctx).WarnContext(ctx, "retrieval unavailable, continuing without context",
			slog.String("query", query),
			slog.String("error", res.Err.Error()))
		return ""
	}
	return res.Value
}

// fail records cause on the task and returns the processing error.
func (b *base) fail(ctx context.Context, task *domain.PipelineTask, cause error) error {
	if err := b.tasks.Fail(ctx, task.ID, cause.Error()); err != nil {
		b.log(ctx).ErrorContext(ctx, "could not record task failure",
			slog.Int64("task_id", task.ID),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()))
		return errors.Join(fmt.Errorf("%s task %d: %w", task.Type, task.ID, cause), err)
	}
	b.log(ctx).WarnContext(ctx, "task failed",
		slog.Int64("task_id", task.ID),
		slog.String("task_type", string(task.Type)),
		slog.String("error", cause.Error()))
	return fmt.Errorf("%s task %d: %w", task.Type, task.ID, cause)
}

// advance creates the next stage's task for task and then completes task.
// Creation is idempotent per producing task, so re-running after a failed
// Complete never duplicates the downstream task. task must be in progress and
// of the stage that produces next.
func (b *base) advance(ctx context.Context, task *domain.PipelineTask, next domain.TaskType, payload domain.Payload) (*domain.PipelineTask, error) {
	if err := domain.CheckAdvance(task, next); err != nil {
		return nil, b.fail(ctx, task, err)
	}
	created, err := b.tasks.CreateTask(ctx, domain.NewTaskSpec{
		Type:          next,
		Payload:       payload,
		RelatedTaskID: domain.Int64Ptr(task.ID),
		ParentTaskID:  task.ParentTaskID,
		Priority:      task.Priority,
	})
	if err != nil {
		return nil, b.fail(ctx, task, fmt.Errorf("create %s task: %w", next, err))
	}
	if err := b.tasks.Complete(ctx, task.ID, nil); err != nil {
		return created, fmt.Errorf("complete %s task %d: %w", task.Type, task.ID, err)
	}
	b.log(ctx).InfoContext(ctx, "task advanced",
		slog.Int64("task_id", task.ID),
		slog.String("task_type", string(task.Type)),
		slog.Int64("created_task_id", created.ID),
		slog.String("created_task_type", string(next)))
	return created, nil
}
