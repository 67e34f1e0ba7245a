// Package scheduler advances the pipeline: each run leases a bounded batch of
// pending tasks per stage and hands every leased task to that stage's processor.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/quill/internal/config"
	"github.com/phrazzld/quill/internal/domain"
	"github.com/phrazzld/quill/internal/pipeline"
	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/phrazzld/quill/internal/store"
	"github.com/phrazzld/quill/internal/telemetry"
)

// ErrRunInProgress is returned when RunOnce is called while a run is active.
var ErrRunInProgress = errors.New("scheduler run already in progress")

// Stage pairs a processor with the number of tasks it may lease per run.
type Stage struct {
	Processor pipeline.Processor
	BatchSize int
}

// Report is the outcome of one RunOnce. Maps are keyed by the consumed stage.
type Report struct {
	RunID      string                  `json:"run_id"`
	Processed  map[domain.TaskType]int `json:"processed"`
	Succeeded  map[domain.TaskType]int `json:"succeeded"`
	Failed     map[domain.TaskType]int `json:"failed"`
	Errors     []string                `json:"errors"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
}

func newReport(runID string, started time.Time) *Report {
	return &Report{
		RunID:     runID,
		Processed: make(map[domain.TaskType]int),
		Succeeded: make(map[domain.TaskType]int),
		Failed:    make(map[domain.TaskType]int),
		Errors:    []string{},
		StartedAt: started,
	}
}

// IdeaSource generates ideas for a theme.
type IdeaSource interface {
	Generate(ctx context.Context, req pipeline.IdeaRequest) (*pipeline.IdeaResult, error)
}

// Options configures a Scheduler.
type Options struct {
	// Concurrency bounds how many tasks of one batch are processed at once.
	Concurrency int
	// Schedule is the cron spec used by Serve, e.g. "@every 15m" or "0 * * * *".
	Schedule string
	// Themes are run through Ideas on every Serve tick before RunOnce.
	Themes []config.IdeaTheme
	Ideas  IdeaSource
}

// Scheduler is the stage scheduler.
type Scheduler struct {
	tasks   store.TaskStore
	stages  []Stage
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	running sync.Mutex
	now     func() time.Time
}

// New creates a scheduler. Stages are run in pipeline order regardless of
// the order given; each stage type may appear once.
func New(tasks store.TaskStore, stages []Stage, opts Options, log *slog.Logger) (*Scheduler, error) {
	if tasks == nil {
		return nil, errors.New("scheduler: task store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	seen := make(map[domain.TaskType]bool, len(stages))
	ordered := make([]Stage, 0, len(stages))
	for _, s := range stages {
		if s.Processor == nil {
			return nil, errors.New("scheduler: stage processor is required")
		}
		st := s.Processor.Stage()
		if !st.Valid() {
			return nil, fmt.Errorf("scheduler: %w: %q", domain.ErrInvalidTaskType, st)
		}
		if seen[st] {
			return nil, fmt.Errorf("scheduler: stage %s registered twice", st)
		}
		if s.BatchSize <= 0 {
			return nil, fmt.Errorf("scheduler: stage %s needs a positive batch size", st)
		}
		seen[st] = true
		ordered = append(ordered, s)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Processor.Stage().Index() < ordered[j].Processor.Stage().Index()
	})

	return &Scheduler{
		tasks:  tasks,
		stages: ordered,
		opts:   opts,
		logger: log.With(slog.String("component", "scheduler")),
		tracer: telemetry.Tracer(),
		now:    time.Now,
	}, nil
}

// StagesFromConfig builds the standard idea, outline and draft stages with
// the configured batch sizes.
func StagesFromConfig(cfg config.PipelineConfig, outline, draft, review pipeline.Processor) []Stage {
	return []Stage{
		{Processor: outline, BatchSize: cfg.IdeaBatchSize},
		{Processor: draft, BatchSize: cfg.OutlineBatchSize},
		{Processor: review, BatchSize: cfg.DraftBatchSize},
	}
}

// RunOnce processes one bounded batch per stage, in stage order. Every
// stage's batch is leased before any task is processed, so a task created
// by this run is left pending for the next one: a single run advances any
// piece of content by at most one stage.
//
// Per-task and per-stage failures are recorded in the report and never abort
// the run. Cancelling ctx stops further leasing but not the processing of
// tasks already leased. The returned error is ErrRunInProgress or the
// context's error.
func (s *Scheduler) RunOnce(ctx context.Context) (*Report, error) {
	if !s.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.running.Unlock()

	started := s.now()
	runID := uuid.NewString()
	report := newReport(runID, started.UTC())
	ctx = logger.WithAttrs(ctx, slog.String("run_id", runID))

	ctx, span := s.tracer.Start(ctx, "scheduler.run_once", trace.WithAttributes(attribute.String("quill.run_id", runID)))
	defer span.End()

	s.logger.InfoContext(ctx, "scheduler run started", slog.Int("stages", len(s.stages)))

	batches := make([][]*domain.PipelineTask, len(s.stages))
	for i, stage := range s.stages {
		if err := ctx.Err(); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("run cancelled before leasing %s: %v", stage.Processor.Stage(), err))
			break
		}
		batches[i] = s.lease(ctx, stage, report)
	}
	// A leased task runs to completed or failed even if ctx is cancelled
	// meanwhile; per-call timeouts bound the work.
	work := context.WithoutCancel(ctx)
	for i, stage := range s.stages {
		s.process(work, stage, batches[i], report)
	}

	report.FinishedAt = s.now().UTC()
	telemetry.SchedulerRunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	span.SetAttributes(attribute.Int("quill.errors", len(report.Errors)))
	if len(report.Errors) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d error(s)", len(report.Errors)))
	}

	s.logger.InfoContext(ctx, "scheduler run finished",
		slog.Any("processed", report.Processed),
		slog.Any("failed", report.Failed),
		slog.Int("errors", len(report.Errors)),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))

	return report, ctx.Err()
}

func (s *Scheduler) lease(ctx context.Context, stage Stage, report *Report) []*domain.PipelineTask {
	stageType := stage.Processor.Stage()
	ctx, span := s.tracer.Start(ctx, "scheduler.lease", trace.WithAttributes(
		attribute.String("quill.stage", string(stageType)),
		attribute.Int("quill.batch_size", stage.BatchSize),
	))
	defer span.End()

	leased, err := s.tasks.LeaseNextBatch(ctx, stageType, stage.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lease failed")
		report.Errors = append(report.Errors, fmt.Sprintf("lease %s batch: %v", stageType, err))
		s.logger.ErrorContext(ctx, "could not lease batch",
			slog.String("stage", string(stageType)),
			slog.String("error", err.Error()))
		return nil
	}
	span.SetAttributes(attribute.Int("quill.leased", len(leased)))
	if len(leased) > 0 {
		s.logger.DebugContext(ctx, "leased batch",
			slog.String("stage", string(stageType)),
			slog.Int("tasks", len(leased)))
	}
	return leased
}

func (s *Scheduler) process(ctx context.Context, stage Stage, leased []*domain.PipelineTask, report *Report) {
	if len(leased) == 0 {
		return
	}
	stageType := stage.Processor.Stage()
	ctx, span := s.tracer.Start(ctx, "scheduler.stage", trace.WithAttributes(
		attribute.String("quill.stage", string(stageType)),
		attribute.Int("quill.tasks", len(leased)),
	))
	defer span.End()

	var mu sync.Mutex
	// Failures are collected, not propagated, so no task cancels its siblings.
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for _, task := range leased {
		g.Go(func() error {
			err := s.processTask(ctx, stage.Processor, task)

			mu.Lock()
			defer mu.Unlock()
			report.Processed[stageType]++
			if err != nil {
				report.Failed[stageType]++
				report.Errors = append(report.Errors, err.Error())
				telemetry.SchedulerTasks.WithLabelValues(string(stageType), telemetry.OutcomeFailed).Inc()
				return nil
			}
			report.Succeeded[stageType]++
			telemetry.SchedulerTasks.WithLabelValues(string(stageType), telemetry.OutcomeSucceeded).Inc()
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) processTask(ctx context.Context, proc pipeline.Processor, task *domain.PipelineTask) (err error) {
	ctx = logger.WithAttrs(ctx,
		slog.Int64("task_id", task.ID),
		slog.String("task_type", string(task.Type)))
	ctx, span := s.tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.Int64("quill.task_id", task.ID),
		attribute.String("quill.task_type", string(task.Type)),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s task %d: panic: %v", task.Type, task.ID, r)
			s.logger.ErrorContext(ctx, "processor panicked", slog.Any("panic", r))
			if ferr := s.tasks.Fail(ctx, task.ID, err.Error()); ferr != nil {
				err = errors.Join(err, ferr)
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "task failed")
		}
	}()

	return proc.Process(ctx, task)
}

// RunIdeaThemes runs every configured theme through the idea stage. It
// returns the number of ideas created and one message per failed theme.
func (s *Scheduler) RunIdeaThemes(ctx context.Context) (int, []string) {
	if s.opts.Ideas == nil || len(s.opts.Themes) == 0 {
		return 0, nil
	}
	ctx, span := s.tracer.Start(ctx, "scheduler.idea_themes")
	defer span.End()

	created := 0
	var errs []string
	for _, theme := range s.opts.Themes {
		res, err := s.opts.Ideas.Generate(ctx, pipeline.IdeaRequest{
			Focus:    theme.Focus,
			Audience: theme.Audience,
			Count:    theme.Count,
		})
		if res != nil {
			created += len(res.Created)
		}
		if err != nil {
			msg := fmt.Sprintf("idea theme %q: %v", theme.Focus, err)
			errs = append(errs, msg)
			s.logger.ErrorContext(ctx, "idea theme failed",
				slog.String("focus", theme.Focus),
				slog.String("error", err.Error()))
		}
	}
	span.SetAttributes(attribute.Int("quill.ideas_created", created))
	return created, errs
}
