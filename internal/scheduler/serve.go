package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Serve triggers a tick on Schedule until ctx is cancelled, then waits for
// the active tick to finish. A tick runs the idea themes and then RunOnce;
// ticks never overlap.
func (s *Scheduler) Serve(ctx context.Context) error {
	if s.opts.Schedule == "" {
		return errors.New("scheduler: schedule is required")
	}

	c := cron.New(cron.WithLogger(cronLogger{s.logger}), cron.WithChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	))
	if _, err := c.AddFunc(s.opts.Schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", s.opts.Schedule, err)
	}

	s.logger.InfoContext(ctx, "scheduler serving", slog.String("schedule", s.opts.Schedule))
	c.Start()
	<-ctx.Done()

	s.logger.InfoContext(context.Background(), "scheduler stopping")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	created, errs := s.RunIdeaThemes(ctx)
	if created > 0 || len(errs) > 0 {
		s.logger.InfoContext(ctx, "idea themes processed",
			slog.Int("created", created),
			slog.Int("errors", len(errs)))
	}
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.ErrorContext(ctx, "scheduler run failed", slog.String("error", err.Error()))
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
