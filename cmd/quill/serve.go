package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/quill/internal/api"
	"github.com/phrazzld/quill/internal/auth"
	"github.com/phrazzld/quill/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler on its cron schedule and serve the operator API",
		Long: `Serve runs configured idea themes and one scheduler pass on every cron
tick, exposes Prometheus metrics and, when api.jwt_secret is set, the
operator API. It stops cleanly on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().Int("concurrency", 1, "tasks of one batch processed at once")
	cmd.Flags().String("schedule", "@every 15m", "cron schedule for pipeline runs")
	cmd.Flags().String("api-addr", ":8080", "operator API listen address")
	cmd.Flags().String("metrics-addr", ":9090", "Prometheus metrics listen address; empty disables")
	cmd.Flags().String("otlp-endpoint", "", "OTLP HTTP endpoint for traces; empty disables tracing")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracer()

	p, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}

	var srv *http.Server
	if cfg.API.JWTSecret == "" {
		a.logger.WarnContext(ctx, "api.jwt_secret not set; operator API disabled")
	} else {
		tokens, err := auth.NewTokenService(cfg.API)
		if err != nil {
			return err
		}
		router, err := api.NewRouter(api.Dependencies{
			Tasks:      a.tasks,
			Rejections: a.rejections,
			Ideas:      p.ideas,
			Runner:     p.scheduler,
			Tokens:     tokens,
			Logger:     a.logger,
			Version:    version,
		})
		if err != nil {
			return err
		}
		srv = &http.Server{
			Addr:              cfg.API.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	telemetry.StartMetricsServer(ctx, cfg.Telemetry.MetricsAddr, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.scheduler.Serve(gctx)
	})
	if srv != nil {
		g.Go(func() error {
			return listenAndServe(gctx, srv, a.logger)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("quill stopped")
	return nil
}

// listenAndServe runs srv until ctx is cancelled, then shuts it down gracefully.
func listenAndServe(ctx context.Context, srv *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("operator API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("operator API: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("operator API shutdown: %w", err)
	}
	return nil
}
