package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/phrazzld/quill/internal/config"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/pipeline"
	"github.com/phrazzld/quill/internal/platform/gemini"
	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/phrazzld/quill/internal/platform/memory"
	"github.com/phrazzld/quill/internal/platform/postgres"
	platformretrieval "github.com/phrazzld/quill/internal/platform/retrieval"
	"github.com/phrazzld/quill/internal/redact"
	"github.com/phrazzld/quill/internal/retrieval"
	"github.com/phrazzld/quill/internal/scheduler"
	"github.com/phrazzld/quill/internal/similarity"
	"github.com/phrazzld/quill/internal/store"
)

// modelClients returns the text generator and embedder. Tests replace it.
var modelClients = func(ctx context.Context, log *slog.Logger, cfg config.LLMConfig) (generation.Generator, generation.Embedder, error) {
	client, err := gemini.NewClient(ctx, log, cfg)
	if err != nil {
		return nil, nil, err
	}
	return client.Generator(), client.Embedder(), nil
}

// app holds the stores one command invocation works against.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *sql.DB
	tasks      store.TaskStore
	embeddings store.EmbeddingStore
	rejections store.RejectionLog
}

// newApp builds the logger and opens the configured stores.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	log, err := logger.New(logOut, cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, logger: log}

	switch cfg.Database.Driver {
	case "memory":
		log.WarnContext(ctx, "using in-memory stores; nothing will be persisted")
		a.tasks = memory.NewTaskStore()
		a.embeddings = memory.NewEmbeddingStore()
		a.rejections = memory.NewRejectionLog()
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, errors.New(redact.Error(err))
		}
		a.db = db
		a.tasks = postgres.NewTaskStore(db, log)
		a.embeddings = postgres.NewEmbeddingStore(db, log)
		a.rejections = postgres.NewRejectionLog(db, log)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	return a, nil
}

// Close releases the database connection, if any.
func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}

// pipelineSet is the fully wired pipeline.
type pipelineSet struct {
	ideas     *pipeline.IdeaGenerator
	scheduler *scheduler.Scheduler
}

// buildPipeline connects the model and retrieval clients and wires the
// stage processors into a scheduler.
func (a *app) buildPipeline(ctx context.Context) (*pipelineSet, error) {
	generator, embedder, err := modelClients(ctx, a.logger, a.cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}

	var searcher retrieval.Searcher
	if a.cfg.Retrieval.BaseURL != "" {
		client, err := platformretrieval.NewClient(a.cfg.Retrieval.BaseURL, a.cfg.Retrieval.Timeout, a.logger)
		if err != nil {
			return nil, fmt.Errorf("retrieval client: %w", err)
		}
		searcher = client
	} else {
		a.logger.InfoContext(ctx, "no retrieval endpoint configured; stages run without context")
	}

	settings := pipeline.SettingsFromConfig(a.cfg)
	deps := pipeline.Deps{
		Tasks:     a.tasks,
		Generator: generator,
		Context:   retrieval.NewAggregator(searcher, a.logger),
		Logger:    a.logger,
	}
	gate := similarity.NewGate(embedder, a.embeddings, a.logger)
	ideas := pipeline.NewIdeaGenerator(deps, gate, a.rejections, settings)

	stages := scheduler.StagesFromConfig(a.cfg.Pipeline,
		pipeline.NewOutlineProcessor(deps, settings),
		pipeline.NewDraftProcessor(deps, settings),
		pipeline.NewReviewProcessor(deps, settings))
	sched, err := scheduler.New(a.tasks, stages, scheduler.Options{
		Concurrency: a.cfg.Pipeline.Concurrency,
		Schedule:    a.cfg.Pipeline.Schedule,
		Themes:      a.cfg.Pipeline.IdeaThemes,
		Ideas:       ideas,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	return &pipelineSet{ideas: ideas, scheduler: sched}, nil
}

// withApp loads config for cmd, opens the stores and runs fn.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// withPipeline is withApp plus the wired pipeline.
func withPipeline(cmd *cobra.Command, fn func(a *app, p *pipelineSet) error) error {
	return withApp(cmd, func(a *app) error {
		p, err := a.buildPipeline(cmd.Context())
		if err != nil {
			return err
		}
		return fn(a, p)
	})
}
