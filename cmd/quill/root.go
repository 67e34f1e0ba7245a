package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/phrazzld/quill/internal/config"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

// flagBindings maps CLI flag names to config keys. A flag is bound only
// when the running command defines it.
var flagBindings = map[string]string{
	"log-level":     "log.level",
	"log-format":    "log.format",
	"db-driver":     "database.driver",
	"database-url":  "database.url",
	"concurrency":   "pipeline.concurrency",
	"schedule":      "pipeline.schedule",
	"api-addr":      "api.addr",
	"metrics-addr":  "telemetry.metrics_addr",
	"otlp-endpoint": "telemetry.otlp_endpoint",
}

// Execute builds the command tree and runs it with args, cancelling the
// context on SIGINT or SIGTERM.
func Execute(ctx context.Context, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "quill",
		Short: "Quill - staged content pipeline",
		Long: `Quill turns a topic focus into published-ready drafts through four stages:
idea, outline, draft and review. Each stage is a queue of tasks in the
task store; "quill run-once" advances every stage by one bounded batch and
"quill serve" does so on a cron schedule behind the operator API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file path (default: ./quill.yaml)")
	pf.String("log-level", "info", "log level: debug | info | warn | error")
	pf.String("log-format", "json", "log format: json | text")
	pf.String("db-driver", "postgres", "task store driver: postgres | memory")
	pf.String("database-url", "", "PostgreSQL URL (env QUILL_DATABASE_URL)")

	root.AddCommand(
		newRunOnceCmd(),
		newServeCmd(),
		newIdeasCmd(),
		newTasksCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads configuration for cmd, letting explicitly set flags
// override the environment and the config file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	fs := cmd.Flags()
	configFile, _ := fs.GetString("config")

	var opts []config.Option
	fs.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagBindings[f.Name]; ok {
			opts = append(opts, config.WithFlag(key, f))
		}
	})
	return config.Load(configFile, opts...)
}
