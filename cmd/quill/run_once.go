package main

import (
	"github.com/spf13/cobra"

	"github.com/phrazzld/quill/internal/telemetry"
)

func newRunOnceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-once",
		Short: "Advance every stage by one bounded batch and print the run report",
		Args:  cobra.NoArgs,
		RunE:  runRunOnce,
	}
	cmd.Flags().Int("concurrency", 1, "tasks of one batch processed at once")
	cmd.Flags().String("otlp-endpoint", "", "OTLP HTTP endpoint for traces; empty disables tracing")
	return cmd
}

func runRunOnce(cmd *cobra.Command, _ []string) error {
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
	report, err := p.scheduler.RunOnce(ctx)
	if report != nil {
		if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
			return perr
		}
	}
	return err
}
