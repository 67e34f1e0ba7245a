package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phrazzld/quill/internal/platform/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|reset|status|version]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "reset", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			return withApp(cmd, func(a *app) error {
				if a.db == nil {
					return fmt.Errorf("migrate requires the postgres driver, got %q", a.cfg.Database.Driver)
				}
				return postgres.Migrate(cmd.Context(), a.db, command, a.logger)
			})
		},
	}
}
