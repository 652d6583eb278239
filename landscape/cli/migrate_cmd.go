package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func newMigrateCmd(runner Runner, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply the audit store's schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runner.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info("migrate completed")
			printf(cmd.OutOrStdout(), "migrations applied\n")
			return nil
		},
	}
}
