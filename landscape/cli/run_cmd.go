package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newRunCmd(runner Runner, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start a new live run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID, err := runner.Run(ctx, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			logger.Info("run started", "run_id", runID)
			printf(cmd.OutOrStdout(), "run_id: %s\n", runID)
			return nil
		},
	}
}
