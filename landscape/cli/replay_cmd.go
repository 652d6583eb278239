package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newReplayCmd(runner Runner, logger *slog.Logger) *cobra.Command {
	var sourceRunID string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "re-execute a prior run's recorded calls deterministically under a new run id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceRunID == "" {
				return &ConfigError{Err: fmt.Errorf("replay: --source-run-id is required")}
			}
			ctx := cmd.Context()
			runID, err := runner.Replay(ctx, sourceRunID, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("replay %s: %w", sourceRunID, err)
			}
			logger.Info("replay completed", "source_run_id", sourceRunID, "run_id", runID)
			printf(cmd.OutOrStdout(), "run_id: %s\n", runID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceRunID, "source-run-id", "", "run id to replay")
	return cmd
}
