package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newResumeCmd(runner Runner, logger *slog.Logger) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "continue a run from its latest checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return &ConfigError{Err: fmt.Errorf("resume: --run-id is required")}
			}
			ctx := cmd.Context()
			if err := runner.Resume(ctx, runID, cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("resume %s: %w", runID, err)
			}
			logger.Info("run resumed", "run_id", runID)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id to resume")
	return cmd
}
