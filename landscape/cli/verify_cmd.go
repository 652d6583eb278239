package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newVerifyCmd(runner Runner, logger *slog.Logger) *cobra.Command {
	var sourceRunID string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "replay a prior run's calls live and report every divergence found",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sourceRunID == "" {
				return &ConfigError{Err: fmt.Errorf("verify: --source-run-id is required")}
			}
			ctx := cmd.Context()
			divergences, err := runner.Verify(ctx, sourceRunID, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("verify %s: %w", sourceRunID, err)
			}

			out := cmd.OutOrStdout()
			for _, d := range divergences {
				printf(out, "divergence: call_type=%s request_hash=%s recorded_status=%s actual_status=%s recorded_hash=%s actual_hash=%s\n",
					d.CallType, d.RequestHash, d.RecordedStatus, d.ActualStatus, d.RecordedHash, d.ActualHash)
			}
			logger.Info("verify completed", "source_run_id", sourceRunID, "divergences", len(divergences))

			if len(divergences) > 0 {
				return fmt.Errorf("verify %s: found %d divergence(s)", sourceRunID, len(divergences))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceRunID, "source-run-id", "", "run id to verify against")
	return cmd
}
