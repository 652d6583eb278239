package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newValidateCmd(runner Runner, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "build the execution graph and report its shape and problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			graph, registry, err := runner.BuildGraph(ctx)
			if err != nil {
				return &ConfigError{Err: fmt.Errorf("build graph: %w", err)}
			}

			report := ValidateGraph(graph, registry)
			out := cmd.OutOrStdout()
			printf(out, "nodes: %d\n", report.NodeCount)
			printf(out, "edges: %d\n", report.EdgeCount)
			for _, p := range report.Problems {
				printf(out, "problem: %s\n", p)
			}

			logger.Info("validate", "nodes", report.NodeCount, "edges", report.EdgeCount, "problems", len(report.Problems))
			if !report.OK() {
				return &ConfigError{Err: fmt.Errorf("graph failed validation with %d problem(s)", len(report.Problems))}
			}
			return nil
		},
	}
}
