package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the `landscape` command tree: validate, run,
// resume, replay, verify, migrate. runner supplies everything concrete
// (graph construction, storage, plugins); logger receives one
// structured line per subcommand invocation, matching the rest of the
// module's log/slog usage.
func NewRootCommand(runner Runner, logger *slog.Logger) *cobra.Command {
	if logger == nil {
		logger = slog.Default()
	}

	root := &cobra.Command{
		Use:           "landscape",
		Short:         "validate, run, resume, replay, and verify Landscape execution graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newValidateCmd(runner, logger),
		newRunCmd(runner, logger),
		newResumeCmd(runner, logger),
		newReplayCmd(runner, logger),
		newVerifyCmd(runner, logger),
		newMigrateCmd(runner, logger),
	)
	return root
}

// printf writes a formatted line to out, ignoring the write error the
// way fmt.Fprintf's callers in the corpus's CLI tooling do for stdout.
func printf(out io.Writer, format string, args ...any) {
	fmt.Fprintf(out, format, args...)
}
