// Package cli implements the thin CLI surface named in spec §6:
// validate/run/resume/replay/verify/migrate. It is deliberately a
// library, not a self-contained binary — concrete plugin
// implementations, the settings/YAML loader, and the MCP/TUI server
// process are all out of scope (see DESIGN.md), so everything this
// package cannot do on its own is expressed as the Runner interface a
// real deployment supplies. cmd/landscape's main.go is the thinnest
// possible consumer of NewRootCommand.
package cli

import (
	"context"
	"io"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/plugin"
	"github.com/landscaperun/landscape/landscape/replay"
)

// Runner is the integration point a deployment supplies: the parts of
// each subcommand that depend on concrete plugins, a storage backend, or
// application-specific settings, none of which this package implements.
type Runner interface {
	// BuildGraph constructs the execution graph and plugin registry a
	// fresh run or `validate` would use.
	BuildGraph(ctx context.Context) (*landscape.ExecutionGraph, *plugin.Registry, error)

	// Run starts a brand-new LIVE run end to end and returns its run id.
	Run(ctx context.Context, out io.Writer) (runID string, err error)

	// Resume continues runID from its latest checkpoint. Implementations
	// return landscape.ErrIncompatibleCheckpoint (mapped to exit code 3)
	// when the checkpoint no longer matches the current graph topology.
	Resume(ctx context.Context, runID string, out io.Writer) error

	// Replay re-executes sourceRunID's recorded external calls under a
	// new run id and returns that new run id.
	Replay(ctx context.Context, sourceRunID string, out io.Writer) (runID string, err error)

	// Verify replays sourceRunID and reports every divergence found,
	// rather than stopping at the first one (spec §4.10).
	Verify(ctx context.Context, sourceRunID string, out io.Writer) ([]replay.Divergence, error)

	// Migrate applies the audit store's schema migrations.
	Migrate(ctx context.Context) error
}
