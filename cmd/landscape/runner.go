package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/idgen"
	"github.com/landscaperun/landscape/landscape/plugin"
	"github.com/landscaperun/landscape/landscape/replay"
	"github.com/landscaperun/landscape/landscape/store"
)

// demoRunner is the stock cli.Runner cmd/landscape ships with. It has no
// concrete Source/Transform/Gate/Sink/Aggregation plugins to run — those
// implementations, like the settings/YAML loader, are out of scope (see
// DESIGN.md) — so it wires a real audit store and an empty graph,
// exercising `validate` and `migrate` end to end, and reports a clear
// configuration error for the run/resume/replay/verify operations that
// need plugins bound to nodes. A real deployment links its own Runner
// against cli.NewRootCommand instead of using this one.
type demoRunner struct {
	audit   store.AuditStore
	payload store.PayloadStore
}

func newDemoRunner(audit store.AuditStore, payload store.PayloadStore) *demoRunner {
	return &demoRunner{audit: audit, payload: payload}
}

func (d *demoRunner) BuildGraph(ctx context.Context) (*landscape.ExecutionGraph, *plugin.Registry, error) {
	graph, problems := landscape.NewExecutionGraph(nil, nil, nil, nil)
	if len(problems) > 0 {
		return nil, nil, fmt.Errorf("build empty graph: %v", problems)
	}
	return graph, plugin.NewRegistry(), nil
}

var errNoPlugins = fmt.Errorf("cmd/landscape ships no concrete plugins; embed landscape/cli.NewRootCommand in your own binary with a Runner that registers sources, transforms, gates, sinks, and aggregations")

func (d *demoRunner) Run(ctx context.Context, out io.Writer) (string, error) {
	return "", errNoPlugins
}

func (d *demoRunner) Resume(ctx context.Context, runID string, out io.Writer) error {
	return errNoPlugins
}

func (d *demoRunner) Replay(ctx context.Context, sourceRunID string, out io.Writer) (string, error) {
	return "", errNoPlugins
}

func (d *demoRunner) Verify(ctx context.Context, sourceRunID string, out io.Writer) ([]replay.Divergence, error) {
	return nil, errNoPlugins
}

func (d *demoRunner) Migrate(ctx context.Context) error {
	runID := idgen.New(idgen.PrefixRun)
	run := landscape.Run{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		Status:    landscape.RunStatusCompleted,
		RunMode:   landscape.RunModeLive,
	}
	if err := d.audit.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("migrate: exercise audit store schema: %w", err)
	}
	return nil
}
