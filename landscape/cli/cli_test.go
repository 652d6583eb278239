package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/plugin"
	"github.com/landscaperun/landscape/landscape/replay"
)

type fakeRunner struct {
	graph        *landscape.ExecutionGraph
	registry     *plugin.Registry
	buildErr     error
	runID        string
	runErr       error
	resumeErr    error
	replayRunID  string
	replayErr    error
	divergences  []replay.Divergence
	verifyErr    error
	migrateErr   error
	lastResumeID string
	lastVerifyID string
}

func (f *fakeRunner) BuildGraph(ctx context.Context) (*landscape.ExecutionGraph, *plugin.Registry, error) {
	return f.graph, f.registry, f.buildErr
}

func (f *fakeRunner) Run(ctx context.Context, out io.Writer) (string, error) {
	return f.runID, f.runErr
}

func (f *fakeRunner) Resume(ctx context.Context, runID string, out io.Writer) error {
	f.lastResumeID = runID
	return f.resumeErr
}

func (f *fakeRunner) Replay(ctx context.Context, sourceRunID string, out io.Writer) (string, error) {
	return f.replayRunID, f.replayErr
}

func (f *fakeRunner) Verify(ctx context.Context, sourceRunID string, out io.Writer) ([]replay.Divergence, error) {
	f.lastVerifyID = sourceRunID
	return f.divergences, f.verifyErr
}

func (f *fakeRunner) Migrate(ctx context.Context) error {
	return f.migrateErr
}

func testGraph(t *testing.T) *landscape.ExecutionGraph {
	t.Helper()
	nodes := []landscape.NodeRecord{
		{NodeID: "src", NodeType: landscape.NodeTypeSource, Determinism: landscape.DeterminismIORead, PluginName: "csv_source"},
		{NodeID: "sink", NodeType: landscape.NodeTypeSink, Determinism: landscape.DeterminismIOWrite, PluginName: "csv_sink"},
	}
	edges := []landscape.EdgeRecord{
		{EdgeID: "e1", FromNode: "src", ToNode: "sink", Label: "continue", DefaultMode: landscape.RoutingModeMove},
	}
	g, problems := landscape.NewExecutionGraph(nodes, edges, nil, nil)
	if len(problems) > 0 {
		t.Fatalf("unexpected problems building test graph: %v", problems)
	}
	return g
}

func execute(t *testing.T, runner Runner, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestValidateCmdReportsCounts(t *testing.T) {
	runner := &fakeRunner{graph: testGraph(t), registry: plugin.NewRegistry()}
	out, err := execute(t, runner, "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !bytes.Contains([]byte(out), []byte("nodes: 2")) || !bytes.Contains([]byte(out), []byte("edges: 1")) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestValidateCmdFailsOnBuildError(t *testing.T) {
	runner := &fakeRunner{buildErr: errors.New("boom")}
	_, err := execute(t, runner, "validate")
	if err == nil {
		t.Fatal("expected an error")
	}
	if ExitCode(err) != ExitConfigurationError {
		t.Fatalf("ExitCode = %d, want %d", ExitCode(err), ExitConfigurationError)
	}
}

func TestResumeCmdRequiresRunID(t *testing.T) {
	runner := &fakeRunner{}
	_, err := execute(t, runner, "resume")
	if err == nil {
		t.Fatal("expected an error for missing --run-id")
	}
	if ExitCode(err) != ExitConfigurationError {
		t.Fatalf("ExitCode = %d, want %d", ExitCode(err), ExitConfigurationError)
	}
}

func TestResumeCmdMapsIncompatibleCheckpointToExit3(t *testing.T) {
	runner := &fakeRunner{resumeErr: landscape.ErrIncompatibleCheckpoint}
	_, err := execute(t, runner, "resume", "--run-id", "run_1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if ExitCode(err) != ExitIncompatibleCheckpoint {
		t.Fatalf("ExitCode = %d, want %d", ExitCode(err), ExitIncompatibleCheckpoint)
	}
	if runner.lastResumeID != "run_1" {
		t.Fatalf("lastResumeID = %q, want run_1", runner.lastResumeID)
	}
}

func TestRunCmdPrintsRunID(t *testing.T) {
	runner := &fakeRunner{runID: "run_abc"}
	out, err := execute(t, runner, "run")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !bytes.Contains([]byte(out), []byte("run_id: run_abc")) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRunCmdMapsPlainErrorToRuntimeFailure(t *testing.T) {
	runner := &fakeRunner{runErr: errors.New("source exhausted unexpectedly")}
	_, err := execute(t, runner, "run")
	if err == nil {
		t.Fatal("expected an error")
	}
	if ExitCode(err) != ExitRuntimeFailure {
		t.Fatalf("ExitCode = %d, want %d", ExitCode(err), ExitRuntimeFailure)
	}
}

func TestVerifyCmdReportsDivergences(t *testing.T) {
	runner := &fakeRunner{divergences: []replay.Divergence{
		{CallType: landscape.CallTypeHTTP, RequestHash: "h1"},
	}}
	out, err := execute(t, runner, "verify", "--source-run-id", "run_src")
	if err == nil {
		t.Fatal("expected an error when divergences are found")
	}
	if ExitCode(err) != ExitRuntimeFailure {
		t.Fatalf("ExitCode = %d, want %d", ExitCode(err), ExitRuntimeFailure)
	}
	if !bytes.Contains([]byte(out), []byte("divergence:")) {
		t.Fatalf("unexpected output: %q", out)
	}
	if runner.lastVerifyID != "run_src" {
		t.Fatalf("lastVerifyID = %q, want run_src", runner.lastVerifyID)
	}
}

func TestVerifyCmdCleanWhenNoDivergences(t *testing.T) {
	runner := &fakeRunner{}
	_, err := execute(t, runner, "verify", "--source-run-id", "run_src")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestMigrateCmd(t *testing.T) {
	runner := &fakeRunner{}
	out, err := execute(t, runner, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !bytes.Contains([]byte(out), []byte("migrations applied")) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestExitCodeSuccessOnNilError(t *testing.T) {
	if ExitCode(nil) != ExitSuccess {
		t.Fatalf("ExitCode(nil) = %d, want %d", ExitCode(nil), ExitSuccess)
	}
}
