package sandbox

import (
	"context"
	"testing"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/plugin"
)

func respondOnce(t *testing.T, workerReader *frameReader, workerWriter *frameWriter, resp response) {
	t.Helper()
	var req request
	if err := workerReader.ReadFrame(&req); err != nil {
		t.Fatalf("worker read request: %v", err)
	}
	resp.CallID = req.CallID
	if err := workerWriter.WriteFrame(resp); err != nil {
		t.Fatalf("worker write response: %v", err)
	}
}

func TestRemoteTransformProcessSuccess(t *testing.T) {
	w, workerReader, workerWriter := newTestWorkerPair()
	tr := NewRemoteTransform(plugin.Meta{Name: "remote-double"}, w)

	done := make(chan struct{})
	go func() {
		defer close(done)
		respondOnce(t, workerReader, workerWriter, response{Kind: responseKindSuccess, Row: map[string]any{"n": 4.0}})
	}()

	result, err := tr.Process(context.Background(), landscape.PipelineRow{Data: map[string]any{"n": 2.0}})
	<-done
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Kind != plugin.ResultSuccess {
		t.Fatalf("result.Kind = %v, want ResultSuccess", result.Kind)
	}
	if result.Row.Data["n"] != 4.0 {
		t.Fatalf("result.Row.Data[n] = %v, want 4.0", result.Row.Data["n"])
	}
}

func TestRemoteTransformProcessSuccessMulti(t *testing.T) {
	w, workerReader, workerWriter := newTestWorkerPair()
	tr := NewRemoteTransform(plugin.Meta{Name: "remote-split"}, w)

	done := make(chan struct{})
	go func() {
		defer close(done)
		respondOnce(t, workerReader, workerWriter, response{
			Kind: responseKindSuccessMulti,
			Rows: []map[string]any{{"n": 1.0}, {"n": 2.0}},
		})
	}()

	result, err := tr.Process(context.Background(), landscape.PipelineRow{Data: map[string]any{"n": 3.0}})
	<-done
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	rows := result.OutputRows()
	if len(rows) != 2 {
		t.Fatalf("len(OutputRows()) = %d, want 2", len(rows))
	}
}

func TestRemoteTransformProcessTransformError(t *testing.T) {
	w, workerReader, workerWriter := newTestWorkerPair()
	tr := NewRemoteTransform(plugin.Meta{Name: "remote-validate"}, w)

	done := make(chan struct{})
	go func() {
		defer close(done)
		respondOnce(t, workerReader, workerWriter, response{
			Kind:            responseKindError,
			ErrorKind:       errorKindTransform,
			TransformReason: "out_of_range",
			Retryable:       false,
		})
	}()

	result, err := tr.Process(context.Background(), landscape.PipelineRow{Data: map[string]any{"n": -1.0}})
	<-done
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Kind != plugin.ResultError {
		t.Fatalf("result.Kind = %v, want ResultError", result.Kind)
	}
	if result.Error.Kind != plugin.ErrorReasonTransform {
		t.Fatalf("result.Error.Kind = %v, want ErrorReasonTransform", result.Error.Kind)
	}
	if result.Error.Transform.Reason != "out_of_range" {
		t.Fatalf("result.Error.Transform.Reason = %q, want out_of_range", result.Error.Transform.Reason)
	}
	if result.Error.Retryable {
		t.Fatalf("result.Error.Retryable = true, want false")
	}
}

func TestRemoteTransformProcessExecutionError(t *testing.T) {
	w, workerReader, workerWriter := newTestWorkerPair()
	tr := NewRemoteTransform(plugin.Meta{Name: "remote-crash"}, w)

	done := make(chan struct{})
	go func() {
		defer close(done)
		respondOnce(t, workerReader, workerWriter, response{
			Kind:          responseKindError,
			ErrorKind:     errorKindExecution,
			ExecException: "division by zero",
			ExecType:      "ZeroDivisionError",
			Retryable:     true,
		})
	}()

	result, err := tr.Process(context.Background(), landscape.PipelineRow{Data: map[string]any{"n": 0.0}})
	<-done
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Error.Kind != plugin.ErrorReasonExecution {
		t.Fatalf("result.Error.Kind = %v, want ErrorReasonExecution", result.Error.Kind)
	}
	if !result.Error.Retryable {
		t.Fatalf("result.Error.Retryable = false, want true")
	}
}
