package plugin

import (
	"testing"

	"github.com/landscaperun/landscape/landscape"
)

func TestSuccessBuildsSingleRowResult(t *testing.T) {
	row := landscape.PipelineRow{Data: map[string]any{"a": 1}}
	result := Success(row, map[string]any{"note": "ok"})

	if result.Kind != ResultSuccess {
		t.Fatalf("expected ResultSuccess, got %v", result.Kind)
	}
	if !result.IsSuccess() {
		t.Fatalf("expected IsSuccess() true")
	}
	rows := result.OutputRows()
	if len(rows) != 1 || rows[0].Data["a"] != 1 {
		t.Fatalf("unexpected OutputRows: %+v", rows)
	}
}

func TestSuccessMultiBuildsFanOutResult(t *testing.T) {
	rows := []landscape.PipelineRow{
		{Data: map[string]any{"a": 1}},
		{Data: map[string]any{"a": 2}},
	}
	contract, problems := landscape.NewSchemaContract(landscape.SchemaModeFlexible, nil)
	if len(problems) != 0 {
		t.Fatalf("unexpected contract problems: %v", problems)
	}
	result := SuccessMulti(rows, contract, nil)

	if result.Kind != ResultSuccessMulti {
		t.Fatalf("expected ResultSuccessMulti, got %v", result.Kind)
	}
	if len(result.OutputRows()) != 2 {
		t.Fatalf("expected 2 output rows, got %d", len(result.OutputRows()))
	}
	if result.Contract != contract {
		t.Fatalf("expected contract to be preserved")
	}
}

func TestExecutionErrorResultIsNotSuccess(t *testing.T) {
	result := ExecutionErrorResult("boom", "RuntimeError", "", true)

	if result.Kind != ResultError {
		t.Fatalf("expected ResultError, got %v", result.Kind)
	}
	if result.IsSuccess() {
		t.Fatalf("expected IsSuccess() false for an error result")
	}
	if result.Error.Kind != ErrorReasonExecution {
		t.Fatalf("expected ErrorReasonExecution, got %v", result.Error.Kind)
	}
	if result.Error.Execution == nil || result.Error.Execution.Exception != "boom" {
		t.Fatalf("expected Execution.Exception == boom, got %+v", result.Error.Execution)
	}
	if !result.Error.Retryable {
		t.Fatalf("expected Retryable true")
	}
	if result.OutputRows() != nil {
		t.Fatalf("expected nil OutputRows for an error result")
	}
}

func TestTransformErrorResultCarriesReason(t *testing.T) {
	reason := landscape.TransformErrorReason{Reason: "negative_copies", Message: "copy_count must be >= 0", Field: "copy_count"}
	result := TransformErrorResult(reason, false)

	if result.Error.Kind != ErrorReasonTransform {
		t.Fatalf("expected ErrorReasonTransform, got %v", result.Error.Kind)
	}
	if result.Error.Transform == nil || result.Error.Transform.Field != "copy_count" {
		t.Fatalf("expected Transform.Field == copy_count, got %+v", result.Error.Transform)
	}
	if result.Error.Retryable {
		t.Fatalf("expected Retryable false")
	}
}
