package plugin

import "github.com/landscaperun/landscape/landscape"

// TransformResultKind discriminates the three shapes a TransformResult may
// take (spec §6).
type TransformResultKind string

const (
	ResultSuccess      TransformResultKind = "success"
	ResultSuccessMulti TransformResultKind = "success_multi"
	ResultError        TransformResultKind = "error"
)

// ErrorReasonKind discriminates which of the two TypedDicts an error
// TransformResult carries (spec §6, §7).
type ErrorReasonKind string

const (
	// ErrorReasonExecution marks a framework-raised error: the plugin
	// crashed rather than reporting a handled failure.
	ErrorReasonExecution ErrorReasonKind = "execution"
	// ErrorReasonTransform marks a plugin-reported failure: the plugin
	// ran to completion and decided the row could not be processed.
	ErrorReasonTransform ErrorReasonKind = "transform"
)

// ErrorOutcome is the error() variant's payload: exactly one of Execution
// or Transform is set, discriminated by Kind, plus whether the retry
// manager should re-attempt this row under a new state_id (spec §4.9).
type ErrorOutcome struct {
	Kind      ErrorReasonKind
	Execution *landscape.ExecutionError
	Transform *landscape.TransformErrorReason
	Retryable bool
}

// TransformResult is the return value of Transform.Process,
// BatchProcessor.ProcessBatch, and Aggregation.Aggregate (spec §6). Use the
// Success / SuccessMulti / ExecutionErrorResult / TransformErrorResult
// constructors rather than the struct literal so Kind always matches the
// populated fields.
type TransformResult struct {
	Kind TransformResultKind

	// Success fields.
	Row           landscape.PipelineRow
	Rows          []landscape.PipelineRow
	Contract      *landscape.SchemaContract
	SuccessReason map[string]any

	// Error fields.
	Error ErrorOutcome
}

// Success builds a single-row success result (spec §6: `success(row,
// success_reason?)`).
func Success(row landscape.PipelineRow, successReason map[string]any) TransformResult {
	return TransformResult{Kind: ResultSuccess, Row: row, SuccessReason: successReason}
}

// SuccessMulti builds a fan-out success result: rows is the set of output
// rows this single input expanded into, and contract is the schema
// contract they were produced under (spec §6: `success_multi(rows,
// success_reason?, contract)`). A nil contract is accepted: the processor
// does not derive one from the rows and does not fail the state. Output
// rows without their own contract take the input row's contract at
// transform nodes and stay without one at aggregation nodes.
func SuccessMulti(rows []landscape.PipelineRow, contract *landscape.SchemaContract, successReason map[string]any) TransformResult {
	return TransformResult{Kind: ResultSuccessMulti, Rows: rows, Contract: contract, SuccessReason: successReason}
}

// ExecutionErrorResult wraps a framework-level failure (spec §6:
// `error(reason, retryable)` with an ExecutionError reason).
func ExecutionErrorResult(exception, typ, traceback string, retryable bool) TransformResult {
	return TransformResult{
		Kind: ResultError,
		Error: ErrorOutcome{
			Kind:      ErrorReasonExecution,
			Execution: &landscape.ExecutionError{Exception: exception, Type: typ, Traceback: traceback},
			Retryable: retryable,
		},
	}
}

// TransformErrorResult wraps a plugin-reported failure (spec §6:
// `error(reason, retryable)` with a TransformErrorReason reason).
func TransformErrorResult(reason landscape.TransformErrorReason, retryable bool) TransformResult {
	return TransformResult{
		Kind: ResultError,
		Error: ErrorOutcome{
			Kind:      ErrorReasonTransform,
			Transform: &reason,
			Retryable: retryable,
		},
	}
}

// IsSuccess reports whether this result is one of the two success variants.
func (r TransformResult) IsSuccess() bool {
	return r.Kind == ResultSuccess || r.Kind == ResultSuccessMulti
}

// OutputRows normalizes the success variants to a single slice: one row
// for ResultSuccess, the full set for ResultSuccessMulti, nil otherwise.
func (r TransformResult) OutputRows() []landscape.PipelineRow {
	switch r.Kind {
	case ResultSuccess:
		return []landscape.PipelineRow{r.Row}
	case ResultSuccessMulti:
		return r.Rows
	default:
		return nil
	}
}
