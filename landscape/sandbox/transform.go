package sandbox

import (
	"context"
	"fmt"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/plugin"
)

// RemoteTransform makes a sandboxed Worker satisfy plugin.Transform, so the
// orchestrator can register it in a plugin.Registry exactly like any
// in-process transform and never know the call crossed a process boundary.
type RemoteTransform struct {
	meta   plugin.Meta
	worker *Worker
}

// NewRemoteTransform wraps worker behind meta's declared protocol surface.
func NewRemoteTransform(meta plugin.Meta, worker *Worker) *RemoteTransform {
	return &RemoteTransform{meta: meta, worker: worker}
}

func (t *RemoteTransform) Meta() plugin.Meta { return t.meta }

// Process sends row's data across the frame protocol and translates the
// worker's response back into a TransformResult.
func (t *RemoteTransform) Process(ctx context.Context, row landscape.PipelineRow) (plugin.TransformResult, error) {
	resp, err := t.worker.Call(ctx, row.Data)
	if err != nil {
		return plugin.TransformResult{}, fmt.Errorf("sandbox: process via worker: %w", err)
	}
	return decodeResult(resp)
}

// Shutdown closes the underlying worker (spec §4.13 shutdown sequence).
func (t *RemoteTransform) Shutdown(ctx context.Context) error {
	return t.worker.Shutdown(ctx)
}

func decodeResult(resp response) (plugin.TransformResult, error) {
	switch resp.Kind {
	case responseKindSuccess:
		return plugin.Success(landscape.PipelineRow{Data: resp.Row}, resp.SuccessReason), nil

	case responseKindSuccessMulti:
		rows := make([]landscape.PipelineRow, len(resp.Rows))
		for i, r := range resp.Rows {
			rows[i] = landscape.PipelineRow{Data: r}
		}
		return plugin.SuccessMulti(rows, nil, resp.SuccessReason), nil

	case responseKindError:
		switch resp.ErrorKind {
		case errorKindExecution:
			return plugin.ExecutionErrorResult(resp.ExecException, resp.ExecType, resp.ExecTraceback, resp.Retryable), nil
		case errorKindTransform:
			reason := landscape.TransformErrorReason{
				Reason:  resp.TransformReason,
				Err:     resp.TransformError,
				Message: resp.TransformMessage,
				Field:   resp.TransformField,
			}
			return plugin.TransformErrorResult(reason, resp.Retryable), nil
		default:
			return plugin.TransformResult{}, fmt.Errorf("sandbox: worker error response has unrecognized error_kind %q", resp.ErrorKind)
		}

	default:
		return plugin.TransformResult{}, fmt.Errorf("sandbox: worker response has unrecognized kind %q", resp.Kind)
	}
}
