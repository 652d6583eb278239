package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/idgen"
)

// CallStore is the subset of store.AuditStore the recorder needs. A local
// interface (see the note on landscape.AuditRecorder) avoids an import
// cycle: landscape/store already imports landscape, so replay depends on
// landscape directly and on stores structurally, never the reverse.
type CallStore interface {
	RecordCall(ctx context.Context, call landscape.Call) error
	FindCallByHash(ctx context.Context, sourceRunID string, callType landscape.CallType, requestHash string) (landscape.Call, error)
}

// Blobs is the subset of store.PayloadStore the recorder/replayer need.
type Blobs interface {
	Store(ctx context.Context, data []byte) (ref string, err error)
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Recorder records LIVE external calls per spec §4.10: computes the
// replay key as StableHash(request), stores the (header-filtered) request
// and response bodies in the payload store, and writes a Call row
// associated with the calling state.
type Recorder struct {
	calls   CallStore
	payload Blobs
}

// NewRecorder builds a Recorder writing Call rows through calls and
// bodies through payload.
func NewRecorder(calls CallStore, payload Blobs) *Recorder {
	return &Recorder{calls: calls, payload: payload}
}

// RequestData is the data captured before an external call is issued.
type RequestData struct {
	Headers map[string]string
	Body    []byte
}

// ResponseData is the data captured after an external call completes (or
// fails).
type ResponseData struct {
	Headers map[string]string
	Body    []byte
	Status  landscape.CallStatus
	Error   string
}

// RequestHash returns the stable replay key for request, computed over
// its header-filtered headers and its body (spec §4.10:
// "request_hash = stable_hash(request_data)").
func RequestHash(request RequestData) (string, error) {
	filtered := FilterRequestHeaders(request.Headers)
	captured := CaptureBody(request.Body)
	keyed := map[string]any{
		"headers": filtered,
		"body":    string(captured.Bytes()),
	}
	return landscape.StableHash(keyed)
}

// Record persists one LIVE call: stores the request/response bodies in
// the payload store (skipping the response body for ERROR calls, which
// may have none), strips sensitive headers, and writes the Call row
// against stateID.
func (r *Recorder) Record(ctx context.Context, stateID string, callIndex int, callType landscape.CallType, request RequestData, response ResponseData, latency time.Duration) (landscape.Call, error) {
	requestHash, err := RequestHash(request)
	if err != nil {
		return landscape.Call{}, fmt.Errorf("replay: compute request hash: %w", err)
	}

	requestCaptured := CaptureBody(request.Body)
	requestRef, err := r.payload.Store(ctx, requestCaptured.Bytes())
	if err != nil {
		return landscape.Call{}, fmt.Errorf("replay: store request body: %w", err)
	}

	var responseRef, responseHash string
	if response.Status == landscape.CallStatusSuccess {
		responseCaptured := CaptureBody(response.Body)
		responseHash, err = landscape.StableHash(string(responseCaptured.Bytes()))
		if err != nil {
			return landscape.Call{}, fmt.Errorf("replay: hash response body: %w", err)
		}
		responseRef, err = r.payload.Store(ctx, responseCaptured.Bytes())
		if err != nil {
			return landscape.Call{}, fmt.Errorf("replay: store response body: %w", err)
		}
	}

	latencyMS := latency.Milliseconds()
	call := landscape.Call{
		CallID:       idgen.New(idgen.PrefixCall),
		StateID:      stateID,
		CallIndex:    callIndex,
		CallType:     callType,
		Status:       response.Status,
		RequestHash:  requestHash,
		RequestRef:   requestRef,
		ResponseRef:  responseRef,
		ResponseHash: responseHash,
		LatencyMS:    &latencyMS,
		Error:        response.Error,
	}
	if err := r.calls.RecordCall(ctx, call); err != nil {
		return landscape.Call{}, fmt.Errorf("replay: record call: %w", err)
	}
	return call, nil
}
