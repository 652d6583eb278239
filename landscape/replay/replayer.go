package replay

import (
	"context"
	"fmt"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/store"
)

// Replayer satisfies external calls from a prior run's recordings instead
// of invoking the real client, per spec §4.10's REPLAY mode.
type Replayer struct {
	calls       CallStore
	payload     Blobs
	sourceRunID string
}

// NewReplayer builds a Replayer that looks up recordings under
// sourceRunID.
func NewReplayer(calls CallStore, payload Blobs, sourceRunID string) *Replayer {
	return &Replayer{calls: calls, payload: payload, sourceRunID: sourceRunID}
}

// Resolved is what the replayer hands back in place of a live call.
type Resolved struct {
	Status landscape.CallStatus
	Body   []byte
	Error  string
}

// Resolve looks up (callType, request_hash) under the source run and
// returns its recorded response. A miss is a ReplayMissError; a SUCCESS
// recording whose payload is missing from the payload store is a
// ReplayPayloadMissingError; an ERROR recording may legitimately have no
// body and is returned with an empty one (spec §4.10).
func (r *Replayer) Resolve(ctx context.Context, callType landscape.CallType, request RequestData) (Resolved, error) {
	requestHash, err := RequestHash(request)
	if err != nil {
		return Resolved{}, fmt.Errorf("replay: compute request hash: %w", err)
	}
	return r.resolveByHash(ctx, callType, requestHash)
}

func (r *Replayer) resolveByHash(ctx context.Context, callType landscape.CallType, requestHash string) (Resolved, error) {
	call, err := r.calls.FindCallByHash(ctx, r.sourceRunID, callType, requestHash)
	if err != nil {
		if err == store.ErrNotFound {
			return Resolved{}, &landscape.ReplayMissError{CallType: string(callType), RequestHash: requestHash}
		}
		return Resolved{}, fmt.Errorf("replay: find call by hash: %w", err)
	}

	if call.Status != landscape.CallStatusSuccess {
		return Resolved{Status: call.Status, Error: call.Error}, nil
	}

	if call.ResponseRef == "" {
		return Resolved{}, &landscape.ReplayPayloadMissingError{CallID: call.CallID}
	}
	body, err := r.payload.Fetch(ctx, call.ResponseRef)
	if err != nil {
		return Resolved{}, &landscape.ReplayPayloadMissingError{CallID: call.CallID}
	}
	return Resolved{Status: call.Status, Body: body}, nil
}
