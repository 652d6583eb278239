package replay

import (
	"context"
	"fmt"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/store"
)

// Divergence records one call whose live response disagreed with the
// recording under the source run (spec §4.10's VERIFY mode).
type Divergence struct {
	CallType       landscape.CallType
	RequestHash    string
	RecordedHash   string
	ActualHash     string
	RecordedStatus landscape.CallStatus
	ActualStatus   landscape.CallStatus
}

// Verifier issues real calls and compares their responses against a prior
// run's recordings, per spec §4.10's VERIFY mode: unlike REPLAY, it never
// substitutes the live response — it only flags disagreement.
type Verifier struct {
	calls       CallStore
	payload     Blobs
	sourceRunID string
}

// NewVerifier builds a Verifier comparing live calls against recordings
// under sourceRunID.
func NewVerifier(calls CallStore, payload Blobs, sourceRunID string) *Verifier {
	return &Verifier{calls: calls, payload: payload, sourceRunID: sourceRunID}
}

// Check compares a live response against the recorded call for the same
// (callType, request). A missing recording is reported as a Divergence
// with an empty RecordedHash/RecordedStatus rather than an error — VERIFY
// mode runs to completion and reports every disagreement, it does not
// abort on the first miss.
func (v *Verifier) Check(ctx context.Context, callType landscape.CallType, request RequestData, actual ResponseData) (*Divergence, error) {
	requestHash, err := RequestHash(request)
	if err != nil {
		return nil, fmt.Errorf("replay: compute request hash: %w", err)
	}

	actualCaptured := CaptureBody(actual.Body)
	var actualHash string
	if actual.Status == landscape.CallStatusSuccess {
		actualHash, err = landscape.StableHash(string(actualCaptured.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("replay: hash actual response body: %w", err)
		}
	}

	recorded, err := v.calls.FindCallByHash(ctx, v.sourceRunID, callType, requestHash)
	if err != nil {
		if err == store.ErrNotFound {
			return &Divergence{
				CallType:     callType,
				RequestHash:  requestHash,
				ActualHash:   actualHash,
				ActualStatus: actual.Status,
			}, nil
		}
		return nil, fmt.Errorf("replay: find call by hash: %w", err)
	}

	if recorded.Status == actual.Status && recorded.ResponseHash == actualHash {
		return nil, nil
	}
	return &Divergence{
		CallType:       callType,
		RequestHash:    requestHash,
		RecordedHash:   recorded.ResponseHash,
		ActualHash:     actualHash,
		RecordedStatus: recorded.Status,
		ActualStatus:   actual.Status,
	}, nil
}
