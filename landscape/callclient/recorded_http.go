package callclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/replay"
)

// RecordedHTTPClient funnels every HTTP call through the call recorder,
// exactly like RecordedChatModel but for CallTypeHTTP/CallTypeHTTPRedirect
// (spec §4.10).
type RecordedHTTPClient struct {
	live     *HTTPClient
	mode     landscape.RunMode
	recorder *replay.Recorder
	replayer *replay.Replayer
	verifier *replay.Verifier
	logger   *slog.Logger
}

// NewRecordedHTTPClient wraps live with call recording for mode.
func NewRecordedHTTPClient(live *HTTPClient, mode landscape.RunMode, recorder *replay.Recorder, replayer *replay.Replayer, verifier *replay.Verifier, logger *slog.Logger) *RecordedHTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordedHTTPClient{live: live, mode: mode, recorder: recorder, replayer: replayer, verifier: verifier, logger: logger}
}

// Do dispatches to the live client, the replay store, or both, depending
// on mode. callType should be CallTypeHTTP or CallTypeHTTPRedirect.
func (r *RecordedHTTPClient) Do(ctx context.Context, call CallRef, callType landscape.CallType, req HTTPRequest) (HTTPResponse, error) {
	requestBody, err := json.Marshal(req)
	if err != nil {
		return HTTPResponse{}, fmt.Errorf("callclient: marshal http request: %w", err)
	}
	request := replay.RequestData{Headers: req.Headers, Body: requestBody}

	switch r.mode {
	case landscape.RunModeReplay:
		return r.replay(ctx, callType, request)
	case landscape.RunModeVerify:
		return r.verify(ctx, call, callType, request, req)
	default:
		return r.record(ctx, call, callType, request, req)
	}
}

func (r *RecordedHTTPClient) record(ctx context.Context, call CallRef, callType landscape.CallType, request replay.RequestData, req HTTPRequest) (HTTPResponse, error) {
	start := time.Now()
	resp, callErr := r.live.Do(ctx, req)
	latency := time.Since(start)

	response := httpResponseToRecord(resp, callErr)
	if _, err := r.recorder.Record(ctx, call.StateID, call.CallIndex, callType, request, response, latency); err != nil {
		r.logger.Error("http call record failed", "state_id", call.StateID, "error", err)
	}
	return resp, callErr
}

func (r *RecordedHTTPClient) replay(ctx context.Context, callType landscape.CallType, request replay.RequestData) (HTTPResponse, error) {
	resolved, err := r.replayer.Resolve(ctx, callType, request)
	if err != nil {
		return HTTPResponse{}, err
	}
	if resolved.Status != landscape.CallStatusSuccess {
		return HTTPResponse{}, fmt.Errorf("callclient: replayed call recorded as ERROR: %s", resolved.Error)
	}
	var resp HTTPResponse
	if err := json.Unmarshal(resolved.Body, &resp); err != nil {
		return HTTPResponse{}, fmt.Errorf("callclient: unmarshal replayed http response: %w", err)
	}
	return resp, nil
}

func (r *RecordedHTTPClient) verify(ctx context.Context, call CallRef, callType landscape.CallType, request replay.RequestData, req HTTPRequest) (HTTPResponse, error) {
	resp, callErr := r.live.Do(ctx, req)
	response := httpResponseToRecord(resp, callErr)

	divergence, err := r.verifier.Check(ctx, callType, request, response)
	if err != nil {
		r.logger.Error("http call verify failed", "state_id", call.StateID, "error", err)
	} else if divergence != nil {
		r.logger.Error("http call diverged from recording",
			"state_id", call.StateID,
			"recorded_status", divergence.RecordedStatus,
			"actual_status", divergence.ActualStatus,
		)
	}
	return resp, callErr
}

func httpResponseToRecord(resp HTTPResponse, callErr error) replay.ResponseData {
	if callErr != nil {
		return replay.ResponseData{Status: landscape.CallStatusError, Error: callErr.Error()}
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return replay.ResponseData{Status: landscape.CallStatusError, Error: "callclient: marshal http response: " + err.Error()}
	}
	return replay.ResponseData{Headers: resp.Headers, Status: landscape.CallStatusSuccess, Body: body}
}
