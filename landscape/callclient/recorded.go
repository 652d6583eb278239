package callclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/replay"
)

// CallRef identifies which node state and call-within-state a recorded
// call belongs to (spec §3: Call.StateID, Call.CallIndex).
type CallRef struct {
	StateID   string
	CallIndex int
}

// chatRequest is the JSON-serializable shape hashed/stored by the call
// recorder for an LLM chat call.
type chatRequest struct {
	Messages []Message  `json:"messages"`
	Tools    []ToolSpec `json:"tools,omitempty"`
}

// RecordedChatModel funnels every chat call through the LIVE/REPLAY/VERIFY
// modes of the landscape/replay call recorder, per spec §4.10. Exactly one
// of recorder/replayer/verifier is used, selected by mode.
type RecordedChatModel struct {
	live     ChatModel
	mode     landscape.RunMode
	recorder *replay.Recorder
	replayer *replay.Replayer
	verifier *replay.Verifier
	logger   *slog.Logger
}

// NewRecordedChatModel wraps live with call recording for mode. Pass the
// recorder/replayer/verifier that applies to mode; the others may be nil.
func NewRecordedChatModel(live ChatModel, mode landscape.RunMode, recorder *replay.Recorder, replayer *replay.Replayer, verifier *replay.Verifier, logger *slog.Logger) *RecordedChatModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordedChatModel{live: live, mode: mode, recorder: recorder, replayer: replayer, verifier: verifier, logger: logger}
}

// Chat dispatches to the live model, the replay store, or both, depending
// on mode.
func (r *RecordedChatModel) Chat(ctx context.Context, call CallRef, messages []Message, tools []ToolSpec) (ChatOut, error) {
	requestBody, err := json.Marshal(chatRequest{Messages: messages, Tools: tools})
	if err != nil {
		return ChatOut{}, fmt.Errorf("callclient: marshal chat request: %w", err)
	}
	request := replay.RequestData{Body: requestBody}

	switch r.mode {
	case landscape.RunModeReplay:
		return r.replay(ctx, request)
	case landscape.RunModeVerify:
		return r.verify(ctx, call, request, messages, tools)
	default:
		return r.record(ctx, call, request, messages, tools)
	}
}

func (r *RecordedChatModel) record(ctx context.Context, call CallRef, request replay.RequestData, messages []Message, tools []ToolSpec) (ChatOut, error) {
	start := time.Now()
	out, callErr := r.live.Chat(ctx, messages, tools)
	latency := time.Since(start)

	response := responseFromResult(out, callErr)
	if _, err := r.recorder.Record(ctx, call.StateID, call.CallIndex, landscape.CallTypeLLM, request, response, latency); err != nil {
		r.logger.Error("chat call record failed", "state_id", call.StateID, "error", err)
	}
	return out, callErr
}

func (r *RecordedChatModel) replay(ctx context.Context, request replay.RequestData) (ChatOut, error) {
	resolved, err := r.replayer.Resolve(ctx, landscape.CallTypeLLM, request)
	if err != nil {
		return ChatOut{}, err
	}
	if resolved.Status != landscape.CallStatusSuccess {
		return ChatOut{}, errors.New("callclient: replayed call recorded as ERROR: " + resolved.Error)
	}
	var out ChatOut
	if err := json.Unmarshal(resolved.Body, &out); err != nil {
		return ChatOut{}, fmt.Errorf("callclient: unmarshal replayed chat response: %w", err)
	}
	return out, nil
}

func (r *RecordedChatModel) verify(ctx context.Context, call CallRef, request replay.RequestData, messages []Message, tools []ToolSpec) (ChatOut, error) {
	out, callErr := r.live.Chat(ctx, messages, tools)
	response := responseFromResult(out, callErr)

	divergence, err := r.verifier.Check(ctx, landscape.CallTypeLLM, request, response)
	if err != nil {
		r.logger.Error("chat call verify failed", "state_id", call.StateID, "error", err)
	} else if divergence != nil {
		r.logger.Error("chat call diverged from recording",
			"state_id", call.StateID,
			"recorded_status", divergence.RecordedStatus,
			"actual_status", divergence.ActualStatus,
			"recorded_hash", divergence.RecordedHash,
			"actual_hash", divergence.ActualHash,
		)
	}
	return out, callErr
}

func responseFromResult(out ChatOut, callErr error) replay.ResponseData {
	if callErr != nil {
		return replay.ResponseData{Status: landscape.CallStatusError, Error: callErr.Error()}
	}
	body, err := json.Marshal(out)
	if err != nil {
		return replay.ResponseData{Status: landscape.CallStatusError, Error: "callclient: marshal chat response: " + err.Error()}
	}
	return replay.ResponseData{Status: landscape.CallStatusSuccess, Body: body}
}
