package callclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/landscaperun/landscape/landscape"
	"github.com/landscaperun/landscape/landscape/replay"
)

func TestRecordedHTTPClientLiveRecordsAndReplayServes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	}))
	defer server.Close()

	calls, payload := newReplayStores(t)
	recorder := replay.NewRecorder(calls, payload)
	live := NewHTTPClient()

	liveWrapped := NewRecordedHTTPClient(live, landscape.RunModeLive, recorder, nil, nil, nil)
	req := HTTPRequest{URL: server.URL}
	resp, err := liveWrapped.Do(context.Background(), CallRef{StateID: "state-1"}, landscape.CallTypeHTTP, req)
	if err != nil {
		t.Fatalf("live Do: %v", err)
	}
	if string(resp.Body) != "pong" {
		t.Fatalf("expected live body 'pong', got %q", resp.Body)
	}

	replayer := replay.NewReplayer(calls, payload, "state-1")
	brokenClient := NewHTTPClient()
	replayWrapped := NewRecordedHTTPClient(brokenClient, landscape.RunModeReplay, nil, replayer, nil, nil)

	server.Close() // prove replay never reaches the network
	replayedResp, err := replayWrapped.Do(context.Background(), CallRef{StateID: "state-1"}, landscape.CallTypeHTTP, req)
	if err != nil {
		t.Fatalf("replay Do: %v", err)
	}
	if string(replayedResp.Body) != "pong" {
		t.Fatalf("expected replayed body 'pong', got %q", replayedResp.Body)
	}
}
