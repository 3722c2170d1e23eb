package relay

import (
	"strings"
	"testing"

	"relaybot/internal/inference"
)

func TestDispatchSyncText(t *testing.T) {
	res := inference.ParseResponse([]byte(`{"ok":true,"reply":{"text":"Paris"}}`))
	d := Dispatch(res, false, false)
	if d.Outcome != OutcomeReply || d.Text != "Paris" {
		t.Errorf("got %+v", d)
	}
	if d.Blocks != nil {
		t.Error("no blocks expected")
	}
}

func TestDispatchErrorPrefixed(t *testing.T) {
	res := inference.ParseResponse([]byte(`{"ok":false,"error":"timeout"}`))
	d := Dispatch(res, false, false)
	if d.Outcome != OutcomeError {
		t.Fatalf("outcome = %s", d.Outcome)
	}
	if !strings.HasPrefix(d.Text, errorPrefix) || !strings.Contains(d.Text, "timeout") {
		t.Errorf("text = %q", d.Text)
	}
}

func TestDispatchFilePending(t *testing.T) {
	// File accepted, no error: fixed processing placeholder regardless of
	// any partial reply field.
	res := inference.Result{Kind: inference.KindAck}
	d := Dispatch(res, true, false)
	if d.Outcome != OutcomePending || d.Text != pendingPlaceholder {
		t.Errorf("got %+v", d)
	}
}

func TestDispatchEmptyReplyWithFile(t *testing.T) {
	res := inference.ParseResponse([]byte(`{"ok":true,"reply":{"text":"  "}}`))
	d := Dispatch(res, true, false)
	if d.Outcome != OutcomePending {
		t.Errorf("outcome = %s, want pending", d.Outcome)
	}
}

func TestDispatchWorkingFallback(t *testing.T) {
	res := inference.Result{Kind: inference.KindText, Text: ""}
	d := Dispatch(res, false, false)
	if d.Outcome != OutcomeWorking || d.Text != workingPlaceholder {
		t.Errorf("got %+v", d)
	}
}

func TestDispatchTextBeatsPendingForFiles(t *testing.T) {
	// Synchronous success wins even when the request carried a file.
	res := inference.Result{Kind: inference.KindText, Text: "summary ready"}
	d := Dispatch(res, true, false)
	if d.Outcome != OutcomeReply || d.Text != "summary ready" {
		t.Errorf("got %+v", d)
	}
}

func TestDispatchBlocks(t *testing.T) {
	res := inference.ParseResponse([]byte(`{"reply":"fallback","blocks":[{"type":"section"}]}`))

	rich := Dispatch(res, false, true)
	if rich.Outcome != OutcomeReply || len(rich.Blocks) == 0 {
		t.Errorf("rich dispatch dropped blocks: %+v", rich)
	}
	if rich.Text != "fallback" {
		t.Errorf("fallback text = %q", rich.Text)
	}

	// Rich formatting off: text only.
	plain := Dispatch(res, false, false)
	if plain.Blocks != nil {
		t.Error("blocks posted with rich formatting disabled")
	}
	if plain.Text != "fallback" {
		t.Errorf("text = %q", plain.Text)
	}
}

func TestDispatchBlocksWithoutFallbackText(t *testing.T) {
	// A non-empty text fallback is mandatory; blocks alone don't count as a
	// synchronous success.
	res := inference.Result{Kind: inference.KindBlocks, Blocks: []byte(`[{"type":"section"}]`)}
	d := Dispatch(res, false, true)
	if d.Outcome == OutcomeReply {
		t.Error("blocks without fallback text treated as success")
	}
}
