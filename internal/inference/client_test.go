package inference

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestParseResponsePlainText(t *testing.T) {
	res := ParseResponse([]byte(`{"reply": "Paris"}`))
	if res.Kind != KindText || res.Text != "Paris" {
		t.Errorf("got %+v", res)
	}
}

func TestParseResponseBlocks(t *testing.T) {
	res := ParseResponse([]byte(`{"reply": "fallback", "blocks": [{"type":"section"}]}`))
	if res.Kind != KindBlocks {
		t.Fatalf("kind = %s", res.Kind)
	}
	if res.Text != "fallback" {
		t.Errorf("text fallback = %q", res.Text)
	}
	if len(res.Blocks) == 0 {
		t.Error("blocks not carried through")
	}
}

func TestParseResponseSyncOK(t *testing.T) {
	res := ParseResponse([]byte(`{"ok": true, "reply": {"text": "Paris"}}`))
	if res.Kind != KindText || res.Text != "Paris" {
		t.Errorf("got %+v", res)
	}
}

func TestParseResponseSyncOKStringReply(t *testing.T) {
	res := ParseResponse([]byte(`{"ok": true, "reply": "42"}`))
	if res.Kind != KindText || res.Text != "42" {
		t.Errorf("got %+v", res)
	}
}

func TestParseResponseAsyncAck(t *testing.T) {
	res := ParseResponse([]byte(`{"ok": true, "reply": null}`))
	if res.Kind != KindAck {
		t.Errorf("kind = %s, want ack", res.Kind)
	}
}

func TestParseResponseError(t *testing.T) {
	res := ParseResponse([]byte(`{"ok": false, "error": "timeout"}`))
	if res.Kind != KindError || res.Err != "timeout" {
		t.Errorf("got %+v", res)
	}
}

func TestParseResponseErrorWithoutMessage(t *testing.T) {
	res := ParseResponse([]byte(`{"ok": false, "reply": null, "error": null}`))
	if res.Kind != KindError || res.Err != "unknown error" {
		t.Errorf("got %+v", res)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	res := ParseResponse([]byte(`not json`))
	if res.Kind != KindError {
		t.Errorf("kind = %s, want error", res.Kind)
	}
}

func TestDoPostsPayload(t *testing.T) {
	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "reply": map[string]string{"text": "done"}})
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Mode: "qa", TimeoutMS: 2000, Logger: testLogger()})
	res := c.Do(context.Background(), Request{
		Text:    "prompt",
		Context: "ctx",
		Sync:    false,
		Attachment: &domain.Attachment{
			Filename: "report.pdf",
			MIME:     "application/pdf",
			Data:     []byte("%PDF"),
		},
	})

	if res.Kind != KindText || res.Text != "done" {
		t.Errorf("result = %+v", res)
	}
	if got.Mode != "qa" || got.Text != "prompt" || got.Context != "ctx" {
		t.Errorf("request payload = %+v", got)
	}
	if got.Sync {
		t.Error("sync should be false for file-bearing requests")
	}
	if got.TimeoutMS != 2000 {
		t.Errorf("timeout_ms = %d", got.TimeoutMS)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Filename != "report.pdf" {
		t.Fatalf("attachments = %+v", got.Attachments)
	}
	if got.Attachments[0].DataBase64 != "JVBERg==" {
		t.Errorf("data_base64 = %s", got.Attachments[0].DataBase64)
	}
}

func TestDoNon2xxIsErrorResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Logger: testLogger()})
	res := c.Do(context.Background(), Request{Text: "x", Sync: true})
	if res.Kind != KindError {
		t.Fatalf("kind = %s, want error", res.Kind)
	}
	if !strings.Contains(res.Err, "500") {
		t.Errorf("err = %q", res.Err)
	}
}

func TestDoConnectionRefusedIsErrorResult(t *testing.T) {
	c := New(Config{Endpoint: "http://127.0.0.1:1", TimeoutMS: 1000, Logger: testLogger()})
	res := c.Do(context.Background(), Request{Text: "x", Sync: true})
	if res.Kind != KindError || res.Err == "" {
		t.Errorf("got %+v", res)
	}
}

func TestNewDowngradesHTTPS(t *testing.T) {
	c := New(Config{Endpoint: "https://10.1.2.3:8765/event", Logger: testLogger()})
	if c.Endpoint() != "http://10.1.2.3:8765/event" {
		t.Errorf("endpoint = %s", c.Endpoint())
	}
}
