package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
	"relaybot/internal/inference"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakePlatform implements domain.Platform for loop tests.
type fakePlatform struct {
	self       string
	history    []domain.ThreadMessage
	historyErr error
	attachment *domain.Attachment
	attErr     error
	fetches    atomic.Int32
}

func (f *fakePlatform) Name() string   { return "slack" }
func (f *fakePlatform) SelfID() string { return f.self }

func (f *fakePlatform) FetchAttachment(ctx context.Context, ref domain.AttachmentRef) (*domain.Attachment, error) {
	f.fetches.Add(1)
	if f.attErr != nil {
		return nil, f.attErr
	}
	return f.attachment, nil
}

func (f *fakePlatform) History(ctx context.Context, chatID, threadID string, limit int) ([]domain.ThreadMessage, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

// startLoop wires a loop against a real bus and an httptest inference server,
// returning the bus, a capture channel for outbound replies, and a counter of
// inference calls.
func startLoop(t *testing.T, platform *fakePlatform, respond func(w http.ResponseWriter, r *http.Request)) (domain.MessageBus, <-chan domain.OutboundReply, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		respond(w, r)
	}))
	t.Cleanup(srv.Close)

	b := bus.New(10, testLogger())
	t.Cleanup(b.Close)

	replies := make(chan domain.OutboundReply, 10)
	b.OnOutbound("slack", func(r domain.OutboundReply) { replies <- r })

	loop := NewLoop(LoopConfig{
		Client:   inference.New(inference.Config{Endpoint: srv.URL, TimeoutMS: 2000, Logger: testLogger()}),
		Bus:      b,
		Bindings: map[string]Binding{"slack": {Platform: platform}},
		Logger:   testLogger(),
		Deadline: 5 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	return b, replies, &calls
}

func waitReply(t *testing.T, replies <-chan domain.OutboundReply) domain.OutboundReply {
	t.Helper()
	select {
	case r := <-replies:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no reply posted")
		return domain.OutboundReply{}
	}
}

func expectNoReply(t *testing.T, replies <-chan domain.OutboundReply) {
	t.Helper()
	select {
	case r := <-replies:
		t.Fatalf("unexpected reply: %+v", r)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestLoopPostsExactlyOneReply(t *testing.T) {
	platform := &fakePlatform{self: "BOT"}
	b, replies, calls := startLoop(t, platform, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "reply": map[string]string{"text": "Paris"}})
	})

	b.Publish(domain.InboundEvent{
		Channel: "slack", ChatID: "C1", SenderID: "U1",
		SenderLabel: "<@U1>", ThreadID: "111.222", Text: "capital of France?",
	})

	r := waitReply(t, replies)
	if r.Text != "Paris" {
		t.Errorf("reply text = %q", r.Text)
	}
	if r.ChatID != "C1" || r.ThreadID != "111.222" {
		t.Errorf("reply routing = %+v", r)
	}
	expectNoReply(t, replies)
	if calls.Load() != 1 {
		t.Errorf("inference calls = %d", calls.Load())
	}
}

func TestLoopDropsOwnMessages(t *testing.T) {
	platform := &fakePlatform{self: "BOT"}
	b, replies, calls := startLoop(t, platform, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"reply": "echo"})
	})

	b.Publish(domain.InboundEvent{Channel: "slack", ChatID: "C1", SenderID: "BOT", Text: "self"})

	expectNoReply(t, replies)
	if calls.Load() != 0 {
		t.Errorf("inference called for own message")
	}
}

func TestLoopAttachmentFailureShortCircuits(t *testing.T) {
	platform := &fakePlatform{self: "BOT", attErr: errors.New("no download URL available")}
	b, replies, calls := startLoop(t, platform, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"reply": "should not happen"})
	})

	b.Publish(domain.InboundEvent{
		Channel: "slack", ChatID: "C1", SenderID: "U1", SenderLabel: "<@U1>",
		Text:        "see attached",
		Attachments: []domain.AttachmentRef{{ID: "F1"}},
	})

	r := waitReply(t, replies)
	if !strings.Contains(r.Text, "no download URL available") || !strings.HasPrefix(r.Text, errorPrefix) {
		t.Errorf("error reply = %q", r.Text)
	}
	expectNoReply(t, replies)
	if calls.Load() != 0 {
		t.Errorf("inference called after attachment failure: %d", calls.Load())
	}
	if platform.fetches.Load() != 1 {
		t.Errorf("fetch attempts = %d", platform.fetches.Load())
	}
}

func TestLoopFileAckPostsPlaceholder(t *testing.T) {
	platform := &fakePlatform{
		self:       "BOT",
		attachment: &domain.Attachment{Filename: "notes.txt", MIME: "text/plain", Data: []byte("hi")},
	}
	b, replies, _ := startLoop(t, platform, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "reply": nil})
	})

	b.Publish(domain.InboundEvent{
		Channel: "slack", ChatID: "C1", SenderID: "U1", SenderLabel: "<@U1>",
		Text:        "summarize",
		Attachments: []domain.AttachmentRef{{ID: "F1", Name: "notes.txt"}},
	})

	r := waitReply(t, replies)
	if r.Text != pendingPlaceholder {
		t.Errorf("reply = %q", r.Text)
	}
}

func TestLoopInferenceFailureSurfaced(t *testing.T) {
	platform := &fakePlatform{self: "BOT"}
	b, replies, _ := startLoop(t, platform, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	b.Publish(domain.InboundEvent{Channel: "slack", ChatID: "C1", SenderID: "U1", SenderLabel: "<@U1>", Text: "hi"})

	r := waitReply(t, replies)
	if !strings.HasPrefix(r.Text, errorPrefix) || !strings.Contains(r.Text, "503") {
		t.Errorf("error reply = %q", r.Text)
	}
	expectNoReply(t, replies)
}

func TestLoopHistoryFailureDegrades(t *testing.T) {
	platform := &fakePlatform{self: "BOT", historyErr: errors.New("replies lookup failed")}

	var gotContext atomic.Value
	b, replies, _ := startLoop(t, platform, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Context string `json:"context"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotContext.Store(req.Context)
		json.NewEncoder(w).Encode(map[string]string{"reply": "still fine"})
	})

	b.Publish(domain.InboundEvent{Channel: "slack", ChatID: "C1", SenderID: "U1", SenderLabel: "<@U1>", Text: "hi"})

	r := waitReply(t, replies)
	if r.Text != "still fine" {
		t.Errorf("reply = %q", r.Text)
	}
	if c, _ := gotContext.Load().(string); c != "" {
		t.Errorf("context should be empty after history failure, got %q", c)
	}
}

func TestLoopRecordsOutcome(t *testing.T) {
	platform := &fakePlatform{self: "BOT"}

	var recorded atomic.Int32
	var lastOutcome atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"reply": "ok"})
	}))
	t.Cleanup(srv.Close)

	b := bus.New(10, testLogger())
	t.Cleanup(b.Close)
	replies := make(chan domain.OutboundReply, 10)
	b.OnOutbound("slack", func(r domain.OutboundReply) { replies <- r })

	loop := NewLoop(LoopConfig{
		Client:   inference.New(inference.Config{Endpoint: srv.URL, TimeoutMS: 2000, Logger: testLogger()}),
		Bus:      b,
		Bindings: map[string]Binding{"slack": {Platform: platform}},
		Logger:   testLogger(),
		Recorder: recorderFunc(func(ctx context.Context, rec domain.RelayRecord) error {
			recorded.Add(1)
			lastOutcome.Store(rec.Outcome)
			return nil
		}),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	b.Publish(domain.InboundEvent{Channel: "slack", ChatID: "C1", SenderID: "U1", SenderLabel: "<@U1>", Text: "hi"})
	waitReply(t, replies)

	deadline := time.Now().Add(2 * time.Second)
	for recorded.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if recorded.Load() != 1 {
		t.Fatalf("records = %d", recorded.Load())
	}
	if out, _ := lastOutcome.Load().(string); out != OutcomeReply {
		t.Errorf("outcome = %q", out)
	}
}

type recorderFunc func(ctx context.Context, rec domain.RelayRecord) error

func (f recorderFunc) Record(ctx context.Context, rec domain.RelayRecord) error { return f(ctx, rec) }
