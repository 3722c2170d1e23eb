package relay

import (
	"testing"

	"relaybot/internal/domain"
)

func TestRenderContext(t *testing.T) {
	msgs := []domain.ThreadMessage{
		{SenderID: "U1", Text: "what is the capital of France?"},
		{SenderID: "U2", Text: "  "},
		{SenderID: "U2", Text: ""},
		{SenderID: "BOT", Text: "Paris"},
	}

	got := RenderContext(msgs)
	want := "<@U1>: what is the capital of France?\n<@BOT>: Paris"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderContextDeterministic(t *testing.T) {
	msgs := []domain.ThreadMessage{
		{SenderID: "U1", Text: "a"},
		{SenderID: "U2", Text: "b"},
	}
	first := RenderContext(msgs)
	for i := 0; i < 5; i++ {
		if RenderContext(msgs) != first {
			t.Fatal("output varies for fixed input")
		}
	}
}

func TestRenderContextEmpty(t *testing.T) {
	if RenderContext(nil) != "" {
		t.Error("nil input should render empty")
	}
	if RenderContext([]domain.ThreadMessage{{SenderID: "U1", Text: "\t\n"}}) != "" {
		t.Error("whitespace-only messages should render empty")
	}
}

func TestRenderContextUnknownSender(t *testing.T) {
	got := RenderContext([]domain.ThreadMessage{{Text: "orphan"}})
	if got != "<@unknown>: orphan" {
		t.Errorf("got %q", got)
	}
}
