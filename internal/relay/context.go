package relay

import (
	"fmt"
	"strings"

	"relaybot/internal/domain"
)

// RenderContext flattens prior thread messages into the context block sent
// with the prompt. Entries with empty or whitespace-only text are skipped.
// Pure and deterministic.
func RenderContext(msgs []domain.ThreadMessage) string {
	var lines []string
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		sender := m.SenderID
		if sender == "" {
			sender = "unknown"
		}
		lines = append(lines, fmt.Sprintf("<@%s>: %s", sender, text))
	}
	return strings.Join(lines, "\n")
}
