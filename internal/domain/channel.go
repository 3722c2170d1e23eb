package domain

import "context"

// Channel is the interface for a chat platform adapter (Slack, Telegram).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}

// Platform exposes the per-platform lookups the relay pipeline needs beyond
// event delivery. Channel implementations also implement Platform once
// connected.
type Platform interface {
	Name() string

	// SelfID returns the bot's own user ID, known after Start.
	SelfID() string

	// FetchAttachment resolves a file reference and downloads its bytes.
	// A failure here is surfaced to the end user and aborts the event.
	FetchAttachment(ctx context.Context, ref AttachmentRef) (*Attachment, error)

	// History returns up to limit prior messages of a thread, oldest first.
	// Platforms without thread history return (nil, nil).
	History(ctx context.Context, chatID, threadID string, limit int) ([]ThreadMessage, error)
}
