package domain

import "time"

// System subtypes the event router never admits.
const (
	SubtypeChannelJoin  = "channel_join"
	SubtypeChannelLeave = "channel_leave"
)

// InboundEvent is a platform message normalized to the fields the relay
// consumes. Immutable once published.
type InboundEvent struct {
	Channel     string // originating channel name ("slack", "telegram")
	ChatID      string
	SenderID    string // platform user ID; empty for system/bot-less events
	SenderLabel string // display handle used in prompts ("<@U123>", "<alice>")
	ThreadID    string // thread/reply target; equals the message ID when unthreaded
	Text        string
	Subtype     string // platform message subtype; "" for plain messages
	Attachments []AttachmentRef
	Timestamp   time.Time
}

// AttachmentRef is a platform file reference carried by an inbound event.
// Resolution to bytes happens lazily via Platform.FetchAttachment.
type AttachmentRef struct {
	ID   string
	Name string // filename hint when the platform delivers one up front
}

// Attachment is a fully fetched file. Owned exclusively by the worker
// handling the event.
type Attachment struct {
	Filename string
	MIME     string
	Data     []byte
}

// ThreadMessage is one prior message in a conversation thread, used for
// prompt grounding.
type ThreadMessage struct {
	SenderID string
	Text     string
}

// OutboundReply is a message posted back into the originating thread.
// Text must be non-empty even when Blocks are supplied; platforms that
// cannot render blocks fall back to it.
type OutboundReply struct {
	Channel  string
	ChatID   string
	ThreadID string
	Text     string
	Blocks   []byte // raw Block Kit JSON array, or nil
}
