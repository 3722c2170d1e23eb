package relay

import "relaybot/internal/inference"

// Outcome classifies what got posted back for an event.
const (
	OutcomeReply   = "reply"   // synchronous text or block-formatted answer
	OutcomeError   = "error"   // failure surfaced to the user
	OutcomePending = "pending" // file accepted, answer arrives out of band
	OutcomeWorking = "working" // nothing usable yet, generic placeholder
)

const (
	errorPrefix           = "❌ "
	pendingPlaceholder    = "📎 Got your file — processing… I'll reply here when it's ready."
	workingPlaceholder    = "Working…"
	fileDownloadErrPrefix = "❌ Sorry, I couldn't download the file: "
)

// Disposition is what the dispatcher decided to post.
type Disposition struct {
	Outcome string
	Text    string
	Blocks  []byte // Block Kit payload, only with OutcomeReply and rich formatting on
}

// Dispatch resolves an inference result into exactly one reply. Outcomes in
// priority order: synchronous success with non-empty text, surfaced error,
// processing placeholder for file-bearing requests, generic placeholder.
func Dispatch(res inference.Result, hadAttachment, richBlocks bool) Disposition {
	switch {
	case (res.Kind == inference.KindText || res.Kind == inference.KindBlocks) && res.Text != "":
		d := Disposition{Outcome: OutcomeReply, Text: res.Text}
		if richBlocks && res.Kind == inference.KindBlocks && len(res.Blocks) > 0 {
			d.Blocks = res.Blocks
		}
		return d

	case res.Kind == inference.KindError:
		msg := res.Err
		if msg == "" {
			msg = "unknown error"
		}
		return Disposition{Outcome: OutcomeError, Text: errorPrefix + msg}

	case hadAttachment:
		// The real answer arrives later through a side channel; the relay
		// only acknowledges receipt here.
		return Disposition{Outcome: OutcomePending, Text: pendingPlaceholder}

	default:
		return Disposition{Outcome: OutcomeWorking, Text: workingPlaceholder}
	}
}
