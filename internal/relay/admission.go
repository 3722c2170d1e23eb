package relay

import "relaybot/internal/domain"

// Policy decides which inbound events a channel binding admits.
type Policy struct {
	SelfID     string // the bot's own user ID
	TargetChat string // optional channel/chat restriction; empty admits all
}

// Admit reports whether the event qualifies for processing, with a short
// reason when it does not.
func (p Policy) Admit(ev domain.InboundEvent) (bool, string) {
	if ev.SenderID == "" {
		return false, "no sender"
	}
	if ev.SenderID == p.SelfID {
		return false, "own message"
	}
	switch ev.Subtype {
	case domain.SubtypeChannelJoin, domain.SubtypeChannelLeave:
		return false, "system subtype " + ev.Subtype
	}
	if p.TargetChat != "" && ev.ChatID != p.TargetChat {
		return false, "not target chat"
	}
	return true, ""
}
