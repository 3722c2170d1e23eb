package domain

// MessageBus routes events from channels to the relay loop and replies back.
type MessageBus interface {
	Publish(ev InboundEvent)
	Subscribe() <-chan InboundEvent
	SendOutbound(reply OutboundReply)
	OnOutbound(channelName string, handler func(OutboundReply))
	Close()
}
