// Package bus carries messages between channels and the host agent runtime.
package bus

import (
	"context"
	"log/slog"
)

const defaultBufferSize = 100

// MessageBus is a channel-backed MessageRouter.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

var _ MessageRouter = (*MessageBus)(nil)

// New creates a message bus with buffered inbound/outbound queues.
func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, defaultBufferSize),
		outbound: make(chan OutboundMessage, defaultBufferSize),
	}
}

// PublishInbound queues a message from a channel for the agent runtime.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available. Returns false when ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound queues a message from the agent runtime for delivery.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("bus: outbound queue full, blocking", "channel", msg.Channel, "chat_id", msg.ChatID)
		b.outbound <- msg
	}
}

// SubscribeOutbound blocks until an outbound message is available. Returns false when ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}
