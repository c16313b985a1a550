// Package bus carries messages between channels and the session loop, and
// fans events out to subscribers. Everything is in-process; the buffers
// absorb bursts so channel adapters never block on the loop.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

const defaultQueueSize = 256

// MessageBus is the in-process router connecting channel adapters, the
// session loop and event subscribers (gateway WebSocket, audit hooks).
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

// New creates a MessageBus with default buffer sizes.
func New() *MessageBus {
	return &MessageBus{
		inbound:     make(chan InboundMessage, defaultQueueSize),
		outbound:    make(chan OutboundMessage, defaultQueueSize),
		subscribers: map[string]EventHandler{},
	}
}

// PublishInbound queues a message for the session loop. Drops with a log
// line when the queue is full rather than blocking the channel adapter.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("bus.inbound_full", "channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// ConsumeInbound blocks until a message arrives or ctx is done.
// The bool is false when ctx was cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound queues a reply for delivery to its channel.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("bus.outbound_full", "channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// SubscribeOutbound blocks until a reply is ready or ctx is done.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

// Subscribe registers an event handler under an id. Re-subscribing the
// same id replaces the previous handler.
func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes a handler. Unknown ids are a no-op.
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers an event to every subscriber. Handlers run on the
// caller's goroutine; they must not block.
func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}
