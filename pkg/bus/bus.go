package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MessageBus decouples chat channels from the conversation core.
type MessageBus struct {
	inbound             chan InboundMessage
	outbound            chan OutboundMessage
	outboundSubscribers map[string][]func(OutboundMessage)
	subscribersMu       sync.RWMutex
	deliveries          *KeyedQueue
	stopOnce            sync.Once
	stopChan            chan struct{}
}

// NewMessageBus creates a new MessageBus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:             make(chan InboundMessage, 100),
		outbound:            make(chan OutboundMessage, 100),
		outboundSubscribers: make(map[string][]func(OutboundMessage)),
		deliveries:          NewKeyedQueue(),
		stopChan:            make(chan struct{}),
	}
}

// PublishInbound publishes a message from a channel to the core. It blocks
// while the queue is full until ctx is done or the bus stops.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopChan:
		return ErrStopped
	}
}

// ConsumeInbound returns a channel to consume inbound messages.
func (b *MessageBus) ConsumeInbound() <-chan InboundMessage {
	return b.inbound
}

// PublishOutbound publishes a reply from the core to channels.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopChan:
		return ErrStopped
	}
}

// SubscribeOutbound subscribes to outbound messages for a specific channel.
func (b *MessageBus) SubscribeOutbound(channel string, callback func(OutboundMessage)) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()
	b.outboundSubscribers[channel] = append(b.outboundSubscribers[channel], callback)
}

// DispatchOutbound delivers outbound messages to subscribers until ctx is done
// or Stop is called. Replies to one chat are delivered in the order they were
// published; a slow delivery, such as a streamed reply being edited, holds up
// only its own chat. It should be run in a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.outbound:
			b.subscribersMu.RLock()
			subscribers := b.outboundSubscribers[msg.Channel]
			b.subscribersMu.RUnlock()

			if len(subscribers) == 0 {
				zap.S().Warnw("No subscriber for outbound message", "channel", msg.Channel)
				continue
			}
			b.deliveries.Do(msg.Channel+":"+msg.ChatID, func() {
				for _, cb := range subscribers {
					deliver(cb, msg)
				}
			})
		case <-ctx.Done():
			return
		case <-b.stopChan:
			return
		}
	}
}

func deliver(callback func(OutboundMessage), msg OutboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorw("Error in outbound subscriber callback", "channel", msg.Channel, "panic", r)
		}
	}()
	callback(msg)
}

// Stop stops the dispatcher loop and unblocks pending publishers.
func (b *MessageBus) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
}
