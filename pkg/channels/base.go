package channels

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/storacha-rag/ragbot/pkg/bus"
)

// Channel is the interface for chat channels.
type Channel interface {
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	Name() string
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus       *bus.MessageBus
	AllowFrom []string
}

// IsAllowed checks if a sender is allowed to use this bot.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.AllowFrom) == 0 {
		return true
	}

	for _, allowed := range c.AllowFrom {
		if allowed == senderID {
			return true
		}
		// composite IDs like "id|username"
		if strings.Contains(senderID, "|") {
			for _, part := range strings.Split(senderID, "|") {
				if part == allowed {
					return true
				}
			}
		}
	}
	return false
}

// HandleMessage publishes an incoming message from the chat platform. Messages
// from senders outside AllowFrom are dropped.
func (c *BaseChannel) HandleMessage(ctx context.Context, msg bus.InboundMessage) {
	if !c.IsAllowed(msg.SenderID) {
		zap.S().Infow("Ignoring message from unauthorized sender", "channel", msg.Channel, "sender", msg.SenderID)
		return
	}
	if msg.Kind == "" {
		msg.Kind = bus.InboundText
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if err := c.Bus.PublishInbound(ctx, msg); err != nil {
		zap.S().Warnw("Dropping inbound message", "channel", msg.Channel, "sender", msg.SenderID, "err", err)
	}
}

// Attach delivers the bus's outbound messages for ch.Name() to ch.Send.
func Attach(ctx context.Context, b *bus.MessageBus, ch Channel) {
	b.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(ctx, msg); err != nil {
			zap.S().Errorw("Failed to send message", "channel", ch.Name(), "chat", msg.ChatID, "err", err)
		}
	})
}

// finalRendering waits for a streamed reply to finish and returns its last
// rendering. Channels that cannot edit messages send only this.
func finalRendering(ctx context.Context, msg bus.OutboundMessage) string {
	last := msg.Content
	if msg.Updates == nil {
		return last
	}
	for {
		select {
		case update, ok := <-msg.Updates:
			if !ok {
				return last
			}
			last = update
		case <-ctx.Done():
			return last
		}
	}
}

// followStream applies the renderings of a streamed reply through apply, at
// most once per interval, until updates is closed. Renderings equal to the one
// shown are skipped; the last rendering is always applied.
func followStream(ctx context.Context, channel string, shown string, updates <-chan string, interval time.Duration, apply func(string) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	latest := shown
	flush := func() error {
		if latest == shown || latest == "" {
			return nil
		}
		if err := apply(latest); err != nil {
			return err
		}
		shown = latest
		return nil
	}

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return flush()
			}
			latest = update
		case <-ticker.C:
			if err := flush(); err != nil {
				zap.S().Warnw("Streamed reply update failed", "channel", channel, "err", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// buttonHint renders reply options as text for platforms without inline
// buttons. Users answer by typing the option name.
func buttonHint(content string, buttons []bus.Button) string {
	if len(buttons) == 0 {
		return content
	}
	var sb strings.Builder
	sb.WriteString(content)
	sb.WriteString("\n")
	for _, b := range buttons {
		sb.WriteString("\n• ")
		sb.WriteString(b.Text)
		if _, option, ok := strings.Cut(b.Data, ":"); ok {
			sb.WriteString(" (reply \"")
			sb.WriteString(option)
			sb.WriteString("\")")
		}
	}
	return sb.String()
}
