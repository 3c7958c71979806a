package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionKeyIsPerUser(t *testing.T) {
	a := InboundMessage{Channel: "telegram", SenderID: "42", ChatID: "-100"}
	b := InboundMessage{Channel: "telegram", SenderID: "42", ChatID: "42"}
	assert.Equal(t, "telegram:42", a.SessionKey())
	assert.Equal(t, a.SessionKey(), b.SessionKey())
}

func TestInboundRoundTrip(t *testing.T) {
	b := NewMessageBus()
	require.NoError(t, b.PublishInbound(context.Background(), InboundMessage{Channel: "telegram", Content: "/upload"}))
	msg := <-b.ConsumeInbound()
	assert.Equal(t, "/upload", msg.Content)
}

func TestOutboundDeliveredInOrder(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	b.SubscribeOutbound("telegram", func(m OutboundMessage) {
		mu.Lock()
		got = append(got, m.Content)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	})
	go b.DispatchOutbound(ctx)

	for _, c := range []string{"⏳ Uploading...", "✅ Upload successful!", "🚫 Cancelled."} {
		require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "telegram", Content: c}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("outbound messages not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"⏳ Uploading...", "✅ Upload successful!", "🚫 Cancelled."}, got)
}

func TestDispatchRecoversFromPanic(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	delivered := make(chan string, 1)
	b.SubscribeOutbound("feishu", func(m OutboundMessage) {
		if m.Content == "boom" {
			panic("subscriber failure")
		}
		delivered <- m.Content
	})
	go b.DispatchOutbound(ctx)

	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "feishu", Content: "boom"}))
	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "feishu", Content: "after"}))

	select {
	case c := <-delivered:
		assert.Equal(t, "after", c)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher stopped after panic")
	}
}

func TestPublishAfterStop(t *testing.T) {
	b := NewMessageBus()
	for i := 0; i < cap(b.inbound); i++ {
		require.NoError(t, b.PublishInbound(context.Background(), InboundMessage{}))
	}
	b.Stop()
	b.Stop()
	assert.ErrorIs(t, b.PublishInbound(context.Background(), InboundMessage{}), ErrStopped)
}

func TestPublishHonoursContext(t *testing.T) {
	b := NewMessageBus()
	for i := 0; i < cap(b.outbound); i++ {
		require.NoError(t, b.PublishOutbound(context.Background(), OutboundMessage{}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.PublishOutbound(ctx, OutboundMessage{}), context.DeadlineExceeded)
}

func TestSlowChatDoesNotBlockOthers(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hold := make(chan struct{})
	defer close(hold)
	delivered := make(chan string, 4)
	b.SubscribeOutbound("telegram", func(m OutboundMessage) {
		if m.ChatID == "1" {
			<-hold
		}
		delivered <- m.ChatID + ":" + m.Content
	})
	go b.DispatchOutbound(ctx)

	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "telegram", ChatID: "1", Content: "streaming"}))
	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "telegram", ChatID: "1", Content: "after stream"}))
	require.NoError(t, b.PublishOutbound(ctx, OutboundMessage{Channel: "telegram", ChatID: "2", Content: "welcome"}))

	select {
	case got := <-delivered:
		assert.Equal(t, "2:welcome", got)
	case <-time.After(2 * time.Second):
		t.Fatal("reply to chat 2 waited on chat 1")
	}
}
