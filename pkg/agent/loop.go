package agent

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/storacha-rag/ragbot/pkg/bus"
	"github.com/storacha-rag/ragbot/pkg/conversation"
	"github.com/storacha-rag/ragbot/pkg/media"
)

// Gateway consumes inbound bot messages from the bus, drives the channel's
// orchestrator and publishes the rendered replies. Messages of one session
// are handled in arrival order; /cancel bypasses the queue and aborts the
// session's running upload, query or image analysis so the next message is
// handled right away.
type Gateway struct {
	Bus *bus.MessageBus

	mu            sync.RWMutex
	orchestrators map[string]*Orchestrator
	queue         *bus.KeyedQueue

	runningMu sync.Mutex
	running   map[string]*task
}

// task is the message currently being handled for a session.
type task struct {
	cancel context.CancelFunc
}

// NewGateway creates a gateway on b.
func NewGateway(b *bus.MessageBus) *Gateway {
	return &Gateway{
		Bus:           b,
		orchestrators: make(map[string]*Orchestrator),
		queue:         bus.NewKeyedQueue(),
		running:       make(map[string]*task),
	}
}

// Register routes messages of o.Channel to o.
func (g *Gateway) Register(o *Orchestrator) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orchestrators[o.Channel] = o
}

// Run processes inbound messages until ctx is done, then waits for handlers
// already started.
func (g *Gateway) Run(ctx context.Context) {
	zap.S().Info("Gateway loop started")
	inbound := g.Bus.ConsumeInbound()
	for {
		select {
		case msg := <-inbound:
			g.route(ctx, msg)
		case <-ctx.Done():
			zap.S().Info("Gateway loop stopping")
			g.queue.Wait()
			return
		}
	}
}

func (g *Gateway) route(ctx context.Context, msg bus.InboundMessage) {
	g.mu.RLock()
	o, ok := g.orchestrators[msg.Channel]
	g.mu.RUnlock()
	if !ok {
		zap.S().Warnw("No orchestrator for channel", "channel", msg.Channel)
		return
	}

	key := msg.SessionKey()
	if msg.Kind == bus.InboundText || msg.Kind == "" {
		if cmd, ok := parseCommand(msg.Content); ok && cmd == "cancel" {
			r := newReplier(ctx, g.Bus, msg)
			// the version bump comes first so the aborted call's result is discarded
			r.final(o.Cancel(key))
			g.abort(key)
			return
		}
	}

	g.queue.Do(key, func() { g.handle(ctx, o, msg) })
}

// handle runs one queued message with a context that /cancel can abort.
func (g *Gateway) handle(ctx context.Context, o *Orchestrator, msg bus.InboundMessage) {
	key := msg.SessionKey()
	opCtx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel}

	g.runningMu.Lock()
	g.running[key] = t
	g.runningMu.Unlock()
	defer func() {
		g.runningMu.Lock()
		if g.running[key] == t {
			delete(g.running, key)
		}
		g.runningMu.Unlock()
		cancel()
	}()

	g.process(ctx, opCtx, o, msg)
}

func (g *Gateway) abort(key string) {
	g.runningMu.Lock()
	t := g.running[key]
	g.runningMu.Unlock()
	if t != nil {
		t.cancel()
	}
}

// process handles msg. Network calls run under opCtx; replies are published
// under ctx so they still go out after an abort.
func (g *Gateway) process(ctx, opCtx context.Context, o *Orchestrator, msg bus.InboundMessage) {
	key := msg.SessionKey()
	r := newReplier(ctx, g.Bus, msg)
	defer func() {
		if rec := recover(); rec != nil {
			zap.S().Errorw("Panic while handling message", "channel", msg.Channel, "session", key, "panic", rec)
		}
		r.closeStream("")
	}()
	zap.S().Debugw("Processing message", "channel", msg.Channel, "session", key, "kind", string(msg.Kind))

	switch msg.Kind {
	case bus.InboundSelection:
		k, _ := ParseSelection(msg.Content)
		r.final(o.HandleUploadTypeSelected(key, k))

	case bus.InboundDocument, bus.InboundPhoto:
		att := msg.Attachment
		if att == nil {
			return
		}
		switch {
		case msg.Kind == bus.InboundDocument && media.IsPDF(att.FileName, att.Data):
			r.final(o.HandleUploadPayload(opCtx, key, conversation.PDFPayload(att.FileName, att.Data), r.observe))
		case media.IsImage(att.FileName, att.Data):
			r.final(o.HandleImageInput(opCtx, key, att.FileName, att.Data, r.observe))
		default:
			r.final(errorEvent(&UnsupportedContentError{FileName: att.FileName, MimeType: att.MimeType}))
		}

	default:
		cmd, ok := parseCommand(msg.Content)
		if !ok {
			r.final(o.HandleTextInput(opCtx, key, msg.Content, r.observe))
			return
		}
		switch cmd {
		case "start", "help":
			r.text(WelcomeText, nil)
		case "upload":
			r.final(o.StartUpload(key))
		case "ask":
			r.final(o.AskQuestion(key))
		case "cancel":
			r.final(o.Cancel(key))
		default:
			r.final(o.HandleTextInput(opCtx, key, msg.Content, r.observe))
		}
	}
}

// parseCommand extracts the command name from "/upload" or "/upload@my_bot".
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", false
	}
	name := strings.Fields(text[1:])[0]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), true
}

// replier publishes the renderings of one inbound message. The pending
// notice of an upload, query or image analysis opens a streamed reply that
// is updated in place with the progress and then the result.
type replier struct {
	ctx     context.Context
	bus     *bus.MessageBus
	msg     bus.InboundMessage
	updates chan string
}

func newReplier(ctx context.Context, b *bus.MessageBus, msg bus.InboundMessage) *replier {
	return &replier{ctx: ctx, bus: b, msg: msg}
}

func (r *replier) observe(ev Event) {
	switch ev.Kind {
	case EventPending:
		r.progress(RenderForBot(ev).Text)
	case EventStreamingProgress:
		r.progress(ev.Partial)
	default:
		r.final(ev)
	}
}

func (r *replier) progress(rendered string) {
	if r.updates == nil {
		r.updates = make(chan string, 16)
		r.publish(bus.OutboundMessage{Content: rendered, Updates: r.updates})
		return
	}
	// renderings are cumulative, so dropping one under back-pressure loses nothing
	select {
	case r.updates <- rendered:
	default:
	}
}

func (r *replier) final(ev Event) {
	out := RenderForBot(ev)
	if r.updates != nil {
		switch {
		case out.Skip && ev.Kind != EventDiscarded:
			// the echo of the user's own message leaves the reply open
			return
		case len(out.Buttons) == 0:
			r.closeStream(out.Text)
			return
		default:
			r.closeStream("")
		}
	}
	if out.Skip {
		return
	}
	r.text(out.Text, out.Buttons)
}

// closeStream ends the open streamed reply, last being its final rendering.
// An empty last keeps the rendering already shown.
func (r *replier) closeStream(last string) {
	if r.updates == nil {
		return
	}
	if last != "" {
		select {
		case r.updates <- last:
		case <-r.ctx.Done():
		}
	}
	close(r.updates)
	r.updates = nil
}

func (r *replier) text(content string, buttons []bus.Button) {
	r.publish(bus.OutboundMessage{Content: content, Buttons: buttons})
}

func (r *replier) publish(out bus.OutboundMessage) {
	out.Channel = r.msg.Channel
	out.ChatID = r.msg.ChatID
	if err := r.bus.PublishOutbound(r.ctx, out); err != nil {
		zap.S().Warnw("Dropping reply", "channel", out.Channel, "chat", out.ChatID, "err", err)
	}
}
