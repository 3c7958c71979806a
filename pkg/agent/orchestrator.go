package agent

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storacha-rag/ragbot/pkg/conversation"
	"github.com/storacha-rag/ragbot/pkg/knowledge"
	"github.com/storacha-rag/ragbot/pkg/media"
	"github.com/storacha-rag/ragbot/pkg/providers"
	"github.com/storacha-rag/ragbot/pkg/session"
	"github.com/storacha-rag/ragbot/pkg/stream"
)

// KnowledgeBase uploads content to and queries the retrieval backend.
type KnowledgeBase interface {
	Upload(ctx context.Context, p conversation.Payload) (knowledge.Ack, error)
	Query(ctx context.Context, question string) (knowledge.Answer, error)
}

// VisionSettings shape the image analysis request and its rendering.
type VisionSettings struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Cursor       string
}

// DefaultVisionSettings returns the prompts used when none are configured.
func DefaultVisionSettings() VisionSettings {
	return VisionSettings{
		Model:        providers.DefaultVisionModel,
		SystemPrompt: "You are a helpful AI assistant with vision capabilities.",
		UserPrompt:   "Analyze this image:",
		Cursor:       stream.DefaultCursor,
	}
}

// Orchestrator drives the upload/query/image workflows of every session on
// one channel. Session mutations happen under the session lock; network calls
// happen outside it and their results are dropped if the session was
// cancelled or reset in the meantime.
type Orchestrator struct {
	Channel   string
	Policy    conversation.Policy
	Sessions  *session.Manager
	Knowledge KnowledgeBase
	Vision    providers.VisionProvider

	vision VisionSettings
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithVision enables the image analysis path.
func WithVision(p providers.VisionProvider, s VisionSettings) Option {
	return func(o *Orchestrator) {
		o.Vision = p
		def := DefaultVisionSettings()
		if s.Model == "" {
			s.Model = p.GetDefaultModel()
		}
		if s.SystemPrompt == "" {
			s.SystemPrompt = def.SystemPrompt
		}
		if s.UserPrompt == "" {
			s.UserPrompt = def.UserPrompt
		}
		if s.Cursor == "" {
			s.Cursor = def.Cursor
		}
		o.vision = s
	}
}

// NewOrchestrator creates an orchestrator for channel. Orchestrators of
// different channels may share one session store and knowledge base.
func NewOrchestrator(channel string, policy conversation.Policy, sessions *session.Manager, kb KnowledgeBase, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		Channel:   channel,
		Policy:    policy,
		Sessions:  sessions,
		Knowledge: kb,
		vision:    DefaultVisionSettings(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// step is a transition computed and applied under the session lock.
type step struct {
	sess     *session.Session
	next     conversation.State
	effect   conversation.Effect
	version  uint64
	safeMode bool
	recorded *session.Message
}

// apply runs one transition atomically. interpret maps the current state to
// the event to feed the machine; record, if set, returns the user message to
// append when the transition dispatches an effect.
func (o *Orchestrator) apply(key string, interpret func(conversation.State) conversation.Event, record func(conversation.Effect) *session.Message) step {
	st := step{sess: o.Sessions.GetOrCreate(key)}
	st.sess.Update(func(tx *session.Tx) {
		cur := tx.State()
		st.next, st.effect = conversation.Transition(cur, interpret(cur), o.Policy)
		if st.effect.Kind != conversation.EffectReject {
			tx.SetState(st.next)
			if st.effect.Kind == conversation.EffectCancelled {
				tx.Invalidate()
			}
			if st.effect.IsDispatch() && record != nil {
				if msg := record(st.effect); msg != nil {
					tx.Append(*msg)
					st.recorded = msg
				}
			}
		}
		st.version = tx.Version()
		st.safeMode = tx.SafeMode()
	})
	return st
}

// commit appends msg unless the session moved to a new generation since the
// effect was dispatched. It reports whether the result is still current.
func (st step) commit(msg *session.Message) bool {
	current := false
	st.sess.Update(func(tx *session.Tx) {
		if tx.Version() != st.version {
			return
		}
		current = true
		if msg != nil {
			tx.Append(*msg)
		}
	})
	return current
}

// StartUpload opens the upload workflow and asks for the upload type.
func (o *Orchestrator) StartUpload(key string) Event {
	st := o.apply(key, func(conversation.State) conversation.Event { return conversation.StartUpload{} }, nil)
	return o.immediate(st)
}

// AskQuestion opens the question workflow.
func (o *Orchestrator) AskQuestion(key string) Event {
	st := o.apply(key, func(conversation.State) conversation.Event { return conversation.AskQuestion{} }, nil)
	return o.immediate(st)
}

// HandleUploadTypeSelected picks the kind of the pending upload.
func (o *Orchestrator) HandleUploadTypeSelected(key string, kind conversation.Kind) Event {
	st := o.apply(key, func(conversation.State) conversation.Event { return conversation.SelectUploadType{Kind: kind} }, nil)
	return o.immediate(st)
}

// Cancel abandons the session's workflow. It returns immediately; results of
// effects still in flight are discarded when they complete.
func (o *Orchestrator) Cancel(key string) Event {
	st := o.apply(key, func(conversation.State) conversation.Event { return conversation.Cancel{} }, nil)
	zap.S().Infow("Session cancelled", "channel", o.Channel, "session", key, "version", st.version)
	return o.immediate(st)
}

// HandleTextInput interprets free text according to the session state: an
// upload type name, the text or URL to upload, or a question.
func (o *Orchestrator) HandleTextInput(ctx context.Context, key, text string, obs Observer) Event {
	st := o.apply(key, func(cur conversation.State) conversation.Event {
		return textEvent(cur, text)
	}, func(eff conversation.Effect) *session.Message {
		switch eff.Kind {
		case conversation.EffectDispatchQuery:
			return &session.Message{Role: session.RoleUser, Kind: session.KindText, Content: eff.Question}
		case conversation.EffectDispatchUpload:
			if eff.Payload.Kind == conversation.KindText {
				return &session.Message{Role: session.RoleUser, Kind: session.KindText, Content: eff.Payload.Content}
			}
		}
		return nil
	})
	return o.execute(ctx, key, st, obs)
}

// HandleUploadPayload submits content for the pending upload.
func (o *Orchestrator) HandleUploadPayload(ctx context.Context, key string, p conversation.Payload, obs Observer) Event {
	st := o.apply(key, func(conversation.State) conversation.Event {
		return conversation.SubmitUploadPayload{Payload: p}
	}, func(eff conversation.Effect) *session.Message {
		if eff.Payload.Kind == conversation.KindText {
			return &session.Message{Role: session.RoleUser, Kind: session.KindText, Content: eff.Payload.Content}
		}
		return nil
	})
	return o.execute(ctx, key, st, obs)
}

// HandleImageInput analyzes an image with the streaming vision provider.
// Non-image content is rejected before any state change or network call.
func (o *Orchestrator) HandleImageInput(ctx context.Context, key, fileName string, data []byte, obs Observer) Event {
	if !media.IsImage(fileName, data) {
		return errorEvent(&UnsupportedContentError{FileName: fileName, MimeType: media.DetectMIME(data)})
	}
	if o.Policy.AcceptImages && o.Vision == nil {
		return errorEvent(ErrVisionDisabled)
	}

	encoded := media.EncodeImage(data)
	st := o.apply(key, func(conversation.State) conversation.Event {
		return conversation.SubmitImage{FileName: fileName}
	}, func(conversation.Effect) *session.Message {
		return &session.Message{Role: session.RoleUser, Kind: session.KindImage, Content: encoded, FileName: fileName}
	})
	if st.effect.Kind != conversation.EffectDispatchImage {
		return o.immediate(st)
	}

	obs.emit(Event{Kind: EventTranscriptAppended, Effect: st.effect.Kind, Message: st.recorded})
	return o.analyze(ctx, key, st, encoded, obs)
}

// SetSafeMode toggles the vision safety flag of a session.
func (o *Orchestrator) SetSafeMode(key string, on bool) {
	o.Sessions.GetOrCreate(key).SetSafeMode(on)
}

// Transcript returns the messages of a session.
func (o *Orchestrator) Transcript(key string) []session.Message {
	return o.Sessions.GetOrCreate(key).Transcript()
}

// State returns the workflow state of a session.
func (o *Orchestrator) State(key string) conversation.State {
	return o.Sessions.GetOrCreate(key).State()
}

func textEvent(cur conversation.State, text string) conversation.Event {
	switch cur.Stage {
	case conversation.StageAwaitingUploadType:
		if k, ok := conversation.ParseKind(text); ok {
			return conversation.SelectUploadType{Kind: k}
		}
		return conversation.SubmitUploadPayload{Payload: conversation.TextPayload(text)}
	case conversation.StageAwaitingUploadPayload:
		if cur.Kind == conversation.KindURL {
			return conversation.SubmitUploadPayload{Payload: conversation.URLPayload(strings.TrimSpace(text))}
		}
		return conversation.SubmitUploadPayload{Payload: conversation.TextPayload(text)}
	default:
		return conversation.SubmitQuestion{Text: text}
	}
}

// immediate renders effects that need no network call.
func (o *Orchestrator) immediate(st step) Event {
	eff := st.effect
	switch eff.Kind {
	case conversation.EffectReject:
		return errorEvent(&InputMismatchError{Expected: eff.Expected, Reason: eff.Reason})
	case conversation.EffectCancelled:
		return Event{Kind: EventNotice, Notice: NoticeCancelled}
	case conversation.EffectPromptUploadType:
		return Event{Kind: EventPromptForInput, Expect: st.next, Options: eff.Options}
	case conversation.EffectPromptPayload:
		return Event{Kind: EventPromptForInput, Expect: st.next, Upload: eff.Upload}
	case conversation.EffectPromptQuestion:
		return Event{Kind: EventPromptForInput, Expect: st.next}
	default:
		return Event{Kind: EventDiscarded, Effect: eff.Kind}
	}
}

func (o *Orchestrator) execute(ctx context.Context, key string, st step, obs Observer) Event {
	if !st.effect.IsDispatch() {
		return o.immediate(st)
	}
	if st.recorded != nil {
		obs.emit(Event{Kind: EventTranscriptAppended, Effect: st.effect.Kind, Message: st.recorded})
	}

	switch st.effect.Kind {
	case conversation.EffectDispatchUpload:
		return o.upload(ctx, key, st, obs)
	case conversation.EffectDispatchQuery:
		return o.query(ctx, key, st, obs)
	default:
		// images only arrive through HandleImageInput
		return o.immediate(st)
	}
}

// logger tags every line of one dispatched effect with a fresh effect id.
func (o *Orchestrator) logger(key string, st step) *zap.SugaredLogger {
	return zap.S().With("channel", o.Channel, "session", key, "effect", uuid.NewString(), "kind", st.effect.Kind.String(), "version", st.version)
}

func (o *Orchestrator) upload(ctx context.Context, key string, st step, obs Observer) Event {
	p := st.effect.Payload
	log := o.logger(key, st)
	log.Infow("Dispatching upload", "item", p.Describe())

	obs.emit(Event{Kind: EventPending, Effect: st.effect.Kind, Notice: NoticeUploading, Upload: p.Kind})
	_, err := o.Knowledge.Upload(ctx, p)

	if !st.commit(nil) {
		log.Infow("Discarding upload result", "err", err)
		return Event{Kind: EventDiscarded, Effect: st.effect.Kind}
	}
	if err != nil {
		log.Warnw("Upload failed", "err", err)
		return Event{Kind: EventError, Effect: st.effect.Kind, Err: err, Upload: p.Kind}
	}
	return Event{Kind: EventNotice, Effect: st.effect.Kind, Notice: NoticeUploaded, Upload: p.Kind}
}

func (o *Orchestrator) query(ctx context.Context, key string, st step, obs Observer) Event {
	log := o.logger(key, st)
	log.Infow("Dispatching query")

	obs.emit(Event{Kind: EventPending, Effect: st.effect.Kind, Notice: NoticeSearching})
	ans, err := o.Knowledge.Query(ctx, st.effect.Question)

	var reply *session.Message
	if err == nil {
		reply = &session.Message{Role: session.RoleAssistant, Kind: session.KindText, Content: ans.Text}
	}
	if !st.commit(reply) {
		log.Infow("Discarding query result", "err", err)
		return Event{Kind: EventDiscarded, Effect: st.effect.Kind}
	}
	if err != nil {
		log.Warnw("Query failed", "err", err)
		return Event{Kind: EventError, Effect: st.effect.Kind, Err: err}
	}
	return Event{Kind: EventTranscriptAppended, Effect: st.effect.Kind, Message: reply}
}

func (o *Orchestrator) analyze(ctx context.Context, key string, st step, encoded string, obs Observer) Event {
	log := o.logger(key, st)
	log.Infow("Dispatching image analysis", "safe_prompt", st.safeMode)

	obs.emit(Event{Kind: EventPending, Effect: st.effect.Kind, Notice: NoticeAnalyzing})

	agg := stream.NewAggregator(o.vision.Cursor)
	msgs := providers.ImageAnalysisMessages(o.vision.SystemPrompt, o.vision.UserPrompt, encoded)

	var res stream.Result
	ch, err := o.Vision.Stream(ctx, msgs, providers.StreamOptions{Model: o.vision.Model, SafePrompt: st.safeMode})
	if err != nil {
		res = stream.Result{Content: agg.Commit(), Err: err, Cancelled: ctx.Err() != nil}
	} else {
		res = agg.Consume(ctx, ch, func(rendered string) {
			obs.emit(Event{Kind: EventStreamingProgress, Effect: st.effect.Kind, Partial: rendered})
		})
	}

	var reply *session.Message
	if !res.Partial() || res.Content != "" {
		reply = &session.Message{Role: session.RoleAssistant, Kind: session.KindText, Content: res.Content}
	}
	if !st.commit(reply) {
		log.Infow("Discarding image analysis", "chars", len(res.Content))
		return Event{Kind: EventDiscarded, Effect: st.effect.Kind}
	}

	if res.Partial() {
		log.Warnw("Image analysis ended early", "cancelled", res.Cancelled, "chars", len(res.Content), "err", res.Err)
		if reply != nil {
			obs.emit(Event{Kind: EventTranscriptAppended, Effect: st.effect.Kind, Message: reply})
		}
		return Event{Kind: EventError, Effect: st.effect.Kind, Err: &StreamError{Partial: res.Content, Cancelled: res.Cancelled, Err: res.Err}}
	}
	return Event{Kind: EventTranscriptAppended, Effect: st.effect.Kind, Message: reply}
}
