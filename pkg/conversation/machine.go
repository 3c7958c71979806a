package conversation

// Event is user input for the state machine.
type Event interface {
	event()
}

// StartUpload opens a multi-turn upload without a kind (the /upload command).
type StartUpload struct{}

// AskQuestion opens a question workflow (the /ask command).
type AskQuestion struct{}

// SelectUploadType picks the kind of the upload. KindUnknown asks for one.
type SelectUploadType struct{ Kind Kind }

// SubmitUploadPayload delivers the content to upload.
type SubmitUploadPayload struct{ Payload Payload }

// SubmitQuestion delivers a question for the knowledge base.
type SubmitQuestion struct{ Text string }

// SubmitImage delivers an image for analysis.
type SubmitImage struct{ FileName string }

// Cancel abandons any workflow.
type Cancel struct{}

func (StartUpload) event()         {}
func (AskQuestion) event()         {}
func (SelectUploadType) event()    {}
func (SubmitUploadPayload) event() {}
func (SubmitQuestion) event()      {}
func (SubmitImage) event()         {}
func (Cancel) event()              {}

// EffectKind tags an Effect.
type EffectKind int

const (
	EffectNone EffectKind = iota
	EffectPromptUploadType
	EffectPromptPayload
	EffectPromptQuestion
	EffectDispatchUpload
	EffectDispatchQuery
	EffectDispatchImage
	EffectReject
	EffectCancelled
)

func (k EffectKind) String() string {
	switch k {
	case EffectNone:
		return "none"
	case EffectPromptUploadType:
		return "prompt_upload_type"
	case EffectPromptPayload:
		return "prompt_payload"
	case EffectPromptQuestion:
		return "prompt_question"
	case EffectDispatchUpload:
		return "dispatch_upload"
	case EffectDispatchQuery:
		return "dispatch_query"
	case EffectDispatchImage:
		return "dispatch_image"
	case EffectReject:
		return "reject"
	case EffectCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Effect is what the caller must do after a transition.
type Effect struct {
	Kind     EffectKind
	Upload   Kind    // EffectPromptPayload
	Options  []Kind  // EffectPromptUploadType
	Payload  Payload // EffectDispatchUpload
	Question string  // EffectDispatchQuery
	Reason   Reason  // EffectReject
	Expected State   // EffectReject: the state that was kept
}

// IsDispatch reports whether the effect performs network I/O.
func (e Effect) IsDispatch() bool {
	switch e.Kind {
	case EffectDispatchUpload, EffectDispatchQuery, EffectDispatchImage:
		return true
	}
	return false
}

// Reason explains a rejection.
type Reason int

const (
	ReasonNoActiveWorkflow Reason = iota
	ReasonMismatchedInput
	ReasonUnsupportedKind
	ReasonImagesDisabled
)

func (r Reason) String() string {
	switch r {
	case ReasonNoActiveWorkflow:
		return "no active workflow"
	case ReasonMismatchedInput:
		return "input does not match the active workflow"
	case ReasonUnsupportedKind:
		return "upload type not supported on this channel"
	case ReasonImagesDisabled:
		return "images are not accepted on this channel"
	default:
		return "rejected"
	}
}

// Policy captures per-channel differences in how input is interpreted.
type Policy struct {
	// FreeformQuestions treats text submitted while idle as a question. The
	// single-session chat UI has no explicit /ask step.
	FreeformQuestions bool
	// UploadKinds lists the kinds the channel can collect. Empty means all.
	UploadKinds []Kind
	// AcceptImages enables the image analysis path.
	AcceptImages bool
}

// Allows reports whether the channel can collect uploads of kind k.
func (p Policy) Allows(k Kind) bool {
	if k == KindUnknown {
		return false
	}
	if len(p.UploadKinds) == 0 {
		return true
	}
	for _, allowed := range p.UploadKinds {
		if allowed == k {
			return true
		}
	}
	return false
}

// Kinds returns the kinds offered to the user, in display order.
func (p Policy) Kinds() []Kind {
	out := make([]Kind, 0, len(AllKinds))
	for _, k := range AllKinds {
		if p.Allows(k) {
			out = append(out, k)
		}
	}
	return out
}

// Transition computes the next state and effect for ev in state s. Every
// state/event pair is handled; input that does not fit is rejected and the
// state is kept.
func Transition(s State, ev Event, p Policy) (State, Effect) {
	switch e := ev.(type) {
	case Cancel:
		return Idle, Effect{Kind: EffectCancelled}

	case StartUpload:
		return AwaitingUploadType(), Effect{Kind: EffectPromptUploadType, Options: p.Kinds()}

	case AskQuestion:
		return AwaitingQuestion(), Effect{Kind: EffectPromptQuestion}

	case SelectUploadType:
		switch s.Stage {
		case StageIdle, StageAwaitingUploadType:
			// no kind yet: ask for one
			if e.Kind == KindUnknown {
				return AwaitingUploadType(), Effect{Kind: EffectPromptUploadType, Options: p.Kinds()}
			}
			if !p.Allows(e.Kind) {
				return s, reject(s, ReasonUnsupportedKind)
			}
			return AwaitingUploadPayload(e.Kind), Effect{Kind: EffectPromptPayload, Upload: e.Kind}
		case StageAwaitingUploadPayload, StageAwaitingQuestion:
			return s, reject(s, ReasonMismatchedInput)
		}

	case SubmitUploadPayload:
		switch s.Stage {
		case StageAwaitingUploadPayload:
			if e.Payload.Kind != s.Kind {
				return s, reject(s, ReasonMismatchedInput)
			}
			return Idle, Effect{Kind: EffectDispatchUpload, Payload: e.Payload}
		case StageIdle:
			return s, reject(s, ReasonNoActiveWorkflow)
		case StageAwaitingUploadType, StageAwaitingQuestion:
			return s, reject(s, ReasonMismatchedInput)
		}

	case SubmitQuestion:
		switch s.Stage {
		case StageAwaitingQuestion:
			return Idle, Effect{Kind: EffectDispatchQuery, Question: e.Text}
		case StageIdle:
			if !p.FreeformQuestions {
				return s, reject(s, ReasonNoActiveWorkflow)
			}
			return Idle, Effect{Kind: EffectDispatchQuery, Question: e.Text}
		case StageAwaitingUploadType, StageAwaitingUploadPayload:
			return s, reject(s, ReasonMismatchedInput)
		}

	case SubmitImage:
		if !p.AcceptImages {
			return s, reject(s, ReasonImagesDisabled)
		}
		switch s.Stage {
		case StageIdle:
			return Idle, Effect{Kind: EffectDispatchImage}
		case StageAwaitingUploadType, StageAwaitingUploadPayload, StageAwaitingQuestion:
			return s, reject(s, ReasonMismatchedInput)
		}
	}

	return s, reject(s, ReasonNoActiveWorkflow)
}

func reject(s State, r Reason) Effect {
	return Effect{Kind: EffectReject, Reason: r, Expected: s}
}
