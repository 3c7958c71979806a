package agent

import (
	"github.com/storacha-rag/ragbot/pkg/conversation"
	"github.com/storacha-rag/ragbot/pkg/session"
)

// EventKind tags an Event.
type EventKind int

const (
	EventTranscriptAppended EventKind = iota
	EventPromptForInput
	EventStreamingProgress
	EventError
	EventPending
	EventNotice
	EventDiscarded
)

func (k EventKind) String() string {
	switch k {
	case EventTranscriptAppended:
		return "transcript_appended"
	case EventPromptForInput:
		return "prompt_for_input"
	case EventStreamingProgress:
		return "streaming_progress"
	case EventError:
		return "error"
	case EventPending:
		return "pending"
	case EventNotice:
		return "notice"
	case EventDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Notice identifies a status line for EventPending and EventNotice.
type Notice string

const (
	NoticeUploading Notice = "uploading"
	NoticeSearching Notice = "searching"
	NoticeAnalyzing Notice = "analyzing"
	NoticeUploaded  Notice = "uploaded"
	NoticeCancelled Notice = "cancelled"
)

// Event is a channel-agnostic rendering instruction. Front ends translate it
// into their own output.
type Event struct {
	Kind EventKind
	// Effect is the dispatched effect the event belongs to, if any.
	Effect conversation.EffectKind

	Message *session.Message   // EventTranscriptAppended
	Expect  conversation.State // EventPromptForInput
	Options []conversation.Kind
	Partial string // EventStreamingProgress: live value plus cursor
	Notice  Notice // EventPending, EventNotice
	Upload  conversation.Kind
	Err     error // EventError
}

// Observer receives the intermediate events of an operation, in order, before
// the operation returns its final event. It is called without locks held.
type Observer func(Event)

func (o Observer) emit(ev Event) {
	if o != nil {
		o(ev)
	}
}

func errorEvent(err error) Event {
	return Event{Kind: EventError, Err: err}
}
