// Package conversation holds the per-session workflow state machine. Transitions
// are pure: they return the next state and the effect the caller must execute.
package conversation

import (
	"fmt"
	"strings"
)

// Kind is the type of content a user uploads to the knowledge base.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindURL
	KindPDF
)

// AllKinds lists the upload kinds in the order they are offered to users.
var AllKinds = []Kind{KindPDF, KindURL, KindText}

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindURL:
		return "url"
	case KindPDF:
		return "pdf"
	default:
		return "unknown"
	}
}

// ParseKind maps a user or button value ("pdf", "URL", " text ") to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return KindText, true
	case "url":
		return KindURL, true
	case "pdf":
		return KindPDF, true
	}
	return KindUnknown, false
}

// Stage is the tag of a State.
type Stage int

const (
	StageIdle Stage = iota
	StageAwaitingUploadType
	StageAwaitingUploadPayload
	StageAwaitingQuestion
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageAwaitingUploadType:
		return "awaiting_upload_type"
	case StageAwaitingUploadPayload:
		return "awaiting_upload_payload"
	case StageAwaitingQuestion:
		return "awaiting_question"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// State is the current workflow position of a session. Kind is only set for
// StageAwaitingUploadPayload.
type State struct {
	Stage Stage
	Kind  Kind
}

// Idle is the initial state.
var Idle = State{Stage: StageIdle}

// AwaitingUploadType waits for the user to pick what to upload.
func AwaitingUploadType() State { return State{Stage: StageAwaitingUploadType} }

// AwaitingUploadPayload waits for a payload of kind k.
func AwaitingUploadPayload(k Kind) State {
	return State{Stage: StageAwaitingUploadPayload, Kind: k}
}

// AwaitingQuestion waits for a question.
func AwaitingQuestion() State { return State{Stage: StageAwaitingQuestion} }

func (s State) String() string {
	if s.Stage == StageAwaitingUploadPayload {
		return s.Stage.String() + "{" + s.Kind.String() + "}"
	}
	return s.Stage.String()
}

// Expectation describes the input the state is waiting for, for user-facing hints.
func (s State) Expectation() string {
	switch s.Stage {
	case StageAwaitingUploadType:
		return "an upload type"
	case StageAwaitingUploadPayload:
		switch s.Kind {
		case KindPDF:
			return "a PDF document"
		case KindURL:
			return "a URL"
		default:
			return "the text to upload"
		}
	case StageAwaitingQuestion:
		return "a question"
	default:
		return "no input"
	}
}
