package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/storacha-rag/ragbot/pkg/bus"
	"github.com/storacha-rag/ragbot/pkg/conversation"
	"github.com/storacha-rag/ragbot/pkg/knowledge"
	"github.com/storacha-rag/ragbot/pkg/session"
)

// Bot-facing texts.
const (
	WelcomeText       = "🤖 Welcome to the Storacha RAG Bot!\nUse /upload to add knowledge, or /ask to query it."
	SelectTypeText    = "Select the type of data you want to upload:"
	PromptPDFText     = "📎 Please upload your PDF file now."
	PromptURLText     = "🔗 Please send the URL now."
	PromptTextText    = "📝 Please type the text you want to upload."
	PromptQuestion    = "🧠 Send your question:"
	UnexpectedText    = "❌ Unexpected input. Use /upload first."
	UploadingText     = "⏳ Uploading..."
	UploadedText      = "✅ Upload successful!"
	SearchingText     = "🔍 Searching..."
	AnalyzingText     = "🖼️ Analyzing image..."
	CancelledText     = "🚫 Cancelled."
	AnswerPrefix      = "🤖 Answer:\n\n"
	selectionPrefix   = "upload:"
	unsupportedFormat = "❌ Unsupported file %q. Send a JPG or PNG image, or a PDF after /upload."
)

// KindLabel is the button caption of an upload kind.
func KindLabel(k conversation.Kind) string {
	switch k {
	case conversation.KindPDF:
		return "📄 PDF"
	case conversation.KindURL:
		return "🔗 URL"
	case conversation.KindText:
		return "📝 Text"
	default:
		return k.String()
	}
}

// SelectionData is the button payload that selects upload kind k.
func SelectionData(k conversation.Kind) string {
	return selectionPrefix + k.String()
}

// ParseSelection maps button data back to an upload kind.
func ParseSelection(data string) (conversation.Kind, bool) {
	if !strings.HasPrefix(data, selectionPrefix) {
		return conversation.ParseKind(data)
	}
	return conversation.ParseKind(strings.TrimPrefix(data, selectionPrefix))
}

// Rendering is the bot text for one event. Skip is set for events bots do
// not show, such as the echo of the user's own message.
type Rendering struct {
	Text    string
	Buttons []bus.Button
	Skip    bool
}

// RenderForBot turns an event into the reply a chat bot sends.
func RenderForBot(ev Event) Rendering {
	switch ev.Kind {
	case EventPromptForInput:
		return renderPrompt(ev)
	case EventPending:
		switch ev.Notice {
		case NoticeUploading:
			return Rendering{Text: UploadingText}
		case NoticeSearching:
			return Rendering{Text: SearchingText}
		case NoticeAnalyzing:
			return Rendering{Text: AnalyzingText}
		}
	case EventNotice:
		switch ev.Notice {
		case NoticeUploaded:
			return Rendering{Text: UploadedText}
		case NoticeCancelled:
			return Rendering{Text: CancelledText}
		}
	case EventTranscriptAppended:
		if ev.Message == nil || ev.Message.Role != session.RoleAssistant {
			return Rendering{Skip: true}
		}
		// an answer is always shown, even when the backend returned it empty
		if ev.Effect == conversation.EffectDispatchQuery {
			return Rendering{Text: AnswerPrefix + ev.Message.Content}
		}
		if ev.Message.Content == "" {
			return Rendering{Skip: true}
		}
		return Rendering{Text: ev.Message.Content}
	case EventStreamingProgress:
		return Rendering{Text: ev.Partial}
	case EventError:
		return Rendering{Text: ErrorText(ev.Err)}
	}
	return Rendering{Skip: true}
}

func renderPrompt(ev Event) Rendering {
	switch ev.Expect.Stage {
	case conversation.StageAwaitingUploadType:
		buttons := make([]bus.Button, 0, len(ev.Options))
		for _, k := range ev.Options {
			buttons = append(buttons, bus.Button{Text: KindLabel(k), Data: SelectionData(k)})
		}
		return Rendering{Text: SelectTypeText, Buttons: buttons}
	case conversation.StageAwaitingUploadPayload:
		switch ev.Expect.Kind {
		case conversation.KindPDF:
			return Rendering{Text: PromptPDFText}
		case conversation.KindURL:
			return Rendering{Text: PromptURLText}
		default:
			return Rendering{Text: PromptTextText}
		}
	case conversation.StageAwaitingQuestion:
		return Rendering{Text: PromptQuestion}
	}
	return Rendering{Skip: true}
}

// ErrorText renders an error from the closed taxonomy for bots.
func ErrorText(err error) string {
	var (
		mismatch    *InputMismatchError
		unsupported *UnsupportedContentError
		uploadErr   *knowledge.UploadError
		queryErr    *knowledge.QueryError
		streamErr   *StreamError
	)
	switch {
	case errors.As(err, &mismatch):
		switch mismatch.Reason {
		case conversation.ReasonNoActiveWorkflow:
			return UnexpectedText
		case conversation.ReasonUnsupportedKind:
			return "❌ That upload type is not available here."
		case conversation.ReasonImagesDisabled:
			return "❌ Images are not supported here."
		default:
			return fmt.Sprintf("❌ Unexpected input. Please send %s, or /cancel.", mismatch.Expected.Expectation())
		}
	case errors.As(err, &unsupported):
		return fmt.Sprintf(unsupportedFormat, unsupported.FileName)
	case errors.As(err, &uploadErr):
		if uploadErr.Transport() {
			return fmt.Sprintf("⚠️ Error: %v", uploadErr.Err)
		}
		return fmt.Sprintf("❌ Upload failed: %s", uploadErr.Body)
	case errors.As(err, &queryErr):
		if queryErr.Err != nil {
			return fmt.Sprintf("⚠️ Error: %v", queryErr.Err)
		}
		return fmt.Sprintf("❌ Query failed: %s", queryErr.Body)
	case errors.As(err, &streamErr):
		if streamErr.Cancelled {
			return "[Interrupted]"
		}
		return fmt.Sprintf("⚠️ Error: %v", streamErr.Err)
	default:
		return fmt.Sprintf("⚠️ Error: %v", err)
	}
}
