package agent

import (
	"errors"
	"fmt"

	"github.com/storacha-rag/ragbot/pkg/conversation"
)

// ErrVisionDisabled is returned when an image arrives but no vision provider
// is configured.
var ErrVisionDisabled = errors.New("image analysis is not configured")

// InputMismatchError reports input that does not fit the session's current
// workflow. The session state is unchanged and nothing was sent.
type InputMismatchError struct {
	Expected conversation.State
	Reason   conversation.Reason
}

func (e *InputMismatchError) Error() string {
	return fmt.Sprintf("unexpected input (%s): waiting for %s", e.Reason, e.Expected.Expectation())
}

// UnsupportedContentError reports a file that cannot be used on the path it
// was sent to. It is raised before any network call.
type UnsupportedContentError struct {
	FileName string
	MimeType string
}

func (e *UnsupportedContentError) Error() string {
	return fmt.Sprintf("unsupported content %q (%s)", e.FileName, e.MimeType)
}

// StreamError reports a streamed reply that ended early. Partial holds what
// was committed before the failure.
type StreamError struct {
	Partial   string
	Cancelled bool
	Err       error
}

func (e *StreamError) Error() string {
	if e.Cancelled {
		return "stream cancelled"
	}
	return fmt.Sprintf("stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }
