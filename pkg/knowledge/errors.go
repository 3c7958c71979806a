package knowledge

import (
	"fmt"

	"github.com/storacha-rag/ragbot/pkg/conversation"
)

// UploadError reports a failed ingestion request. Either Err is set (the
// request never produced a response) or Status and Body hold the backend's
// non-success reply verbatim.
type UploadError struct {
	Kind   conversation.Kind
	Status int
	Body   string
	Err    error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("upload %s: status %d: %s", e.Kind, e.Status, e.Body)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Transport reports whether the request failed before a response arrived.
func (e *UploadError) Transport() bool { return e.Err != nil && e.Status == 0 }

// QueryError reports a failed query request, shaped like UploadError.
type QueryError struct {
	Status int
	Body   string
	Err    error
}

func (e *QueryError) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("query: status %d: %v", e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("query: %v", e.Err)
	default:
		return fmt.Sprintf("query: status %d: %s", e.Status, e.Body)
	}
}

func (e *QueryError) Unwrap() error { return e.Err }

// Transport reports whether the request failed before a response arrived.
func (e *QueryError) Transport() bool { return e.Err != nil && e.Status == 0 }
