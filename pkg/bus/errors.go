package bus

import "errors"

// ErrStopped is returned by publishers after Stop.
var ErrStopped = errors.New("message bus stopped")
