// Package stream folds a token-streamed completion into a growing reply that
// can be rendered after every chunk and committed exactly once.
package stream

import (
	"context"
	"strings"
	"sync"
)

// DefaultCursor marks a reply that is still streaming.
const DefaultCursor = "▌"

// Chunk is one streamed delta. A chunk with Err set ends the stream.
type Chunk struct {
	Content string
	Err     error
}

// Aggregator owns one streaming reply. Chunks are applied in arrival order
// without reordering or deduplication.
type Aggregator struct {
	cursor string

	mu        sync.Mutex
	chunks    []string
	live      strings.Builder
	committed bool
	final     string
}

// NewAggregator creates an aggregator that renders with cursor. An empty
// cursor selects DefaultCursor.
func NewAggregator(cursor string) *Aggregator {
	if cursor == "" {
		cursor = DefaultCursor
	}
	return &Aggregator{cursor: cursor}
}

// Apply appends a delta and returns the live value. Deltas arriving after
// Commit are ignored.
func (a *Aggregator) Apply(delta string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.committed {
		return a.final
	}
	a.chunks = append(a.chunks, delta)
	a.live.WriteString(delta)
	return a.live.String()
}

// Live returns the concatenation of all applied chunks.
func (a *Aggregator) Live() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.committed {
		return a.final
	}
	return a.live.String()
}

// Rendered returns what a front end shows while streaming: the live value
// followed by the cursor, or the final value once committed.
func (a *Aggregator) Rendered() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.committed {
		return a.final
	}
	return a.live.String() + a.cursor
}

// Commit freezes the reply and returns its final value. Later calls return
// the same value.
func (a *Aggregator) Commit() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.committed {
		a.final = a.live.String()
		a.committed = true
	}
	return a.final
}

// Committed reports whether Commit has been called.
func (a *Aggregator) Committed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed
}

// Chunks returns the applied deltas in order.
func (a *Aggregator) Chunks() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.chunks))
	copy(out, a.chunks)
	return out
}

// Result is the outcome of Consume. Content is always the committed value,
// partial when Err is set or Cancelled is true.
type Result struct {
	Content   string
	Err       error
	Cancelled bool
}

// Partial reports whether the stream ended early.
func (r Result) Partial() bool { return r.Err != nil || r.Cancelled }

// Consume drains ch into the aggregator, calling onProgress with the rendered
// value after every chunk. It commits when ch closes, when a chunk carries an
// error, or when ctx is cancelled.
func (a *Aggregator) Consume(ctx context.Context, ch <-chan Chunk, onProgress func(rendered string)) Result {
	for {
		select {
		case <-ctx.Done():
			return Result{Content: a.Commit(), Err: ctx.Err(), Cancelled: true}
		case c, ok := <-ch:
			if !ok {
				return Result{Content: a.Commit()}
			}
			if c.Err != nil {
				return Result{Content: a.Commit(), Err: c.Err}
			}
			a.Apply(c.Content)
			if onProgress != nil {
				onProgress(a.Rendered())
			}
		}
	}
}
