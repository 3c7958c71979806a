package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepJob returns a scheduled job that drops sessions idle for longer than
// ttl. Results of effects still in flight for a dropped session are discarded.
func (m *Manager) SweepJob(ttl time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		evicted := m.EvictIdle(ttl, time.Now())
		if len(evicted) > 0 {
			zap.S().Infow("Evicted idle sessions", "count", len(evicted), "keys", evicted)
		}
		return nil
	}
}
