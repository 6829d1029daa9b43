package room

import (
	"context"
	"log/slog"
	"time"
)

// RunCleanup periodically reclaims pre-created rooms nobody ever joined.
// It blocks until ctx is cancelled and is intended to run in its own
// goroutine.
func RunCleanup(ctx context.Context, reg *Registry, ttl, interval time.Duration, log *slog.Logger) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := reg.ReapNeverJoined(ttl); removed > 0 {
				log.Info("reclaimed unused pre-created rooms", "count", removed)
			}
		}
	}
}
