package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often StartSweeper scans for expired sessions.
const DefaultSweepInterval = 5 * time.Minute

// ExpireCallback is called for every session removed by the sweeper.
type ExpireCallback func(key Key)

// StartSweeper runs a background goroutine that periodically drops expired
// sessions, so idle users do not hold memory until their next read. It stops
// when ctx is cancelled.
func StartSweeper(ctx context.Context, store *Store, interval time.Duration, onExpire ExpireCallback) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", store.TTL())

		for {
			select {
			case <-ticker.C:
				sweepExpired(store, onExpire)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpired(store *Store, onExpire ExpireCallback) {
	expired := store.Sweep()
	if len(expired) == 0 {
		return
	}
	for _, key := range expired {
		slog.Debug("Session expired", "chat_id", key.ChatID, "user_id", key.UserID)
		if onExpire != nil {
			onExpire(key)
		}
	}
	slog.Info("Session sweep completed", "expired", len(expired))
}
