package session

import (
	"context"
	"log/slog"
	"time"
)

const ttlWorkerInterval = 5 * time.Minute

// Abandoner marks persisted sessions that outlived their owner as abandoned.
type Abandoner interface {
	AbandonStale(ctx context.Context, ttl time.Duration, live []string) (int64, error)
}

// StartTTLWorker runs a background goroutine that periodically closes idle
// sessions and marks stale persisted ones as abandoned.
func StartTTLWorker(ctx context.Context, mgr *Manager, repo Abandoner, ttl time.Duration) {
	startTTLWorker(ctx, mgr, repo, ttl, ttlWorkerInterval)
}

func startTTLWorker(ctx context.Context, mgr *Manager, repo Abandoner, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				sweepExpired(ctx, mgr, repo, ttl)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepExpired(ctx context.Context, mgr *Manager, repo Abandoner, ttl time.Duration) {
	if closed := mgr.Sweep(ctx, ttl); closed > 0 {
		slog.Info("TTL worker closed idle sessions", "count", closed)
	}

	// Sessions left active by a crashed process are only visible in the store.
	abandoned, err := repo.AbandonStale(ctx, ttl, mgr.IDs())
	if err != nil {
		slog.Error("TTL worker failed to abandon stale sessions", "error", err)
		return
	}
	if abandoned > 0 {
		slog.Info("TTL worker abandoned stale sessions", "count", abandoned)
	}
}
