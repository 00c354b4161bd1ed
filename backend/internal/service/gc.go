package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SessionGarbageCollector deletes revoked or expired Session Registry rows.
// Stale rows are harmless to the revocation gate, so this is housekeeping only.
type SessionGarbageCollector struct {
	storage GCStorage
	logger  *slog.Logger

	mu               sync.Mutex
	lastCleanupStats CleanupStats
}

// CleanupStats tracks metrics from the last garbage collection run.
type CleanupStats struct {
	RunAt      time.Time
	Deleted    int64
	DurationMs int64
	Err        error
}

// GCStorage defines the database operations needed for garbage collection.
type GCStorage interface {
	DeleteStaleTokens(ctx context.Context) (int64, error)
}

func NewSessionGarbageCollector(storage GCStorage, logger *slog.Logger) *SessionGarbageCollector {
	return &SessionGarbageCollector{storage: storage, logger: logger}
}

// StartBackgroundCleanup runs RunCleanup every interval until ctx is done.
func (gc *SessionGarbageCollector) StartBackgroundCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	gc.logger.Info("started session gc", "interval", interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := gc.RunCleanup(ctx); err != nil {
					gc.logger.Error("session gc failed", "error", err)
				}
			case <-ctx.Done():
				gc.logger.Info("session gc shutting down")
				return
			}
		}
	}()
}

// RunCleanup executes a single garbage collection cycle.
func (gc *SessionGarbageCollector) RunCleanup(ctx context.Context) (int64, error) {
	start := time.Now()
	deleted, err := gc.storage.DeleteStaleTokens(ctx)

	stats := CleanupStats{
		RunAt:      start,
		Deleted:    deleted,
		DurationMs: time.Since(start).Milliseconds(),
		Err:        err,
	}
	gc.mu.Lock()
	gc.lastCleanupStats = stats
	gc.mu.Unlock()

	if err != nil {
		return 0, err
	}
	gcDeletedTotal.Add(float64(deleted))
	gc.logger.Debug("session gc completed", "deleted", deleted, "duration_ms", stats.DurationMs)
	return deleted, nil
}

// GetLastCleanupStats returns statistics from the last cleanup run.
func (gc *SessionGarbageCollector) GetLastCleanupStats() CleanupStats {
	gc.mu.Lock()
	defer gc.mu.Unlock()
	return gc.lastCleanupStats
}
