package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/inspecta/internal/syncengine"
)

// OfflineSyncer drains the offline write queue.
type OfflineSyncer interface {
	SyncOfflineData(ctx context.Context) (*syncengine.SyncStats, error)
}

// SyncerFunc adapts a function to OfflineSyncer.
type SyncerFunc func(ctx context.Context) (*syncengine.SyncStats, error)

// SyncOfflineData calls f.
func (f SyncerFunc) SyncOfflineData(ctx context.Context) (*syncengine.SyncStats, error) {
	return f(ctx)
}

// SyncWorker periodically pushes queued writes to the remote API.
type SyncWorker struct {
	syncer   OfflineSyncer
	interval time.Duration
}

// NewSyncWorker creates a worker that runs a sync pass every interval.
func NewSyncWorker(syncer OfflineSyncer, interval time.Duration) *SyncWorker {
	return &SyncWorker{
		syncer:   syncer,
		interval: interval,
	}
}

// Run starts the worker loop. Syncs immediately on start, then on each
// interval, until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "offline-sync",
		"action", "worker_started",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.syncOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "offline-sync",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.syncOnce(ctx)
		}
	}
}

func (w *SyncWorker) syncOnce(ctx context.Context) {
	stats, err := w.syncer.SyncOfflineData(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("offline sync pass failed",
			"component", "worker",
			"worker", "offline-sync",
			"action", "sync_failed",
			"error", err,
		)
		return
	}
	if stats == nil {
		return
	}

	// Idle passes stay quiet
	if stats.Attempted > 0 || stats.Stuck > 0 {
		level := slog.LevelInfo
		if stats.Stuck > 0 || stats.Discarded > 0 {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "offline sync pass completed",
			"component", "worker",
			"worker", "offline-sync",
			"action", "cycle_complete",
			"attempted", stats.Attempted,
			"pushed", stats.Pushed,
			"failed", stats.Failed,
			"skipped", stats.Skipped,
			"discarded", stats.Discarded,
			"stuck", stats.Stuck,
			"remaining", stats.Remaining,
			"duration_ms", stats.Duration.Milliseconds(),
		)
	}
}
