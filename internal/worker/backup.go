package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/inspecta/internal/backup"
)

// BackupCreator takes one backup of the local store.
type BackupCreator interface {
	Create(ctx context.Context) (*backup.Result, error)
}

// BackupWorker periodically snapshots the local store and uploads it.
type BackupWorker struct {
	backups  BackupCreator
	interval time.Duration
}

// NewBackupWorker creates a worker that backs up every interval.
func NewBackupWorker(backups BackupCreator, interval time.Duration) *BackupWorker {
	return &BackupWorker{
		backups:  backups,
		interval: interval,
	}
}

// Run starts the worker loop. The first backup happens one interval after
// start.
func (w *BackupWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup",
		"action", "worker_started",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.backupOnce(ctx)
		}
	}
}

func (w *BackupWorker) backupOnce(ctx context.Context) {
	res, err := w.backups.Create(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Upload failures keep the local snapshot
		action := "backup_failed"
		if res != nil {
			action = "backup_upload_failed"
		}
		slog.Warn("backup failed",
			"component", "worker",
			"worker", "backup",
			"action", action,
			"error", err,
		)
		return
	}

	slog.Info("backup completed",
		"component", "worker",
		"worker", "backup",
		"action", "backup_complete",
		"path", res.Path,
		"uploaded", res.Uploaded,
	)
}
