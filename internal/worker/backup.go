// Package worker hosts the background maintenance loops that run alongside
// the sync engine: periodic database backup and queue janitorial work.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/cadence/internal/snapshot"
)

// BackupStore is the store surface the backup worker needs.
type BackupStore interface {
	Checkpoint(ctx context.Context) error
	Path() string
	DeviceID() string
}

// BackupWorker periodically checkpoints the local database and uploads the
// file to S3-compatible storage. Upload failures are logged, never fatal;
// the local database remains the source of truth.
type BackupWorker struct {
	store    BackupStore
	uploader snapshot.Uploader
	interval time.Duration
}

// NewBackupWorker creates a backup worker.
func NewBackupWorker(store BackupStore, uploader snapshot.Uploader, interval time.Duration) *BackupWorker {
	return &BackupWorker{
		store:    store,
		uploader: uploader,
		interval: interval,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
func (w *BackupWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.backup(ctx)
		}
	}
}

func (w *BackupWorker) backup(ctx context.Context) {
	if err := w.store.Checkpoint(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("backup checkpoint failed",
			"error", err,
			"component", "worker",
		)
		return
	}

	if err := w.uploader.Upload(ctx, w.store.DeviceID(), w.store.Path()); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("backup upload failed",
			"error", err,
			"component", "worker",
		)
		return
	}

	slog.Info("database backup uploaded",
		"action", "backup",
		"component", "worker",
	)
}
