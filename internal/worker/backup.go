package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hyperengineering/somnus/internal/metrics"
	"github.com/hyperengineering/somnus/internal/snapshot"
	"github.com/hyperengineering/somnus/internal/store"
)

// BackupStore defines the store operations needed by the backup worker.
type BackupStore interface {
	GenerateBackup(ctx context.Context, dir string) (string, error)
}

// BackupWorker writes periodic database backups and ships them off-host.
type BackupWorker struct {
	store    BackupStore
	uploader snapshot.Uploader
	dir      string
	interval time.Duration
	retain   int
	metrics  *metrics.Metrics
}

// NewBackupWorker creates a worker. The uploader is optional; without one
// backups stay in dir. After each backup only the newest retain files are
// kept in dir; zero keeps them all.
func NewBackupWorker(bs BackupStore, uploader snapshot.Uploader, dir string, interval time.Duration, retain int, m *metrics.Metrics) *BackupWorker {
	return &BackupWorker{
		store:    bs,
		uploader: uploader,
		dir:      dir,
		interval: interval,
		retain:   retain,
		metrics:  m,
	}
}

// Run starts the worker loop. Backs up immediately on start, then on each
// interval. Respects context cancellation for graceful shutdown.
func (w *BackupWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "backup",
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "backup",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce writes one backup and uploads it. It returns the local path and
// the object key (empty when uploads are not configured).
func (w *BackupWorker) RunOnce(ctx context.Context) (path, key string, err error) {
	slog.Info("backup started",
		"component", "worker",
		"action", "backup_start",
	)

	path, err = w.store.GenerateBackup(ctx, w.dir)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", err
		}
		slog.Warn("backup generation failed",
			"component", "worker",
			"action", "backup_failed",
			"error", err,
		)
		w.metrics.RecordWorkerRun("backup", err)
		return "", "", err
	}

	// Upload failures are not fatal; the local backup remains valid.
	if w.uploader != nil {
		key, err = w.uploader.Upload(ctx, path)
		if err != nil {
			slog.Warn("backup upload failed",
				"component", "worker",
				"action", "backup_upload_failed",
				"path", path,
				"error", err,
			)
			key = ""
		} else if key != "" {
			slog.Info("backup uploaded",
				"component", "worker",
				"action", "backup_uploaded",
				"key", key,
			)
		}
	}

	// Pruning failures are not fatal either.
	if removed, perr := PruneBackups(w.dir, w.retain); perr != nil {
		slog.Warn("backup pruning failed",
			"component", "worker",
			"action", "backup_prune_failed",
			"error", perr,
		)
	} else if len(removed) > 0 {
		slog.Info("old backups pruned",
			"component", "worker",
			"action", "backup_pruned",
			"removed", len(removed),
		)
	}

	slog.Info("backup completed",
		"component", "worker",
		"action", "backup_complete",
		"path", path,
	)
	w.metrics.RecordWorkerRun("backup", nil)
	return path, key, nil
}

// PruneBackups deletes all but the newest retain backup files in dir and
// returns the removed paths. A non-positive retain keeps everything.
func PruneBackups(dir string, retain int) ([]string, error) {
	if retain <= 0 {
		return nil, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, store.BackupGlob))
	if err != nil {
		return nil, err
	}
	if len(files) <= retain {
		return nil, nil
	}
	sort.Strings(files)

	var removed []string
	var errs []error
	for _, f := range files[:len(files)-retain] {
		if err := os.Remove(f); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, f)
	}
	return removed, errors.Join(errs...)
}
