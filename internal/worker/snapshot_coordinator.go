// Package worker holds the background loops run by the estimator server.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/snapshot"
	"github.com/piehlerb/job-estimator-sub000/internal/store"
)

// Snapshotter writes a snapshot of the central store and returns its path.
type Snapshotter interface {
	GenerateSnapshot(ctx context.Context) (string, error)
}

// SnapshotCoordinator periodically snapshots the central store and
// ships each snapshot through the uploader.
type SnapshotCoordinator struct {
	snapshotter Snapshotter
	uploader    snapshot.Uploader
	interval    time.Duration
}

// NewSnapshotCoordinator creates a coordinator. The uploader is optional;
// if nil, snapshots stay on local disk.
func NewSnapshotCoordinator(snapshotter Snapshotter, interval time.Duration, uploader snapshot.Uploader) *SnapshotCoordinator {
	return &SnapshotCoordinator{
		snapshotter: snapshotter,
		uploader:    uploader,
		interval:    interval,
	}
}

// Run snapshots immediately, then on every interval until ctx is done.
func (c *SnapshotCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "worker_started",
		"interval", c.interval,
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce generates and uploads one snapshot. It reports whether a
// snapshot was written locally; upload failures do not count against it.
func (c *SnapshotCoordinator) RunOnce(ctx context.Context) bool {
	start := time.Now()
	path, err := c.snapshotter.GenerateSnapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, store.ErrSnapshotUnsupported) {
			slog.Debug("snapshot skipped",
				"component", "worker",
				"worker", "snapshot-coordinator",
				"action", "snapshot_skipped",
				"error", err,
			)
			return false
		}
		slog.Warn("snapshot generation failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_failed",
			"error", err,
		)
		return false
	}

	slog.Info("snapshot generated",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "snapshot_generated",
		"path", path,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if c.uploader != nil {
		c.upload(ctx, path)
	}
	return true
}

// upload failures are logged only; the local snapshot remains valid.
func (c *SnapshotCoordinator) upload(ctx context.Context, path string) {
	if err := c.uploader.Upload(ctx, path); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("snapshot upload failed",
			"component", "worker",
			"worker", "snapshot-coordinator",
			"action", "snapshot_upload_failed",
			"path", path,
			"error", err,
		)
		return
	}
	slog.Info("snapshot uploaded",
		"component", "worker",
		"worker", "snapshot-coordinator",
		"action", "snapshot_uploaded",
	)
}
