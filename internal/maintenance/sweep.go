// Package maintenance runs the periodic, advisory-lock-gated sweep that
// keeps ambient state bounded: expired WebSocket replay buffers and old
// queue-metrics-snapshot rows. Grounded on the corpus's cron control
// loop (ticker-paced, advisory-lock-gated, one scheduled_jobs row per job,
// updated on every run) repurposed from a rate-refresh job to a housekeeping job.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaydocs/ingestor/internal/storage"
	"github.com/relaydocs/ingestor/internal/wshub"
)

// lockKey is the Postgres advisory lock key guarding the sweep across
// replicas; sqlite always grants it since a sqlite-backed deployment is
// single-instance.
const lockKey int64 = 73

const jobName = "maintenance_sweep"

// Sweeper periodically prunes expired WebSocket replay buffers and old
// queue-metrics-snapshot history.
type Sweeper struct {
	storage           storage.Storage
	hub               *wshub.Hub
	interval          time.Duration
	snapshotRetention time.Duration
	log               *slog.Logger
}

// Config controls sweep cadence and retention.
type Config struct {
	Interval          time.Duration // how often to attempt a sweep; default 10m
	SnapshotRetention time.Duration // age beyond which queue_metrics_snapshots rows are pruned; default 7 days
}

// New constructs a Sweeper.
func New(st storage.Storage, hub *wshub.Hub, cfg Config, log *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.SnapshotRetention <= 0 {
		cfg.SnapshotRetention = 7 * 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{storage: st, hub: hub, interval: cfg.Interval, snapshotRetention: cfg.SnapshotRetention, log: log}
}

// Run blocks, attempting a sweep on every tick until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.attempt(ctx)
		}
	}
}

// RunOnce performs a single sweep attempt immediately, for the
// maintenance-sweep CLI command.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	return s.sweep(ctx)
}

func (s *Sweeper) attempt(ctx context.Context) {
	if err := s.sweep(ctx); err != nil {
		s.log.Warn("maintenance: sweep failed", "error", err)
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	ok, err := s.storage.AcquireAdvisoryLock(ctx, lockKey)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug("maintenance: advisory lock held by another instance, skipping")
		return nil
	}
	defer func() {
		if _, err := s.storage.ReleaseAdvisoryLock(ctx, lockKey); err != nil {
			s.log.Warn("maintenance: release advisory lock failed", "error", err)
		}
	}()

	started := time.Now()
	var runErr error

	prunedRings := s.hub.PruneExpired()

	cutoff := started.Add(-s.snapshotRetention)
	prunedSnapshots, err := s.storage.DeleteQueueMetricsSnapshotsBefore(ctx, cutoff)
	if err != nil {
		runErr = err
	}

	dur := time.Since(started)
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := s.storage.UpdateScheduledJob(ctx, jobName, started, dur, runErr == nil, errMsg); err != nil {
		s.log.Warn("maintenance: update scheduled job row failed", "error", err)
	}

	s.log.Info("maintenance: sweep complete",
		"prunedReplayRings", prunedRings, "prunedSnapshots", prunedSnapshots, "durationMs", dur.Milliseconds(), "error", runErr)
	return runErr
}
