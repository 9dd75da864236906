package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/relaydocs/ingestor/internal/storage"
	"github.com/relaydocs/ingestor/internal/wshub"
)

func TestSweeper_RunOnce_PrunesExpiredSnapshots(t *testing.T) {
	st := storage.NewMemory()
	hub := wshub.New(wshub.Config{})
	ctx := context.Background()

	old := storage.QueueMetricsSnapshot{CapturedAt: time.Now().Add(-30 * 24 * time.Hour)}
	recent := storage.QueueMetricsSnapshot{CapturedAt: time.Now()}
	if err := st.SaveQueueMetricsSnapshot(ctx, old); err != nil {
		t.Fatalf("seed old snapshot: %v", err)
	}
	if err := st.SaveQueueMetricsSnapshot(ctx, recent); err != nil {
		t.Fatalf("seed recent snapshot: %v", err)
	}

	sw := New(st, hub, Config{SnapshotRetention: 24 * time.Hour}, nil)
	if err := sw.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	removed, err := st.DeleteQueueMetricsSnapshotsBefore(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteQueueMetricsSnapshotsBefore: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected exactly the recent snapshot left to prune, got %d removed", removed)
	}
}

func TestSweeper_RunOnce_SkipsWhenLockHeld(t *testing.T) {
	st := storage.NewMemory()
	hub := wshub.New(wshub.Config{})
	ctx := context.Background()

	ok, err := st.AcquireAdvisoryLock(ctx, lockKey)
	if err != nil || !ok {
		t.Fatalf("expected to acquire lock, got ok=%v err=%v", ok, err)
	}

	sw := New(st, hub, Config{}, nil)
	if err := sw.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce should not error when lock is held, got: %v", err)
	}
}
