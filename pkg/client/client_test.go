package client

import (
	"context"
	"testing"
	"time"

	"github.com/relaydocs/ingestor/internal/events"
)

func TestApply_QueuedThenDequeuedThenStarted(t *testing.T) {
	p := New("coll-1")
	ctx := context.Background()

	p.Apply(ctx, events.BatchQueued("b1", "coll-1", 2, 3, 60, 4))
	snap, _ := p.Snapshot()
	if len(snap) != 1 || snap[0].Status != "queued" {
		t.Fatalf("after queued: %+v", snap)
	}

	changed := p.Apply(ctx, events.BatchDequeued("b1", "coll-1", 3, time.Now(), 3, 1, 0))
	if changed {
		t.Error("BATCH_DEQUEUED should be a silent transition")
	}
	snap, _ = p.Snapshot()
	if snap[0].Status != "queued" {
		t.Errorf("status after dequeued should remain queued until STARTED, got %q", snap[0].Status)
	}

	p.Apply(ctx, events.BatchProcessingStarted("b1", "coll-1", 3, time.Now(), ""))
	snap, _ = p.Snapshot()
	if snap[0].Status != "processing" {
		t.Errorf("status after started = %q, want processing", snap[0].Status)
	}
}

func TestApply_IgnoresOtherCollection(t *testing.T) {
	p := New("coll-1")
	ctx := context.Background()

	p.Apply(ctx, events.BatchQueued("b1", "coll-2", 1, 1, 10, 1))
	snap, _ := p.Snapshot()
	if len(snap) != 0 {
		t.Fatalf("expected event for a different collection to be ignored, got %+v", snap)
	}
}

func TestApply_TrackedBatchAcceptsCollectionlessFollowups(t *testing.T) {
	p := New("coll-1")
	ctx := context.Background()

	p.Apply(ctx, events.BatchQueued("b1", "coll-1", 1, 1, 10, 1))
	// A later frame with no collectionId should still apply since b1 is tracked.
	changed := p.Apply(ctx, events.BatchProcessingProgress("b1", "", 40, "extracting", ""))
	if !changed {
		t.Fatal("expected collectionless follow-up for a tracked batch to apply")
	}
	snap, _ := p.Snapshot()
	if snap[0].Progress != 40 {
		t.Errorf("Progress = %d, want 40", snap[0].Progress)
	}
}

func TestApply_UnknownBatchHydrates(t *testing.T) {
	ctx := context.Background()
	hydrateCalls := 0
	p := New("coll-1", WithHydrator(func(ctx context.Context, batchID string) (HydratedBatch, bool, error) {
		hydrateCalls++
		return HydratedBatch{BatchID: batchID, CollectionID: "coll-1", Status: "processing"}, true, nil
	}))

	changed := p.Apply(ctx, events.BatchProcessingStarted("unknown-batch", "", 1, time.Now(), ""))
	if !changed {
		t.Fatal("expected hydration-backed seed to apply")
	}
	if hydrateCalls != 1 {
		t.Errorf("hydrateCalls = %d, want 1", hydrateCalls)
	}
	snap, _ := p.Snapshot()
	if len(snap) != 1 || snap[0].BatchID != "unknown-batch" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestApply_UnknownBatchHydrationMisses(t *testing.T) {
	ctx := context.Background()
	p := New("coll-1", WithHydrator(func(ctx context.Context, batchID string) (HydratedBatch, bool, error) {
		return HydratedBatch{}, false, nil
	}))

	changed := p.Apply(ctx, events.BatchProcessingStarted("ghost", "", 1, time.Now(), ""))
	if changed {
		t.Fatal("expected no visible change when hydration can't resolve the batch")
	}
}

func TestApply_QueueFullIsGlobalAndSticky(t *testing.T) {
	p := New("coll-1")
	ctx := context.Background()

	p.Apply(ctx, events.QueueFull("queue is full", 500, 500))
	_, qf := p.Snapshot()
	if qf == nil || qf.Message != "queue is full" {
		t.Fatalf("expected sticky QUEUE_FULL banner, got %+v", qf)
	}
}

func TestApply_CompletedDropsAfterDisplayWindow(t *testing.T) {
	p := New("coll-1", WithTerminalDisplay(10*time.Millisecond, time.Second))
	ctx := context.Background()

	p.Apply(ctx, events.BatchQueued("b1", "coll-1", 1, 1, 1, 1))
	p.Apply(ctx, events.BatchProcessingCompleted("b1", "coll-1", 1, events.Counts{Total: 1, Completed: 1}))

	snap, _ := p.Snapshot()
	if len(snap) != 1 || snap[0].Status != "completed" {
		t.Fatalf("expected completed entry immediately after the frame, got %+v", snap)
	}

	time.Sleep(50 * time.Millisecond)
	snap, _ = p.Snapshot()
	if len(snap) != 0 {
		t.Fatalf("expected completed batch to be dropped after its display window, got %+v", snap)
	}
}
