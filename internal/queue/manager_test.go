package queue

import (
	"context"
	"testing"
	"time"

	"github.com/relaydocs/ingestor/internal/eventbus"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	return New(cfg, eventbus.New(32), nil)
}

func noopJob(batchID string) Job {
	return Job{BatchID: batchID, CollectionID: "coll-1", FileCount: 1, Processor: func(ctx context.Context) error { return nil }}
}

func TestEnqueue_AcceptsAndRunsJob(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrentBatches: 2, MaxQueueLength: 10})

	done := make(chan struct{})
	position, outcome := m.Enqueue(Job{
		BatchID: "b1", CollectionID: "coll-1", FileCount: 1,
		Processor: func(ctx context.Context) error { close(done); return nil },
	})
	if outcome != Accepted {
		t.Fatalf("expected Accepted, got %s", outcome)
	}
	if position != 1 {
		t.Fatalf("expected position 1, got %d", position)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}

func TestEnqueue_RejectsInvalidJob(t *testing.T) {
	m := newTestManager(t, Config{})

	_, outcome := m.Enqueue(Job{CollectionID: "coll-1", FileCount: 1, Processor: func(ctx context.Context) error { return nil }})
	if outcome != RejectedInvalid {
		t.Fatalf("expected RejectedInvalid for missing batchId, got %s", outcome)
	}
}

func TestEnqueue_RejectsDuplicateActiveBatch(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrentBatches: 1, MaxQueueLength: 10})

	block := make(chan struct{})
	defer close(block)
	_, outcome := m.Enqueue(Job{
		BatchID: "b1", CollectionID: "coll-1", FileCount: 1,
		Processor: func(ctx context.Context) error { <-block; return nil },
	})
	if outcome != Accepted {
		t.Fatalf("expected first enqueue accepted, got %s", outcome)
	}

	_, outcome2 := m.Enqueue(noopJob("b1"))
	if outcome2 != RejectedDuplicate {
		t.Fatalf("expected RejectedDuplicate for an active batch id, got %s", outcome2)
	}
}

func TestEnqueue_RejectsWhenQueueFull(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrentBatches: 1, MaxQueueLength: 10})

	block := make(chan struct{})
	defer close(block)
	_, outcome := m.Enqueue(Job{
		BatchID: "blocker", CollectionID: "coll-1", FileCount: 1,
		Processor: func(ctx context.Context) error { <-block; return nil },
	})
	if outcome != Accepted {
		t.Fatalf("expected blocker accepted, got %s", outcome)
	}

	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		_, outcome := m.Enqueue(Job{
			BatchID: "filler-" + id, CollectionID: "coll-1", FileCount: 1,
			Processor: func(ctx context.Context) error { <-block; return nil },
		})
		if outcome != Accepted {
			t.Fatalf("expected filler %d accepted, got %s", i, outcome)
		}
	}

	_, outcome = m.Enqueue(noopJob("overflow"))
	if outcome != RejectedFull {
		t.Fatalf("expected RejectedFull once the queue is saturated, got %s", outcome)
	}
}

func TestEnqueue_RejectsAfterShutdownPrepared(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrentBatches: 1, MaxQueueLength: 10})
	m.PrepareShutdown()

	_, outcome := m.Enqueue(noopJob("b1"))
	if outcome != RejectedShutdown {
		t.Fatalf("expected RejectedShutdown, got %s", outcome)
	}
}

func TestBatchInfo_ReflectsQueuedThenActive(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrentBatches: 1, MaxQueueLength: 10})

	block := make(chan struct{})
	defer close(block)
	m.Enqueue(Job{
		BatchID: "blocker", CollectionID: "coll-1", FileCount: 1,
		Processor: func(ctx context.Context) error { <-block; return nil },
	})
	m.Enqueue(noopJob("b2"))

	snap, ok := m.BatchInfo("b2")
	if !ok {
		t.Fatal("expected b2 to be known while queued")
	}
	if snap.State != StateQueued || snap.Position != 1 {
		t.Fatalf("expected b2 queued at position 1, got %+v", snap)
	}

	active, ok := m.BatchInfo("blocker")
	if !ok || active.State != StateActive || active.Position != 0 {
		t.Fatalf("expected blocker active, got ok=%v %+v", ok, active)
	}

	if _, ok := m.BatchInfo("nonexistent"); ok {
		t.Fatal("expected nonexistent batch to be unknown")
	}
}

func TestWaitForActiveBatches_ReturnsOnceDrained(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrentBatches: 1, MaxQueueLength: 10, GracefulShutdownTimeout: 2 * time.Second})

	release := make(chan struct{})
	m.Enqueue(Job{
		BatchID: "b1", CollectionID: "coll-1", FileCount: 1,
		Processor: func(ctx context.Context) error { <-release; return nil },
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	if err := m.WaitForActiveBatches(context.Background()); err != nil {
		t.Fatalf("expected WaitForActiveBatches to return cleanly, got %v", err)
	}
}

func TestRun_RecoversPanicAsFailure(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrentBatches: 1, MaxQueueLength: 10})

	done := make(chan struct{})
	m.Enqueue(Job{
		BatchID: "b1", CollectionID: "coll-1", FileCount: 1,
		Processor: func(ctx context.Context) error { defer close(done); panic("boom") },
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panicking processor never ran")
	}

	// done closes while the processor unwinds, before run recovers the panic
	// and release counts the failure, so give release a moment to land.
	deadline := time.Now().Add(time.Second)
	for m.Status().Counters.TotalFailed == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	status := m.Status()
	if status.Counters.TotalFailed != 1 {
		t.Fatalf("expected the panicking batch counted as failed, got %+v", status.Counters)
	}
}

func TestStatus_ReportsQueuedAndActiveCounts(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrentBatches: 1, MaxQueueLength: 10})

	block := make(chan struct{})
	defer close(block)
	m.Enqueue(Job{
		BatchID: "active-1", CollectionID: "coll-1", FileCount: 1,
		Processor: func(ctx context.Context) error { <-block; return nil },
	})
	m.Enqueue(noopJob("queued-1"))

	status := m.Status()
	if status.ActiveCount != 1 {
		t.Fatalf("expected 1 active batch, got %d", status.ActiveCount)
	}
	if status.QueueLength != 1 {
		t.Fatalf("expected 1 queued batch, got %d", status.QueueLength)
	}
}

func TestResetMetrics_ZeroesCounters(t *testing.T) {
	m := newTestManager(t, Config{MaxConcurrentBatches: 2, MaxQueueLength: 10})

	done := make(chan struct{})
	m.Enqueue(Job{
		BatchID: "b1", CollectionID: "coll-1", FileCount: 1,
		Processor: func(ctx context.Context) error { defer close(done); return nil },
	})
	<-done
	time.Sleep(10 * time.Millisecond)

	m.ResetMetrics()
	status := m.Status()
	if status.Counters != (Counters{}) {
		t.Fatalf("expected zeroed counters after ResetMetrics, got %+v", status.Counters)
	}
}
