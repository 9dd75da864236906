package hydration

import (
	"context"
	"testing"
	"time"

	"github.com/relaydocs/ingestor/internal/eventbus"
	"github.com/relaydocs/ingestor/internal/filemeta"
	"github.com/relaydocs/ingestor/internal/queue"
)

func newTestManager(t *testing.T) *queue.Manager {
	t.Helper()
	return queue.New(queue.Config{
		MaxConcurrentBatches: 1,
		MaxQueueLength:       10,
		BatchQueueTimeout:    time.Minute,
	}, eventbus.New(8), nil)
}

func TestGetBatch_LiveInQueueManager(t *testing.T) {
	ctx := context.Background()
	q := newTestManager(t)
	files := filemeta.NewMemoryStore()

	done := make(chan struct{})
	pos, outcome := q.Enqueue(queue.Job{
		BatchID:      "batch-1",
		CollectionID: "coll-1",
		FileCount:    2,
		Processor: func(ctx context.Context) error {
			<-done
			return nil
		},
	})
	if outcome != queue.Accepted {
		t.Fatalf("expected accepted, got %v (pos %d)", outcome, pos)
	}
	if _, err := files.CreateForBatch(ctx, "batch-1", "coll-1", []filemeta.NewFile{
		{ID: "f-a", OriginalFilename: "a.pdf", FileSize: 10},
		{ID: "f-b", OriginalFilename: "b.pdf", FileSize: 20},
	}); err != nil {
		t.Fatalf("CreateForBatch: %v", err)
	}

	svc := New(q, files)
	snap, err := svc.GetBatch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if snap.CollectionID != "coll-1" {
		t.Errorf("CollectionID = %q, want coll-1", snap.CollectionID)
	}
	if snap.Status != "processing" {
		t.Errorf("Status = %q, want processing", snap.Status)
	}
	if len(snap.Files) != 2 {
		t.Errorf("len(Files) = %d, want 2", len(snap.Files))
	}
	close(done)
}

func TestGetBatch_UnknownToManagerFallsBackToFileRows(t *testing.T) {
	ctx := context.Background()
	q := newTestManager(t)
	files := filemeta.NewMemoryStore()

	records, err := files.CreateForBatch(ctx, "batch-2", "coll-2", []filemeta.NewFile{
		{OriginalFilename: "a.pdf", FileSize: 10},
	})
	if err != nil {
		t.Fatalf("CreateForBatch: %v", err)
	}
	if err := files.UpdateStatus(ctx, records[0].ID, filemeta.StatusCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	svc := New(q, files)
	snap, err := svc.GetBatch(ctx, "batch-2")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if snap.Status != "completed" {
		t.Errorf("Status = %q, want completed", snap.Status)
	}
	if snap.Total != 1 || snap.Completed != 1 {
		t.Errorf("counts = %+v, want total=1 completed=1", snap)
	}
}

func TestGetBatch_NotFoundAnywhere(t *testing.T) {
	ctx := context.Background()
	q := newTestManager(t)
	files := filemeta.NewMemoryStore()
	svc := New(q, files)

	_, err := svc.GetBatch(ctx, "nope")
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
