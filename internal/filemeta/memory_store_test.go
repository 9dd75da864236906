package filemeta

import (
	"context"
	"testing"
)

func TestMemoryStore_CreateForBatch_AggregateByBatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	records, err := m.CreateForBatch(ctx, "batch-1", "collection-1", []NewFile{
		{ID: "file-1", OriginalFilename: "a.pdf", FileSize: 100},
		{ID: "file-2", OriginalFilename: "b.pdf", FileSize: 200},
	})
	if err != nil {
		t.Fatalf("CreateForBatch failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, r := range records {
		if r.ProcessingStatus != StatusQueued {
			t.Fatalf("expected queued status, got %s", r.ProcessingStatus)
		}
	}

	if err := m.UpdateStatus(ctx, "file-1", StatusCompleted, ""); err != nil {
		t.Fatalf("UpdateStatus completed failed: %v", err)
	}
	if err := m.UpdateStatus(ctx, "file-2", StatusFailed, "ocr unreachable"); err != nil {
		t.Fatalf("UpdateStatus failed failed: %v", err)
	}

	agg, err := m.AggregateByBatch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("AggregateByBatch failed: %v", err)
	}
	if agg.Total != 2 || agg.Completed != 1 || agg.Failed != 1 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReassignBatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if _, err := m.CreateForBatch(ctx, "batch-1", "collection-1", []NewFile{{ID: "file-1", OriginalFilename: "a.pdf"}}); err != nil {
		t.Fatalf("CreateForBatch failed: %v", err)
	}

	if err := m.ReassignBatch(ctx, "file-1", "batch-2"); err != nil {
		t.Fatalf("ReassignBatch failed: %v", err)
	}

	rows, err := m.FindByBatch(ctx, "batch-2")
	if err != nil {
		t.Fatalf("FindByBatch failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "file-1" {
		t.Fatalf("expected file-1 under batch-2, got %+v", rows)
	}

	old, err := m.FindByBatch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("FindByBatch(batch-1) failed: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("expected no rows left under batch-1, got %+v", old)
	}

	if err := m.ReassignBatch(ctx, "missing", "batch-3"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_DeleteByCollection(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	if _, err := m.CreateForBatch(ctx, "batch-1", "collection-1", []NewFile{{ID: "file-1", OriginalFilename: "a.pdf"}}); err != nil {
		t.Fatalf("CreateForBatch failed: %v", err)
	}

	if err := m.DeleteByCollection(ctx, "collection-1"); err != nil {
		t.Fatalf("DeleteByCollection failed: %v", err)
	}
	rows, err := m.FindByCollection(ctx, "collection-1")
	if err != nil {
		t.Fatalf("FindByCollection failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected 0 rows after delete, got %d", len(rows))
	}
}
