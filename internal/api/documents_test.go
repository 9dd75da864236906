package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaydocs/ingestor/internal/blobstore"
	"github.com/relaydocs/ingestor/internal/eventbus"
	"github.com/relaydocs/ingestor/internal/filemeta"
	"github.com/relaydocs/ingestor/internal/hydration"
	"github.com/relaydocs/ingestor/internal/ocr"
	"github.com/relaydocs/ingestor/internal/queue"
	"github.com/relaydocs/ingestor/internal/runner"
	"github.com/relaydocs/ingestor/internal/validate"
	"github.com/relaydocs/ingestor/internal/wshub"
)

type stubOCR struct{}

func (stubOCR) Extract(ctx context.Context, filename string, content []byte) (ocr.Entities, error) {
	return ocr.Entities{Fields: map[string]string{"Document Type": "invoice", "Total": "1.00"}, Raw: string(content)}, nil
}

func newTestServer(t *testing.T, qcfg queue.Config) (http.Handler, Deps) {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blobstore.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	files := filemeta.NewMemoryStore()
	bus := eventbus.New(16)
	qm := queue.New(qcfg, bus, slog.Default())
	run := runner.New(runner.Config{
		OCR:       stubOCR{},
		Validator: validate.New(),
		Blobs:     blobs,
		Files:     files,
		Bus:       bus,
	})
	hydrate := hydration.New(qm, files)
	hub := wshub.New(wshub.Config{})

	d := Deps{
		Queue:       qm,
		Files:       files,
		Blobs:       blobs,
		Hydration:   hydrate,
		Hub:         hub,
		Runner:      run,
		AdminSecret: "topsecret",
	}
	return NewRouter(d), d
}

func multipartUpload(t *testing.T, collectionID, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if collectionID != "" {
		if err := w.WriteField("collectionId", collectionID); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}
	if filename != "" {
		fw, err := w.CreateFormFile("files", filename)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		if _, err := fw.Write(content); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func waitForStatus(t *testing.T, files filemeta.Store, fileID string, want filemeta.Status) filemeta.Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := files.Get(context.Background(), fileID)
		if err == nil && rec.ProcessingStatus == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("file %s did not reach status %s in time", fileID, want)
	return filemeta.Record{}
}

func TestProcessBatch_Accepted(t *testing.T) {
	h, d := newTestServer(t, queue.Config{MaxConcurrentBatches: 2, MaxQueueLength: 10})

	body, ct := multipartUpload(t, "coll-1", "a.pdf", []byte("hello world"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/process", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	batchID, _ := resp["batchId"].(string)
	if batchID == "" {
		t.Fatalf("expected non-empty batchId in response: %v", resp)
	}

	rows, err := d.Files.FindByBatch(context.Background(), batchID)
	if err != nil {
		t.Fatalf("FindByBatch failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 file row, got %d", len(rows))
	}
	waitForStatus(t, d.Files, rows[0].ID, filemeta.StatusCompleted)
}

func TestProcessBatch_MissingCollectionID(t *testing.T) {
	h, _ := newTestServer(t, queue.Config{})

	body, ct := multipartUpload(t, "", "a.pdf", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/process", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestProcessBatch_NoFiles(t *testing.T) {
	h, _ := newTestServer(t, queue.Config{})

	body, ct := multipartUpload(t, "coll-1", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/documents/process", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestProcessBatch_QueueFull(t *testing.T) {
	h, d := newTestServer(t, queue.Config{MaxConcurrentBatches: 1, MaxQueueLength: 10})

	// Occupy the one execution slot with a blocking job so the next enqueue
	// lands in the queue, then fill the queue itself so a further enqueue
	// is rejected outright.
	block := make(chan struct{})
	defer close(block)
	_, outcome := d.Queue.Enqueue(queue.Job{
		BatchID: "blocker", CollectionID: "coll-1", FileCount: 1,
		Processor: func(ctx context.Context) error { <-block; return nil },
	})
	if outcome != queue.Accepted {
		t.Fatalf("expected blocker job accepted, got %s", outcome)
	}
	for i := 0; i < 10; i++ {
		_, outcome := d.Queue.Enqueue(queue.Job{
			BatchID: "filler-" + string(rune('a'+i)), CollectionID: "coll-1", FileCount: 1,
			Processor: func(ctx context.Context) error { <-block; return nil },
		})
		if outcome != queue.Accepted {
			t.Fatalf("expected filler job %d accepted, got %s", i, outcome)
		}
	}

	body, ct := multipartUpload(t, "coll-1", "a.pdf", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/process", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestReprocessFile(t *testing.T) {
	h, d := newTestServer(t, queue.Config{MaxConcurrentBatches: 2, MaxQueueLength: 10})

	body, ct := multipartUpload(t, "coll-1", "a.pdf", []byte("original content"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/process", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	batchID := resp["batchId"].(string)

	rows, err := d.Files.FindByBatch(context.Background(), batchID)
	if err != nil || len(rows) != 1 {
		t.Fatalf("FindByBatch failed: %v (rows=%v)", err, rows)
	}
	fileID := rows[0].ID
	waitForStatus(t, d.Files, fileID, filemeta.StatusCompleted)

	rr2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/api/documents/"+fileID+"/reprocess", nil)
	h.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr2.Code, rr2.Body.String())
	}
	var resp2 map[string]interface{}
	json.Unmarshal(rr2.Body.Bytes(), &resp2)
	newBatchID := resp2["batchId"].(string)
	if newBatchID == "" || newBatchID == batchID {
		t.Fatalf("expected a new mini-batch id, got %q", newBatchID)
	}

	waitForStatus(t, d.Files, fileID, filemeta.StatusCompleted)

	oldRows, _ := d.Files.FindByBatch(context.Background(), batchID)
	if len(oldRows) != 0 {
		t.Fatalf("expected no rows left under the original batch, got %+v", oldRows)
	}
	newRows, _ := d.Files.FindByBatch(context.Background(), newBatchID)
	if len(newRows) != 1 || newRows[0].ID != fileID {
		t.Fatalf("expected file reassigned to new batch, got %+v", newRows)
	}
}

func TestReprocessFile_NotFound(t *testing.T) {
	h, _ := newTestServer(t, queue.Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/documents/missing-id/reprocess", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetBatch_NotFound(t *testing.T) {
	h, _ := newTestServer(t, queue.Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/documents/batches/unknown-batch", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetBatch_Found(t *testing.T) {
	h, d := newTestServer(t, queue.Config{MaxConcurrentBatches: 2, MaxQueueLength: 10})

	body, ct := multipartUpload(t, "coll-1", "a.pdf", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/documents/process", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var resp map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	batchID := resp["batchId"].(string)

	rows, _ := d.Files.FindByBatch(context.Background(), batchID)
	waitForStatus(t, d.Files, rows[0].ID, filemeta.StatusCompleted)

	req2 := httptest.NewRequest(http.MethodGet, "/api/documents/batches/"+batchID, nil)
	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr2.Code, rr2.Body.String())
	}
	var snap hydration.BatchSnapshot
	if err := json.Unmarshal(rr2.Body.Bytes(), &snap); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if snap.BatchID != batchID || snap.Total != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
