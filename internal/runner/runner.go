// Package runner implements the Batch Runner: it consumes one queue.Job,
// runs its files through OCR, validation, and persistence, and emits
// progress and terminal lifecycle events along the way.
//
// Grounded on the corpus's refreshProviderWithRetry/refreshProviderWithTracking
// pair in internal/cron/batch.go: a retried collaborator call wrapped by a
// second function that updates a persisted progress row around it. Here the
// retry loop is delegated to sethvargo/go-retry instead of the teacher's
// hand-rolled attempt counter, and the bounded per-batch concurrency that
// the teacher applies across providers is applied here across one batch's
// files instead.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/relaydocs/ingestor/internal/blobstore"
	"github.com/relaydocs/ingestor/internal/eventbus"
	"github.com/relaydocs/ingestor/internal/events"
	"github.com/relaydocs/ingestor/internal/filemeta"
	"github.com/relaydocs/ingestor/internal/ocr"
	"github.com/relaydocs/ingestor/internal/validate"
)

// RetryPolicy configures the backoff applied to each file's OCR call.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxRetries uint64
	MaxDelay   time.Duration
}

// DefaultRetryPolicy matches the resolved Open Question: exponential
// backoff from 250ms, up to 3 retries, capped at 5s per wait.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: 250 * time.Millisecond, MaxRetries: 3, MaxDelay: 5 * time.Second}
}

func (p RetryPolicy) backoff() (retry.Backoff, error) {
	b, err := retry.NewExponential(p.BaseDelay)
	if err != nil {
		return nil, err
	}
	b = retry.WithMaxRetries(p.MaxRetries, b)
	b = retry.WithCappedDuration(p.MaxDelay, b)
	return b, nil
}

// File is one file belonging to a batch handed to the runner.
type File struct {
	ID       string
	Name     string
	Content  []byte
}

// processedRecord is the processed blob's on-disk shape: the OCR
// collaborator's raw extraction alongside the deduplicated, validated
// record derived from it.
type processedRecord struct {
	Extracted ocr.Entities            `json:"extracted"`
	Validated validate.ExtractedRecord `json:"validated"`
}

// Runner executes one batch's files through OCR, validation, and
// persistence.
type Runner struct {
	ocr          ocr.Provider
	validator    *validate.Validator
	blobs        blobstore.Store
	files        filemeta.Store
	bus          *eventbus.Bus
	log          *slog.Logger
	retry        RetryPolicy
	workerPool   int
}

// Config wires a Runner's collaborators.
type Config struct {
	OCR          ocr.Provider
	Validator    *validate.Validator
	Blobs        blobstore.Store
	Files        filemeta.Store
	Bus          *eventbus.Bus
	Log          *slog.Logger
	Retry        RetryPolicy
	WorkerPoolSize int // files processed concurrently within one batch; default 4
}

// New constructs a Runner.
func New(cfg Config) *Runner {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	return &Runner{
		ocr:        cfg.OCR,
		validator:  cfg.Validator,
		blobs:      cfg.Blobs,
		files:      cfg.Files,
		bus:        cfg.Bus,
		log:        cfg.Log,
		retry:      cfg.Retry,
		workerPool: cfg.WorkerPoolSize,
	}
}

// Process runs batchID's files to completion or until ctx is canceled (the
// queue manager cancels ctx when the batch's wall-clock timeout elapses).
// It returns a non-nil error only for a batch-level terminal failure (every
// file failed, or ctx was canceled); per-file failures are recorded on
// their rows and do not themselves fail the batch.
func (r *Runner) Process(ctx context.Context, batchID, collectionID string, files []File) error {
	r.publish(events.BatchProcessingStarted(batchID, collectionID, len(files), time.Now(), ""))

	var (
		mu        sync.Mutex
		completed int
		failed    int
	)
	total := len(files)

	sem := make(chan struct{}, r.workerPool)
	var wg sync.WaitGroup

	for _, f := range files {
		f := f
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			ok := r.processFile(ctx, batchID, collectionID, f)

			status := "ocr_complete"
			if !ok {
				status = "file_failed"
			}

			// Publish while still holding mu so two workers finishing close
			// together can't race each other's progress values out of order.
			mu.Lock()
			if ok {
				completed++
			} else {
				failed++
			}
			progress := int(float64(completed+failed) / float64(total) * 100)
			r.publish(events.BatchProcessingProgress(batchID, collectionID, progress, status, fmt.Sprintf("%d/%d files done", completed+failed, total)))
			mu.Unlock()
		}()
	}
	wg.Wait()

	counts := events.Counts{Total: total, Completed: completed, Failed: failed}

	if completed == 0 && total > 0 {
		r.publish(events.BatchProcessingFailed(batchID, collectionID, "all files in batch failed"))
		return fmt.Errorf("runner: batch %s failed, 0/%d files succeeded", batchID, total)
	}
	if ctx.Err() != nil {
		r.publish(events.BatchProcessingFailed(batchID, collectionID, ctx.Err().Error()))
		return ctx.Err()
	}

	r.publish(events.BatchProcessingCompleted(batchID, collectionID, total, counts))
	return nil
}

// processFile runs one file through OCR (with retry), validation, and
// persistence. It never returns an error: failures are written to the
// file's row and reflected in its return value instead, so one file's
// failure can't unwind the batch's worker pool.
func (r *Runner) processFile(ctx context.Context, batchID, collectionID string, f File) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("runner: recovered panic processing file", "fileId", f.ID, "panic", rec)
			_ = r.files.UpdateStatus(ctx, f.ID, filemeta.StatusFailed, fmt.Sprintf("internal error: %v", rec))
			ok = false
		}
	}()

	if err := r.files.UpdateStatus(ctx, f.ID, filemeta.StatusProcessing, ""); err != nil {
		r.log.Error("runner: failed to mark file processing", "fileId", f.ID, "error", err)
	}

	if rawPath, err := r.blobs.PutRaw(ctx, f.ID, f.Name, f.Content); err != nil {
		r.log.Error("runner: failed to store raw blob", "fileId", f.ID, "error", err)
	} else if err := r.files.SetStoragePaths(ctx, f.ID, rawPath, ""); err != nil {
		r.log.Error("runner: failed to record raw storage path", "fileId", f.ID, "error", err)
	}

	entities, err := r.extractWithRetry(ctx, f)
	if err != nil {
		r.log.Warn("runner: ocr extraction failed", "fileId", f.ID, "error", err)
		_ = r.files.UpdateStatus(ctx, f.ID, filemeta.StatusFailed, err.Error())
		return false
	}

	record, err := r.validator.Validate(entities)
	if err != nil {
		r.log.Warn("runner: validation failed", "fileId", f.ID, "error", err)
		_ = r.files.UpdateStatus(ctx, f.ID, filemeta.StatusFailed, err.Error())
		return false
	}

	// Both the pre-validation extraction and the post-validation record go
	// into one write so a file never ends up with one persisted without
	// the other.
	processed, err := json.Marshal(processedRecord{Extracted: entities, Validated: record})
	if err != nil {
		r.log.Error("runner: failed to marshal processed record", "fileId", f.ID, "error", err)
		processed = []byte(entities.Raw)
	}
	if processedPath, err := r.blobs.PutProcessed(ctx, f.ID, processed); err != nil {
		r.log.Error("runner: failed to store processed blob", "fileId", f.ID, "error", err)
	} else if err := r.files.SetStoragePaths(ctx, f.ID, "", processedPath); err != nil {
		r.log.Error("runner: failed to record processed storage path", "fileId", f.ID, "error", err)
	}

	if err := r.files.UpdateStatus(ctx, f.ID, filemeta.StatusCompleted, ""); err != nil {
		r.log.Error("runner: failed to mark file completed", "fileId", f.ID, "error", err)
		return false
	}

	r.publish(events.FilesProcessed(collectionID, events.FileMetadataSummary{
		ID:               f.ID,
		ProcessingStatus: string(filemeta.StatusCompleted),
		CollectionID:     collectionID,
	}))
	return true
}

func (r *Runner) extractWithRetry(ctx context.Context, f File) (ocr.Entities, error) {
	b, err := r.retry.backoff()
	if err != nil {
		return ocr.Entities{}, fmt.Errorf("runner: build backoff: %w", err)
	}

	var result ocr.Entities
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		entities, err := r.ocr.Extract(ctx, f.Name, f.Content)
		if err != nil {
			if ocr.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		result = entities
		return nil
	})
	if err != nil {
		return ocr.Entities{}, err
	}
	return result, nil
}

func (r *Runner) publish(e events.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}
