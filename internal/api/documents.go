package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaydocs/ingestor/internal/filemeta"
	"github.com/relaydocs/ingestor/internal/hydration"
	"github.com/relaydocs/ingestor/internal/queue"
	"github.com/relaydocs/ingestor/internal/runner"
)

// processBatch accepts a multipart upload of one or more files under a
// single collectionId, creates their file-metadata rows up front, and
// enqueues one queue.Job whose Processor hands them to the runner.
func (h *handlers) processBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.d.maxUploadBytes()); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", err.Error())
		return
	}
	collectionID := r.FormValue("collectionId")
	if collectionID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "collectionId is required")
		return
	}
	fileHeaders := r.MultipartForm.File["files"]
	if len(fileHeaders) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "at least one file is required")
		return
	}

	batchID := uuid.NewString()
	newFiles := make([]filemeta.NewFile, 0, len(fileHeaders))
	runnerFiles := make([]runner.File, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "could not read "+fh.Filename)
			return
		}
		content := make([]byte, fh.Size)
		if _, err := io.ReadFull(f, content); err != nil {
			f.Close()
			writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "could not read "+fh.Filename)
			return
		}
		f.Close()

		id := uuid.NewString()
		newFiles = append(newFiles, filemeta.NewFile{ID: id, OriginalFilename: fh.Filename, FileSize: fh.Size})
		runnerFiles = append(runnerFiles, runner.File{ID: id, Name: fh.Filename, Content: content})
	}

	ctx := r.Context()
	rows, err := h.d.Files.CreateForBatch(ctx, batchID, collectionID, newFiles)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not record uploaded files")
		return
	}

	position, outcome := h.d.Queue.Enqueue(queue.Job{
		BatchID:      batchID,
		CollectionID: collectionID,
		FileCount:    len(runnerFiles),
		Processor: func(ctx context.Context) error {
			return h.d.Runner.Process(ctx, batchID, collectionID, runnerFiles)
		},
	})

	switch outcome {
	case queue.Accepted:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"batchId": batchID, "position": position, "accepted": true,
		})
	case queue.RejectedFull:
		failRows(ctx, h.d.Files, rows, "queue is full")
		writeError(w, http.StatusServiceUnavailable, "QUEUE_FULL", "the batch queue is at capacity")
	case queue.RejectedShutdown:
		failRows(ctx, h.d.Files, rows, "server is shutting down")
		writeError(w, http.StatusServiceUnavailable, "SHUTDOWN", "the server is draining in-flight batches")
	case queue.RejectedInvalid:
		failRows(ctx, h.d.Files, rows, "invalid batch")
		writeError(w, http.StatusBadRequest, "INVALID_JOB", "the batch could not be enqueued")
	case queue.RejectedDuplicate:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"batchId": batchID, "position": position, "accepted": true,
		})
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "unexpected enqueue outcome")
	}
}

func failRows(ctx context.Context, files filemeta.Store, rows []filemeta.Record, reason string) {
	for _, row := range rows {
		_ = files.UpdateStatus(ctx, row.ID, filemeta.StatusFailed, reason)
	}
}

// reprocessFile re-runs a single already-uploaded file under a new
// mini-batch, repointing its row at that batch so the result overwrites
// the original row rather than creating a new one.
func (h *handlers) reprocessFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")
	ctx := r.Context()

	rec, err := h.d.Files.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, filemeta.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "no such file")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not load file")
		return
	}
	if rec.RawStoragePath == "" {
		writeError(w, http.StatusConflict, "NO_RAW_BLOB", "original upload bytes are no longer available")
		return
	}

	content, err := h.d.Blobs.GetRaw(ctx, rec.RawStoragePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not read original file")
		return
	}

	miniBatchID := uuid.NewString()
	if err := h.d.Files.ReassignBatch(ctx, fileID, miniBatchID); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not reassign batch")
		return
	}
	if err := h.d.Files.UpdateStatus(ctx, fileID, filemeta.StatusReprocessing, ""); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not update status")
		return
	}

	runnerFiles := []runner.File{{ID: rec.ID, Name: rec.OriginalFilename, Content: content}}
	position, outcome := h.d.Queue.Enqueue(queue.Job{
		BatchID:      miniBatchID,
		CollectionID: rec.CollectionID,
		FileCount:    1,
		Processor: func(ctx context.Context) error {
			return h.d.Runner.Process(ctx, miniBatchID, rec.CollectionID, runnerFiles)
		},
	})

	switch outcome {
	case queue.Accepted:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"batchId": miniBatchID, "position": position, "accepted": true,
		})
	case queue.RejectedFull:
		writeError(w, http.StatusServiceUnavailable, "QUEUE_FULL", "the batch queue is at capacity")
	case queue.RejectedShutdown:
		writeError(w, http.StatusServiceUnavailable, "SHUTDOWN", "the server is draining in-flight batches")
	default:
		writeError(w, http.StatusBadRequest, "INVALID_JOB", "the reprocess job could not be enqueued")
	}
}

func (h *handlers) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")
	snap, err := h.d.Hydration.GetBatch(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, hydration.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "no such batch")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not load batch")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
