// Package hydration serves an authoritative batch snapshot on demand,
// combining the queue manager's live state with the file metadata
// store's persisted rows. The client event processor (pkg/client) calls
// this when it observes an event referencing a batch it isn't already
// tracking — most commonly right after a WebSocket reconnect.
package hydration

import (
	"context"
	"fmt"
	"time"

	"github.com/relaydocs/ingestor/internal/filemeta"
	"github.com/relaydocs/ingestor/internal/queue"
)

// FileSummary is one file's hydrated state within a batch.
type FileSummary struct {
	ID               string          `json:"id"`
	OriginalFilename string          `json:"originalFilename"`
	ProcessingStatus filemeta.Status `json:"processingStatus"`
	UploadProgress   int             `json:"uploadProgress"`
}

// BatchSnapshot is the full hydrated view of one batch.
type BatchSnapshot struct {
	BatchID      string        `json:"batchId"`
	CollectionID string        `json:"collectionId"`
	Status       string        `json:"status"`
	Position     int           `json:"position,omitempty"`
	StartedAt    *time.Time    `json:"startedAt,omitempty"`
	Total        int           `json:"total"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Files        []FileSummary `json:"files"`
}

// ErrNotFound is returned when batchID is unknown to both the queue
// manager and the file metadata store.
var ErrNotFound = fmt.Errorf("hydration: batch not found")

// Service serves hydrated batch snapshots.
type Service struct {
	queue *queue.Manager
	files filemeta.Store
}

// New constructs a Service.
func New(q *queue.Manager, files filemeta.Store) *Service {
	return &Service{queue: q, files: files}
}

// GetBatch combines the queue manager's live BatchInfo with the file
// metadata store's AggregateByBatch/FindByBatch for batchID.
func (s *Service) GetBatch(ctx context.Context, batchID string) (BatchSnapshot, error) {
	snap, known := s.queue.BatchInfo(batchID)

	rows, err := s.files.FindByBatch(ctx, batchID)
	if err != nil {
		return BatchSnapshot{}, err
	}
	if !known && len(rows) == 0 {
		return BatchSnapshot{}, ErrNotFound
	}

	agg, err := s.files.AggregateByBatch(ctx, batchID)
	if err != nil {
		return BatchSnapshot{}, err
	}

	out := BatchSnapshot{
		BatchID: batchID,
		Total:   agg.Total,
		Completed: agg.Completed,
		Failed:  agg.Failed,
		Files:   make([]FileSummary, 0, len(rows)),
	}
	for _, r := range rows {
		out.Files = append(out.Files, FileSummary{
			ID:               r.ID,
			OriginalFilename: r.OriginalFilename,
			ProcessingStatus: r.ProcessingStatus,
			UploadProgress:   r.UploadProgress,
		})
	}
	if len(rows) > 0 {
		out.CollectionID = rows[0].CollectionID
	}

	if known {
		out.CollectionID = snap.CollectionID
		out.Position = snap.Position
		switch {
		case snap.State == queue.StateQueued:
			out.Status = "queued"
		default:
			out.Status = "processing"
			started := snap.StartedAt
			out.StartedAt = &started
		}
		return out, nil
	}

	// Not live in the manager: terminal state is whatever the file rows
	// say. A batch with files still marked processing but unknown to the
	// manager means it finished between the last event and this call; the
	// aggregate counts are authoritative either way.
	switch {
	case agg.Failed == agg.Total && agg.Total > 0:
		out.Status = "failed"
	case agg.Completed+agg.Failed == agg.Total && agg.Total > 0:
		out.Status = "completed"
	default:
		out.Status = "unknown"
	}
	return out, nil
}
