// Package filemeta owns the persisted file metadata row: its lifecycle
// from queued through a terminal status, upload progress, and the storage
// paths the blobstore wrote. The queue and runner mutate rows only through
// this package's Store interface.
package filemeta

import (
	"context"
	"errors"
	"time"
)

// Status is a file metadata row's processing status.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusReprocessing Status = "reprocessing"
)

// Record is one file metadata row.
type Record struct {
	ID                    string
	CollectionID          string
	OriginalFilename      string
	FileSize              int64
	BatchID               string
	ProcessingStatus      Status
	RawStoragePath        string
	ProcessedStoragePath  string
	UploadProgress        int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Aggregate summarizes a batch's file outcomes for hydration snapshots.
type Aggregate struct {
	Total     int
	Completed int
	Failed    int
}

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("filemeta: record not found")

// Store is the File Metadata Store's public contract. The queue and runner
// never mutate a row's fields directly; they always go through one of
// these methods so status transitions stay centralized.
type Store interface {
	// CreateForBatch inserts one queued row per file in a newly-accepted
	// batch.
	CreateForBatch(ctx context.Context, batchID, collectionID string, files []NewFile) ([]Record, error)
	// UpdateStatus transitions id to status. GormStore writes errMsg to the
	// row's processing_error column; MemoryStore discards it, and Record
	// does not carry it.
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error
	// SetStoragePaths records where the blobstore wrote the raw and (once
	// available) processed blobs for id.
	SetStoragePaths(ctx context.Context, id string, rawPath, processedPath string) error
	// SetUploadProgress records a 0-100 upload progress value for id.
	SetUploadProgress(ctx context.Context, id string, progress int) error
	// ReassignBatch points id at a different batchID, used when a single
	// file is reprocessed under its own mini-batch so the hydration API
	// finds it under the new batch rather than the one it originally
	// arrived in.
	ReassignBatch(ctx context.Context, id, batchID string) error
	// FindByBatch returns every row for batchID in creation order.
	FindByBatch(ctx context.Context, batchID string) ([]Record, error)
	// AggregateByBatch summarizes terminal outcomes for batchID.
	AggregateByBatch(ctx context.Context, batchID string) (Aggregate, error)
	// FindByCollection returns every row for collectionID, newest first.
	FindByCollection(ctx context.Context, collectionID string) ([]Record, error)
	// Get returns one row by id, or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)
	// DeleteByCollection removes every row for collectionID.
	DeleteByCollection(ctx context.Context, collectionID string) error
}

// NewFile describes one file at the moment a batch is accepted, before a
// Record exists for it.
type NewFile struct {
	ID               string
	OriginalFilename string
	FileSize         int64
}
