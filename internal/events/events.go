// Package events defines the wire protocol for batch lifecycle frames.
//
// Every frame is a discriminated union over Type; each variant lists the
// exact fields the client is allowed to depend on. Frames are the same
// shape whether they travel over the in-process event bus or out over a
// WebSocket connection.
package events

import "time"

// Type identifies the kind of lifecycle frame.
type Type string

const (
	TypeBatchQueued                Type = "BATCH_QUEUED"
	TypeBatchQueuePositionUpdated  Type = "BATCH_QUEUE_POSITION_UPDATED"
	TypeBatchDequeued              Type = "BATCH_DEQUEUED"
	TypeBatchProcessingStarted     Type = "BATCH_PROCESSING_STARTED"
	TypeBatchProcessingProgress    Type = "BATCH_PROCESSING_PROGRESS"
	TypeBatchProcessingCompleted   Type = "BATCH_PROCESSING_COMPLETED"
	TypeBatchProcessingFailed      Type = "BATCH_PROCESSING_FAILED"
	TypeBatchTimeout               Type = "BATCH_TIMEOUT"
	TypeQueueFull                  Type = "QUEUE_FULL"
	TypeFilesProcessed             Type = "FILES_PROCESSED"
)

// Counts summarizes per-file outcomes for a batch.
type Counts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// FileMetadataSummary is the trimmed file projection carried on FILES_PROCESSED.
type FileMetadataSummary struct {
	ID               string `json:"id"`
	ProcessingStatus string `json:"processingStatus"`
	CollectionID     string `json:"collectionId"`
}

// Envelope is the common header every frame carries.
type Envelope struct {
	Type         Type      `json:"type"`
	BatchID      string    `json:"batchId,omitempty"`
	CollectionID string    `json:"collectionId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Event is a fully-typed lifecycle frame. Only the payload fields belonging
// to Envelope.Type are populated, by that type's constructor below.
// Handlers should switch on Type rather than probing which payload fields
// are set, but the fields are exported so JSON (de)serialization stays a
// single flat struct with omitempty fields instead of a free-form map.
// Frames are not validated beyond JSON decoding.
type Event struct {
	Envelope

	Position          int    `json:"position,omitempty"`
	FileCount         int    `json:"fileCount,omitempty"`
	EstimatedWaitTime int    `json:"estimatedWaitTime,omitempty"`
	TotalQueued       int    `json:"totalQueued,omitempty"`
	StartedAt         string `json:"startedAt,omitempty"`
	ActiveCount       int    `json:"activeCount,omitempty"`
	AvailableSlots    int    `json:"availableSlots,omitempty"`
	Message           string `json:"message,omitempty"`
	Progress          int    `json:"progress,omitempty"`
	Status            string `json:"status,omitempty"`
	Counts            *Counts `json:"counts,omitempty"`
	Error             string `json:"error,omitempty"`
	TimeoutMs         int64  `json:"timeoutMs,omitempty"`
	QueueLength       int    `json:"queueLength,omitempty"`
	MaxLength         int    `json:"maxLength,omitempty"`
	FileMetadata      *FileMetadataSummary `json:"fileMetadata,omitempty"`
}

func newEnvelope(t Type, batchID, collectionID string) Envelope {
	return Envelope{Type: t, BatchID: batchID, CollectionID: collectionID, Timestamp: time.Now()}
}

// BatchQueued builds a BATCH_QUEUED frame.
func BatchQueued(batchID, collectionID string, position, fileCount, estimatedWaitTime, totalQueued int) Event {
	return Event{
		Envelope:          newEnvelope(TypeBatchQueued, batchID, collectionID),
		Position:          position,
		FileCount:         fileCount,
		EstimatedWaitTime: estimatedWaitTime,
		TotalQueued:       totalQueued,
	}
}

// BatchQueuePositionUpdated builds a BATCH_QUEUE_POSITION_UPDATED frame.
func BatchQueuePositionUpdated(batchID, collectionID string, position, estimatedWaitTime, totalQueued int) Event {
	return Event{
		Envelope:          newEnvelope(TypeBatchQueuePositionUpdated, batchID, collectionID),
		Position:          position,
		EstimatedWaitTime: estimatedWaitTime,
		TotalQueued:       totalQueued,
	}
}

// BatchDequeued builds a BATCH_DEQUEUED frame.
func BatchDequeued(batchID, collectionID string, fileCount int, startedAt time.Time, totalQueued, activeCount, availableSlots int) Event {
	return Event{
		Envelope:       newEnvelope(TypeBatchDequeued, batchID, collectionID),
		FileCount:      fileCount,
		StartedAt:      startedAt.Format(time.RFC3339Nano),
		TotalQueued:    totalQueued,
		ActiveCount:    activeCount,
		AvailableSlots: availableSlots,
	}
}

// BatchProcessingStarted builds a BATCH_PROCESSING_STARTED frame.
func BatchProcessingStarted(batchID, collectionID string, fileCount int, startedAt time.Time, message string) Event {
	return Event{
		Envelope:  newEnvelope(TypeBatchProcessingStarted, batchID, collectionID),
		FileCount: fileCount,
		StartedAt: startedAt.Format(time.RFC3339Nano),
		Message:   message,
	}
}

// BatchProcessingProgress builds a BATCH_PROCESSING_PROGRESS frame.
func BatchProcessingProgress(batchID, collectionID string, progress int, status, message string) Event {
	return Event{
		Envelope: newEnvelope(TypeBatchProcessingProgress, batchID, collectionID),
		Progress: progress,
		Status:   status,
		Message:  message,
	}
}

// BatchProcessingCompleted builds a BATCH_PROCESSING_COMPLETED frame.
func BatchProcessingCompleted(batchID, collectionID string, fileCount int, counts Counts) Event {
	return Event{
		Envelope:  newEnvelope(TypeBatchProcessingCompleted, batchID, collectionID),
		FileCount: fileCount,
		Counts:    &counts,
	}
}

// BatchProcessingFailed builds a BATCH_PROCESSING_FAILED frame.
func BatchProcessingFailed(batchID, collectionID, errMsg string) Event {
	return Event{
		Envelope: newEnvelope(TypeBatchProcessingFailed, batchID, collectionID),
		Error:    errMsg,
	}
}

// BatchTimeout builds a BATCH_TIMEOUT frame.
func BatchTimeout(batchID, collectionID string, timeoutMs int64) Event {
	return Event{
		Envelope:  newEnvelope(TypeBatchTimeout, batchID, collectionID),
		TimeoutMs: timeoutMs,
	}
}

// QueueFull builds a global QUEUE_FULL frame (no batchId/collectionId).
func QueueFull(message string, queueLength, maxLength int) Event {
	return Event{
		Envelope:    newEnvelope(TypeQueueFull, "", ""),
		Message:     message,
		QueueLength: queueLength,
		MaxLength:   maxLength,
	}
}

// FilesProcessed builds a FILES_PROCESSED frame.
func FilesProcessed(collectionID string, fm FileMetadataSummary) Event {
	return Event{
		Envelope:     newEnvelope(TypeFilesProcessed, "", collectionID),
		FileMetadata: &fm,
	}
}
