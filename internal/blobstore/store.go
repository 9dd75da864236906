// Package blobstore defines the narrow boundary between the runner and
// wherever raw and processed file bytes live. The local filesystem adapter
// in this package is suitable for development and single-node deployments;
// a cloud object-store adapter satisfies the same interface in production.
package blobstore

import "context"

// Store persists raw uploads and their processed output, keyed by the file
// metadata row's id.
type Store interface {
	// PutRaw stores the original uploaded bytes and returns a storage path
	// or key the caller can later resolve via the same Store.
	PutRaw(ctx context.Context, fileID, filename string, content []byte) (path string, err error)
	// PutProcessed stores post-OCR output (the runner writes a JSON record
	// holding the raw extraction and its validated form) alongside the raw
	// upload.
	PutProcessed(ctx context.Context, fileID string, content []byte) (path string, err error)
	// GetRaw reads back bytes previously written to path by PutRaw, for
	// reprocessing a file without requiring the caller to re-upload it.
	GetRaw(ctx context.Context, path string) ([]byte, error)
	// Delete removes both the raw and processed blobs for fileID, if
	// present. Deleting an unknown fileID is not an error.
	Delete(ctx context.Context, fileID string) error
}
