package filemeta

import "time"

// fileMetadataRow is the GORM-mapped row backing Record.
type fileMetadataRow struct {
	ID                   string    `gorm:"primaryKey;column:id"`
	CollectionID         string    `gorm:"column:collection_id;index"`
	OriginalFilename     string    `gorm:"column:original_filename"`
	FileSize             int64     `gorm:"column:file_size"`
	BatchID              string    `gorm:"column:batch_id;index"`
	ProcessingStatus     string    `gorm:"column:processing_status"`
	ProcessingError      string    `gorm:"column:processing_error"`
	RawStoragePath       string    `gorm:"column:raw_storage_path"`
	ProcessedStoragePath string    `gorm:"column:processed_storage_path"`
	UploadProgress       int       `gorm:"column:upload_progress"`
	CreatedAt            time.Time `gorm:"column:created_at"`
	UpdatedAt            time.Time `gorm:"column:updated_at"`
}

func (fileMetadataRow) TableName() string { return "file_metadata" }

// Model returns the GORM model for file_metadata so callers building a
// shared *gorm.DB (internal/storage's factory) can include it in their own
// AutoMigrate pass without this package exporting its row type.
func Model() interface{} { return &fileMetadataRow{} }

func (r fileMetadataRow) toRecord() Record {
	return Record{
		ID:                   r.ID,
		CollectionID:         r.CollectionID,
		OriginalFilename:     r.OriginalFilename,
		FileSize:             r.FileSize,
		BatchID:              r.BatchID,
		ProcessingStatus:     Status(r.ProcessingStatus),
		RawStoragePath:       r.RawStoragePath,
		ProcessedStoragePath: r.ProcessedStoragePath,
		UploadProgress:       r.UploadProgress,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}
