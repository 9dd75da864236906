package filemeta

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// GormStore persists file metadata rows through GORM, sharing the *gorm.DB
// the storage package opens and migrates at startup.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already-migrated *gorm.DB.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) CreateForBatch(ctx context.Context, batchID, collectionID string, files []NewFile) ([]Record, error) {
	now := time.Now()
	rows := make([]fileMetadataRow, len(files))
	for i, f := range files {
		rows[i] = fileMetadataRow{
			ID:               f.ID,
			CollectionID:     collectionID,
			OriginalFilename: f.OriginalFilename,
			FileSize:         f.FileSize,
			BatchID:          batchID,
			ProcessingStatus: string(StatusQueued),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]Record, len(rows))
	for i, r := range rows {
		records[i] = r.toRecord()
	}
	return records, nil
}

func (s *GormStore) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	updates := map[string]interface{}{
		"processing_status": string(status),
		"updated_at":        time.Now(),
	}
	if status == StatusFailed {
		updates["processing_error"] = errMsg
	}
	return s.db.WithContext(ctx).Model(&fileMetadataRow{}).Where("id = ?", id).Updates(updates).Error
}

func (s *GormStore) SetStoragePaths(ctx context.Context, id string, rawPath, processedPath string) error {
	updates := map[string]interface{}{"updated_at": time.Now()}
	if rawPath != "" {
		updates["raw_storage_path"] = rawPath
	}
	if processedPath != "" {
		updates["processed_storage_path"] = processedPath
	}
	return s.db.WithContext(ctx).Model(&fileMetadataRow{}).Where("id = ?", id).Updates(updates).Error
}

func (s *GormStore) SetUploadProgress(ctx context.Context, id string, progress int) error {
	return s.db.WithContext(ctx).Model(&fileMetadataRow{}).Where("id = ?", id).
		Updates(map[string]interface{}{"upload_progress": progress, "updated_at": time.Now()}).Error
}

func (s *GormStore) ReassignBatch(ctx context.Context, id, batchID string) error {
	return s.db.WithContext(ctx).Model(&fileMetadataRow{}).Where("id = ?", id).
		Updates(map[string]interface{}{"batch_id": batchID, "updated_at": time.Now()}).Error
}

func (s *GormStore) FindByBatch(ctx context.Context, batchID string) ([]Record, error) {
	var rows []fileMetadataRow
	if err := s.db.WithContext(ctx).Where("batch_id = ?", batchID).Order("created_at asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

func (s *GormStore) AggregateByBatch(ctx context.Context, batchID string) (Aggregate, error) {
	var groups []struct {
		ProcessingStatus string
		N                int
	}
	err := s.db.WithContext(ctx).Model(&fileMetadataRow{}).
		Select("processing_status, COUNT(*) AS n").
		Where("batch_id = ?", batchID).
		Group("processing_status").
		Scan(&groups).Error
	if err != nil {
		return Aggregate{}, err
	}
	var agg Aggregate
	for _, g := range groups {
		agg.Total += g.N
		switch Status(g.ProcessingStatus) {
		case StatusCompleted:
			agg.Completed += g.N
		case StatusFailed:
			agg.Failed += g.N
		}
	}
	return agg, nil
}

func (s *GormStore) FindByCollection(ctx context.Context, collectionID string) ([]Record, error) {
	var rows []fileMetadataRow
	if err := s.db.WithContext(ctx).Where("collection_id = ?", collectionID).Order("created_at desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

func (s *GormStore) Get(ctx context.Context, id string) (Record, error) {
	var row fileMetadataRow
	result := s.db.WithContext(ctx).First(&row, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, result.Error
	}
	return row.toRecord(), nil
}

func (s *GormStore) DeleteByCollection(ctx context.Context, collectionID string) error {
	return s.db.WithContext(ctx).Where("collection_id = ?", collectionID).Delete(&fileMetadataRow{}).Error
}

func toRecords(rows []fileMetadataRow) []Record {
	records := make([]Record, len(rows))
	for i, r := range rows {
		records[i] = r.toRecord()
	}
	return records
}
