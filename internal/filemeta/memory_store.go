package filemeta

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store, useful for tests and the "memory"
// storage driver.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Record)}
}

func (m *MemoryStore) CreateForBatch(ctx context.Context, batchID, collectionID string, files []NewFile) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	records := make([]Record, len(files))
	for i, f := range files {
		rec := Record{
			ID:               f.ID,
			CollectionID:     collectionID,
			OriginalFilename: f.OriginalFilename,
			FileSize:         f.FileSize,
			BatchID:          batchID,
			ProcessingStatus: StatusQueued,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		m.rows[f.ID] = rec
		records[i] = rec
	}
	return records, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	rec.ProcessingStatus = status
	rec.UpdatedAt = time.Now()
	m.rows[id] = rec
	return nil
}

func (m *MemoryStore) SetStoragePaths(ctx context.Context, id string, rawPath, processedPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if rawPath != "" {
		rec.RawStoragePath = rawPath
	}
	if processedPath != "" {
		rec.ProcessedStoragePath = processedPath
	}
	rec.UpdatedAt = time.Now()
	m.rows[id] = rec
	return nil
}

func (m *MemoryStore) SetUploadProgress(ctx context.Context, id string, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	rec.UploadProgress = progress
	rec.UpdatedAt = time.Now()
	m.rows[id] = rec
	return nil
}

func (m *MemoryStore) ReassignBatch(ctx context.Context, id, batchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	rec.BatchID = batchID
	rec.UpdatedAt = time.Now()
	m.rows[id] = rec
	return nil
}

func (m *MemoryStore) FindByBatch(ctx context.Context, batchID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.rows {
		if rec.BatchID == batchID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AggregateByBatch(ctx context.Context, batchID string) (Aggregate, error) {
	rows, _ := m.FindByBatch(ctx, batchID)
	agg := Aggregate{Total: len(rows)}
	for _, r := range rows {
		switch r.ProcessingStatus {
		case StatusCompleted:
			agg.Completed++
		case StatusFailed:
			agg.Failed++
		}
	}
	return agg, nil
}

func (m *MemoryStore) FindByCollection(ctx context.Context, collectionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.rows {
		if rec.CollectionID == collectionID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.rows[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) DeleteByCollection(ctx context.Context, collectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.rows {
		if rec.CollectionID == collectionID {
			delete(m.rows, id)
		}
	}
	return nil
}
