package store

import (
	"context"
	"sync"
	"time"

	"stashbot/pkg/domain"
)

// MemoryStore keeps records in-process. It backs tests and local runs
// without Postgres, honoring the same Insert/UpdateFields contract.
type MemoryStore struct {
	mu       sync.RWMutex
	uploads  map[string]domain.UploadRecord
	order    []string
	feedback []domain.ClassificationFeedback
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{uploads: make(map[string]domain.UploadRecord)}
}

// Insert creates the record unless the source file id is already known.
func (m *MemoryStore) Insert(_ context.Context, rec domain.UploadRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.uploads[rec.SourceFileID]; exists {
		return false, nil
	}
	m.uploads[rec.SourceFileID] = rec
	m.order = append(m.order, rec.SourceFileID)
	return true, nil
}

// UpdateFields applies allow-listed fields to one record.
func (m *MemoryStore) UpdateFields(_ context.Context, sourceFileID string, fields map[string]any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.uploads[sourceFileID]
	if !ok {
		return false, nil
	}
	applied := false
	for name, value := range fields {
		if !FieldAllowed(name) {
			continue
		}
		if applyField(&rec, name, value) {
			applied = true
		}
	}
	if applied {
		m.uploads[sourceFileID] = rec
	}
	return applied, nil
}

// Get fetches a record by source file id.
func (m *MemoryStore) Get(_ context.Context, sourceFileID string) (domain.UploadRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.uploads[sourceFileID]
	return rec, ok, nil
}

// StatsByStatus aggregates counts and byte volume per status.
func (m *MemoryStore) StatsByStatus(_ context.Context) (domain.UploadStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := domain.UploadStats{}
	for _, rec := range m.uploads {
		switch rec.Status {
		case domain.StatusPending:
			stats.Pending++
		case domain.StatusProcessing:
			stats.Processing++
		case domain.StatusCompleted:
			stats.Completed++
		case domain.StatusFailed:
			stats.Failed++
		}
		stats.Total++
		stats.TotalBytes += rec.FileSize
	}
	return stats, nil
}

// AppendFeedback records one immutable feedback row.
func (m *MemoryStore) AppendFeedback(_ context.Context, fb domain.ClassificationFeedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, fb)
	return nil
}

// FeedbackStats counts feedback rows per type.
func (m *MemoryStore) FeedbackStats(_ context.Context) (map[domain.FeedbackType]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[domain.FeedbackType]int64)
	for _, fb := range m.feedback {
		out[fb.FeedbackType]++
	}
	return out, nil
}

// ListUploads returns records in insertion order (best-effort, for tests).
func (m *MemoryStore) ListUploads() []domain.UploadRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.UploadRecord, 0, len(m.order))
	for _, id := range m.order {
		if rec, ok := m.uploads[id]; ok {
			res = append(res, rec)
		}
	}
	return res
}

func applyField(rec *domain.UploadRecord, name string, value any) bool {
	switch name {
	case "status":
		if v, ok := toStatus(value); ok {
			rec.Status = v
			return true
		}
	case "errorMessage":
		if v, ok := value.(string); ok {
			rec.ErrorMessage = v
			return true
		}
	case "retryCount":
		if v, ok := value.(int); ok {
			rec.RetryCount = v
			return true
		}
	case "completedAt":
		if v, ok := value.(*time.Time); ok {
			rec.CompletedAt = v
			return true
		}
		if v, ok := value.(time.Time); ok {
			rec.CompletedAt = &v
			return true
		}
	case "storageFileId":
		if v, ok := value.(string); ok {
			rec.StorageFileID = v
			return true
		}
	case "storageFileName":
		if v, ok := value.(string); ok {
			rec.StorageFileName = v
			return true
		}
	case "storageUrl":
		if v, ok := value.(string); ok {
			rec.StorageURL = v
			return true
		}
	case "storageFolderPath":
		if v, ok := value.(string); ok {
			rec.StorageFolder = v
			return true
		}
	case "classificationMethod":
		if v, ok := value.(string); ok {
			rec.ClassificationMethod = v
			return true
		}
	case "detectedLabels":
		if v, ok := value.([]domain.Label); ok {
			rec.DetectedLabels = v
			return true
		}
	case "detectedText":
		if v, ok := value.(string); ok {
			rec.DetectedText = v
			return true
		}
	case "aiCategory":
		if v, ok := value.(string); ok {
			rec.AICategory = v
			return true
		}
	case "aiConfidence":
		if v, ok := value.(float64); ok {
			rec.AIConfidence = v
			return true
		}
	case "userCategory":
		if v, ok := value.(string); ok {
			rec.UserCategory = v
			return true
		}
	case "finalFilename":
		if v, ok := value.(string); ok {
			rec.FinalFilename = v
			return true
		}
	case "feedbackType":
		if v, ok := value.(domain.FeedbackType); ok {
			rec.FeedbackType = v
			return true
		}
		if v, ok := value.(string); ok {
			rec.FeedbackType = domain.FeedbackType(v)
			return true
		}
	}
	return false
}

func toStatus(value any) (domain.UploadStatus, bool) {
	switch v := value.(type) {
	case domain.UploadStatus:
		return v, true
	case string:
		return domain.UploadStatus(v), true
	}
	return "", false
}
