package store

import (
	"context"
	"testing"
	"time"

	"stashbot/pkg/domain"
)

func newRecord(id string, size int64) domain.UploadRecord {
	return domain.UploadRecord{
		SourceFileID:     id,
		SourceUserID:     "U001",
		ChannelID:        "C001",
		OriginalFilename: "photo.jpg",
		FileSize:         size,
		MimeType:         "image/jpeg",
		Status:           domain.StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
}

func TestInsertIsIdempotentPerSourceFile(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	inserted, err := s.Insert(ctx, newRecord("F001", 100))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should succeed")
	}
	inserted, err = s.Insert(ctx, newRecord("F001", 100))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted {
		t.Fatal("second insert for the same source file must be a no-op")
	}
	if got := len(s.ListUploads()); got != 1 {
		t.Fatalf("expected exactly one record, got %d", got)
	}
}

func TestUpdateFieldsDropsUnknownNames(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Insert(ctx, newRecord("F001", 100)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	applied, err := s.UpdateFields(ctx, "F001", map[string]any{
		"status":       domain.StatusProcessing,
		"retryCount":   1,
		"sourceFileId": "F999",
		"createdAt":    time.Now(),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !applied {
		t.Fatal("expected allow-listed fields to apply")
	}
	rec, ok, err := s.Get(ctx, "F001")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if rec.Status != domain.StatusProcessing || rec.RetryCount != 1 {
		t.Fatalf("expected applied fields, got %+v", rec)
	}
	if rec.SourceFileID != "F001" {
		t.Fatal("identity field must never change")
	}
}

func TestUpdateFieldsMissingRecord(t *testing.T) {
	s := NewMemoryStore()
	applied, err := s.UpdateFields(context.Background(), "F404", map[string]any{"status": domain.StatusFailed})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if applied {
		t.Fatal("expected no-op for missing record")
	}
}

func TestStatsByStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, _ = s.Insert(ctx, newRecord("F001", 100))
	_, _ = s.Insert(ctx, newRecord("F002", 250))
	_, _ = s.UpdateFields(ctx, "F002", map[string]any{"status": domain.StatusCompleted})

	stats, err := s.StatsByStatus(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 1 || stats.Completed != 1 || stats.Total != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.TotalBytes != 350 {
		t.Fatalf("unexpected byte volume: %d", stats.TotalBytes)
	}
}

func TestFeedbackStats(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, ft := range []domain.FeedbackType{
		domain.FeedbackConfirmed,
		domain.FeedbackConfirmed,
		domain.FeedbackCategoryChanged,
	} {
		if err := s.AppendFeedback(ctx, domain.ClassificationFeedback{
			ID:           string(ft) + "-id",
			SourceFileID: "F001",
			FeedbackType: ft,
			CreatedAt:    time.Now().UTC(),
		}); err != nil {
			t.Fatalf("append feedback: %v", err)
		}
	}
	stats, err := s.FeedbackStats(ctx)
	if err != nil {
		t.Fatalf("feedback stats: %v", err)
	}
	if stats[domain.FeedbackConfirmed] != 2 || stats[domain.FeedbackCategoryChanged] != 1 {
		t.Fatalf("unexpected feedback stats: %+v", stats)
	}
}
