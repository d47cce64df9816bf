// Package store persists upload records and classification feedback.
package store

import (
	"context"

	"stashbot/pkg/domain"
)

// Allow-listed field names accepted by UpdateFields. Anything else is
// silently dropped so a buggy caller cannot corrupt identity or history
// columns.
var allowedUpdateFields = map[string]struct{}{
	"status":               {},
	"errorMessage":         {},
	"retryCount":           {},
	"completedAt":          {},
	"storageFileId":        {},
	"storageFileName":      {},
	"storageUrl":           {},
	"storageFolderPath":    {},
	"classificationMethod": {},
	"detectedLabels":       {},
	"detectedText":         {},
	"aiCategory":           {},
	"aiConfidence":         {},
	"userCategory":         {},
	"finalFilename":        {},
	"feedbackType":         {},
}

// FieldAllowed reports whether UpdateFields will apply the given field.
func FieldAllowed(name string) bool {
	_, ok := allowedUpdateFields[name]
	return ok
}

// Store is the durable record of every upload attempt.
//
// All mutations are atomic per record; StatsByStatus may lag in-flight
// writes.
type Store interface {
	// Insert creates the record unless one already exists for the same
	// SourceFileID. A duplicate is an expected outcome, reported as
	// inserted=false with a nil error.
	Insert(ctx context.Context, rec domain.UploadRecord) (inserted bool, err error)

	// UpdateFields applies the allow-listed subset of fields to the
	// record. Unknown field names are dropped without error. Returns
	// false when no record matches.
	UpdateFields(ctx context.Context, sourceFileID string, fields map[string]any) (bool, error)

	// Get fetches a record by source file id.
	Get(ctx context.Context, sourceFileID string) (domain.UploadRecord, bool, error)

	// StatsByStatus aggregates counts per status plus total byte volume.
	StatsByStatus(ctx context.Context) (domain.UploadStats, error)

	// AppendFeedback records one immutable feedback row.
	AppendFeedback(ctx context.Context, fb domain.ClassificationFeedback) error

	// FeedbackStats summarizes feedback rows for accuracy reporting.
	FeedbackStats(ctx context.Context) (map[domain.FeedbackType]int64, error)
}
