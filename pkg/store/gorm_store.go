package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"stashbot/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UploadModel{}, &FeedbackModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Insert creates the record, treating a SourceFileID conflict as a
// duplicate signal rather than an error.
func (s *GormStore) Insert(ctx context.Context, rec domain.UploadRecord) (bool, error) {
	model, err := toModel(rec)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_file_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return false, fmt.Errorf("insert upload: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpdateFields applies allow-listed fields to one record.
func (s *GormStore) UpdateFields(ctx context.Context, sourceFileID string, fields map[string]any) (bool, error) {
	columns, err := filterToColumns(fields)
	if err != nil {
		return false, err
	}
	if len(columns) == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&UploadModel{}).
		Where("source_file_id = ?", sourceFileID).
		Updates(columns)
	if res.Error != nil {
		return false, fmt.Errorf("update upload: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Get fetches a record by source file id.
func (s *GormStore) Get(ctx context.Context, sourceFileID string) (domain.UploadRecord, bool, error) {
	var model UploadModel
	err := s.db.WithContext(ctx).First(&model, "source_file_id = ?", sourceFileID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.UploadRecord{}, false, nil
	}
	if err != nil {
		return domain.UploadRecord{}, false, fmt.Errorf("get upload: %w", err)
	}
	rec, err := fromModel(model)
	if err != nil {
		return domain.UploadRecord{}, false, err
	}
	return rec, true, nil
}

// StatsByStatus aggregates counts and byte volume per status.
func (s *GormStore) StatsByStatus(ctx context.Context) (domain.UploadStats, error) {
	type row struct {
		Status string
		Count  int64
		Bytes  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&UploadModel{}).
		Select("status, count(*) as count, coalesce(sum(file_size), 0) as bytes").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return domain.UploadStats{}, fmt.Errorf("stats by status: %w", err)
	}
	stats := domain.UploadStats{}
	for _, r := range rows {
		switch domain.UploadStatus(r.Status) {
		case domain.StatusPending:
			stats.Pending = r.Count
		case domain.StatusProcessing:
			stats.Processing = r.Count
		case domain.StatusCompleted:
			stats.Completed = r.Count
		case domain.StatusFailed:
			stats.Failed = r.Count
		}
		stats.Total += r.Count
		stats.TotalBytes += r.Bytes
	}
	return stats, nil
}

// AppendFeedback records one immutable feedback row.
func (s *GormStore) AppendFeedback(ctx context.Context, fb domain.ClassificationFeedback) error {
	model := FeedbackModel{
		ID:            fb.ID,
		SourceFileID:  fb.SourceFileID,
		AICategory:    fb.AICategory,
		AIConfidence:  fb.AIConfidence,
		FinalCategory: fb.FinalCategory,
		FinalFilename: fb.FinalFilename,
		FeedbackType:  string(fb.FeedbackType),
		CreatedAt:     fb.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

// FeedbackStats counts feedback rows per type.
func (s *GormStore) FeedbackStats(ctx context.Context) (map[domain.FeedbackType]int64, error) {
	type row struct {
		FeedbackType string
		Count        int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&FeedbackModel{}).
		Select("feedback_type, count(*) as count").
		Group("feedback_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("feedback stats: %w", err)
	}
	out := make(map[domain.FeedbackType]int64, len(rows))
	for _, r := range rows {
		out[domain.FeedbackType(r.FeedbackType)] = r.Count
	}
	return out, nil
}

func toModel(rec domain.UploadRecord) (UploadModel, error) {
	labels, err := marshalLabels(rec.DetectedLabels)
	if err != nil {
		return UploadModel{}, err
	}
	return UploadModel{
		SourceFileID:         rec.SourceFileID,
		SourceUserID:         rec.SourceUserID,
		SourceUserName:       rec.SourceUserName,
		ChannelID:            rec.ChannelID,
		OriginalFilename:     rec.OriginalFilename,
		FileSize:             rec.FileSize,
		MimeType:             rec.MimeType,
		StorageFileID:        rec.StorageFileID,
		StorageFileName:      rec.StorageFileName,
		StorageURL:           rec.StorageURL,
		StorageFolder:        rec.StorageFolder,
		Status:               string(rec.Status),
		ErrorMessage:         rec.ErrorMessage,
		RetryCount:           rec.RetryCount,
		CreatedAt:            rec.CreatedAt,
		CompletedAt:          rec.CompletedAt,
		ClassificationMethod: rec.ClassificationMethod,
		DetectedLabels:       labels,
		DetectedText:         rec.DetectedText,
		AICategory:           rec.AICategory,
		AIConfidence:         rec.AIConfidence,
		UserCategory:         rec.UserCategory,
		FinalFilename:        rec.FinalFilename,
		FeedbackType:         string(rec.FeedbackType),
	}, nil
}

func fromModel(model UploadModel) (domain.UploadRecord, error) {
	var labels []domain.Label
	if len(model.DetectedLabels) > 0 {
		if err := json.Unmarshal(model.DetectedLabels, &labels); err != nil {
			return domain.UploadRecord{}, fmt.Errorf("decode labels: %w", err)
		}
	}
	return domain.UploadRecord{
		SourceFileID:         model.SourceFileID,
		SourceUserID:         model.SourceUserID,
		SourceUserName:       model.SourceUserName,
		ChannelID:            model.ChannelID,
		OriginalFilename:     model.OriginalFilename,
		FileSize:             model.FileSize,
		MimeType:             model.MimeType,
		StorageFileID:        model.StorageFileID,
		StorageFileName:      model.StorageFileName,
		StorageURL:           model.StorageURL,
		StorageFolder:        model.StorageFolder,
		Status:               domain.UploadStatus(model.Status),
		ErrorMessage:         model.ErrorMessage,
		RetryCount:           model.RetryCount,
		CreatedAt:            model.CreatedAt,
		CompletedAt:          model.CompletedAt,
		ClassificationMethod: model.ClassificationMethod,
		DetectedLabels:       labels,
		DetectedText:         model.DetectedText,
		AICategory:           model.AICategory,
		AIConfidence:         model.AIConfidence,
		UserCategory:         model.UserCategory,
		FinalFilename:        model.FinalFilename,
		FeedbackType:         domain.FeedbackType(model.FeedbackType),
	}, nil
}

func marshalLabels(labels []domain.Label) (datatypes.JSON, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(labels)
	if err != nil {
		return nil, fmt.Errorf("encode labels: %w", err)
	}
	return datatypes.JSON(raw), nil
}

// filterToColumns maps allow-listed field names to DB columns, dropping
// anything else.
func filterToColumns(fields map[string]any) (map[string]any, error) {
	columns := make(map[string]any, len(fields))
	for name, value := range fields {
		if !FieldAllowed(name) {
			continue
		}
		column, ok := fieldColumns[name]
		if !ok {
			continue
		}
		if name == "detectedLabels" {
			labels, ok := value.([]domain.Label)
			if !ok {
				continue
			}
			raw, err := marshalLabels(labels)
			if err != nil {
				return nil, err
			}
			value = raw
		}
		columns[column] = value
	}
	return columns, nil
}

var fieldColumns = map[string]string{
	"status":               "status",
	"errorMessage":         "error_message",
	"retryCount":           "retry_count",
	"completedAt":          "completed_at",
	"storageFileId":        "storage_file_id",
	"storageFileName":      "storage_file_name",
	"storageUrl":           "storage_url",
	"storageFolderPath":    "storage_folder",
	"classificationMethod": "classification_method",
	"detectedLabels":       "detected_labels",
	"detectedText":         "detected_text",
	"aiCategory":           "ai_category",
	"aiConfidence":         "ai_confidence",
	"userCategory":         "user_category",
	"finalFilename":        "final_filename",
	"feedbackType":         "feedback_type",
}
