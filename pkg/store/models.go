package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UploadModel struct {
	SourceFileID     string `gorm:"primaryKey"`
	SourceUserID     string `gorm:"index"`
	SourceUserName   string
	ChannelID        string `gorm:"index"`
	OriginalFilename string
	FileSize         int64
	MimeType         string
	StorageFileID    string
	StorageFileName  string
	StorageURL       string
	StorageFolder    string
	Status           string `gorm:"not null;index"`
	ErrorMessage     string
	RetryCount       int
	CreatedAt        time.Time `gorm:"not null"`
	CompletedAt      *time.Time

	ClassificationMethod string
	DetectedLabels       datatypes.JSON
	DetectedText         string
	AICategory           string
	AIConfidence         float64
	UserCategory         string
	FinalFilename        string
	FeedbackType         string
}

func (UploadModel) TableName() string { return "uploads" }

type FeedbackModel struct {
	ID            string `gorm:"primaryKey"`
	SourceFileID  string `gorm:"index;not null"`
	AICategory    string
	AIConfidence  float64
	FinalCategory string
	FinalFilename string
	FeedbackType  string    `gorm:"index"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (FeedbackModel) TableName() string { return "classification_feedback" }
