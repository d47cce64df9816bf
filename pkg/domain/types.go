package domain

import "time"

// UploadStatus tracks the lifecycle of a single upload attempt.
type UploadStatus string

const (
	StatusPending    UploadStatus = "pending"
	StatusProcessing UploadStatus = "processing"
	StatusCompleted  UploadStatus = "completed"
	StatusFailed     UploadStatus = "failed"
)

// FeedbackType tags how an operator resolved an AI classification.
type FeedbackType string

const (
	FeedbackConfirmed       FeedbackType = "Confirmed"
	FeedbackCategoryChanged FeedbackType = "Category Changed"
	FeedbackFilenameChanged FeedbackType = "Filename Changed"
	FeedbackBothChanged     FeedbackType = "Both Changed"
	FeedbackSkipped         FeedbackType = "Skipped"
)

// UploadRecord is the durable record of one shared file, keyed by the
// source platform's file id. Exactly one record exists per SourceFileID.
type UploadRecord struct {
	SourceFileID     string       `json:"sourceFileId"`
	SourceUserID     string       `json:"sourceUserId"`
	SourceUserName   string       `json:"sourceUserName,omitempty"`
	ChannelID        string       `json:"channelId"`
	OriginalFilename string       `json:"originalFilename"`
	FileSize         int64        `json:"fileSize"`
	MimeType         string       `json:"mimeType"`
	StorageFileID    string       `json:"storageFileId,omitempty"`
	StorageFileName  string       `json:"storageFileName,omitempty"`
	StorageURL       string       `json:"storageUrl,omitempty"`
	StorageFolder    string       `json:"storageFolderPath,omitempty"`
	Status           UploadStatus `json:"status"`
	ErrorMessage     string       `json:"errorMessage,omitempty"`
	RetryCount       int          `json:"retryCount"`
	CreatedAt        time.Time    `json:"createdAt"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`

	ClassificationMethod string       `json:"classificationMethod,omitempty"`
	DetectedLabels       []Label      `json:"detectedLabels,omitempty"`
	DetectedText         string       `json:"detectedText,omitempty"`
	AICategory           string       `json:"aiCategory,omitempty"`
	AIConfidence         float64      `json:"aiConfidence,omitempty"`
	UserCategory         string       `json:"userCategory,omitempty"`
	FinalFilename        string       `json:"finalFilename,omitempty"`
	FeedbackType         FeedbackType `json:"feedbackType,omitempty"`
}

// Label is one content tag produced by the analysis collaborator.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Color is a dominant color with the fraction of pixels it covers.
type Color struct {
	RGB      string  `json:"rgb"`
	Fraction float64 `json:"fraction"`
}

// FaceCountUnknown marks signals where no face detection ran.
const FaceCountUnknown = -1

// Signals holds everything the analysis collaborator extracted from the
// image. A zero-value Signals (no labels, no text, no colors) means
// analysis was unavailable and classification degrades to the fallback.
type Signals struct {
	Labels    []Label `json:"labels"`
	Text      string  `json:"text"`
	FaceCount int     `json:"faceCount"`
	Colors    []Color `json:"colors"`
}

// Empty reports whether the analyzer produced nothing usable.
func (s Signals) Empty() bool {
	return len(s.Labels) == 0 && s.Text == "" && len(s.Colors) == 0
}

// Classification is the scorer's ranked answer for one image.
type Classification struct {
	Category     string      `json:"category"`
	Confidence   float64     `json:"confidence"`
	Method       string      `json:"method"`
	Alternatives []Candidate `json:"alternatives"`
}

// Candidate is a runner-up category with its final score.
type Candidate struct {
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

// Classification methods reported by the scorer.
const (
	MethodHybrid        = "hybrid"
	MethodKeywordMatch  = "keyword_match"
	MethodVisionAPI     = "vision_api"
	MethodLowConfidence = "low_confidence"
)

// ClassificationFeedback links an upload to the AI suggestion and the
// final human decision. Append-only.
type ClassificationFeedback struct {
	ID            string       `json:"id"`
	SourceFileID  string       `json:"sourceFileId"`
	AICategory    string       `json:"aiCategory"`
	AIConfidence  float64      `json:"aiConfidence"`
	FinalCategory string       `json:"finalCategory"`
	FinalFilename string       `json:"finalFilename"`
	FeedbackType  FeedbackType `json:"feedbackType"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// UploadStats aggregates records for the operational surface.
type UploadStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
	TotalBytes int64 `json:"totalBytes"`
}

// StoredFile describes an object written to the storage collaborator.
type StoredFile struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Name     string `json:"name"`
	FolderID string `json:"folderId"`
}

// FileInfo is source-platform metadata for a shared file.
type FileInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimetype"`
	Size     int64  `json:"size"`
	UserID   string `json:"user"`
	UserName string `json:"username"`
}

// Event is one normalized "file shared" notification from the webhook layer.
type Event struct {
	EventID      string `json:"eventId"`
	SourceFileID string `json:"sourceFileId"`
	SourceUserID string `json:"sourceUserId"`
	ChannelID    string `json:"channelId"`
}
