// Package pipeline wires intake, validation, the task queue, the retry
// controller, and the external collaborators into one upload flow.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"stashbot/internal/dedup"
	"stashbot/internal/metrics"
	"stashbot/internal/queue"
	"stashbot/internal/retry"
	"stashbot/internal/util"
	"stashbot/pkg/chat"
	"stashbot/pkg/classify"
	"stashbot/pkg/domain"
	"stashbot/pkg/storage"
	"stashbot/pkg/store"
	"stashbot/pkg/vision"
)

// ErrNotFound is returned when no upload record matches the given id.
var ErrNotFound = errors.New("upload not found")

// ErrValidation wraps every rejection that happens before a job is
// enqueued. The record is already marked failed when this is returned.
var ErrValidation = errors.New("validation failed")

// Source file ids are platform-issued opaque tokens. Anything outside
// this shape never reaches the task queue.
var fileIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{3,127}$`)

// Config bounds what intake accepts.
type Config struct {
	MaxFileSize  int64
	AllowedMimes []string // prefixes, e.g. "image/"; empty allows all
	AllowedUsers []string // empty allows all
}

// Orchestrator runs the upload pipeline end to end.
type Orchestrator struct {
	cfg      Config
	store    store.Store
	deduper  dedup.Deduper
	pool     *queue.Pool
	retrier  *retry.Controller
	source   chat.Source
	notifier chat.Notifier
	analyzer vision.Analyzer
	objects  storage.Store
	scorer   *classify.Scorer
	metrics  *metrics.Metrics

	// Category-folder cache. Idempotent, never invalidated; the object
	// store stays authoritative.
	foldersMu sync.Mutex
	folders   map[string]string

	now func() time.Time
}

// New assembles an orchestrator from its collaborators.
func New(
	cfg Config,
	st store.Store,
	deduper dedup.Deduper,
	pool *queue.Pool,
	retrier *retry.Controller,
	source chat.Source,
	notifier chat.Notifier,
	analyzer vision.Analyzer,
	objects storage.Store,
	scorer *classify.Scorer,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		deduper:  deduper,
		pool:     pool,
		retrier:  retrier,
		source:   source,
		notifier: notifier,
		analyzer: analyzer,
		objects:  objects,
		scorer:   scorer,
		metrics:  m,
		folders:  make(map[string]string),
		now:      time.Now,
	}
}

// HandleEvent is the intake boundary for one normalized file-shared
// event. Redeliveries inside the dedup window are dropped silently;
// everything else flows into Intake.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev domain.Event) error {
	o.metrics.EventsReceived.Inc()
	if ev.EventID != "" {
		fresh, err := o.deduper.ShouldProcess(ctx, ev.EventID)
		if err != nil {
			return fmt.Errorf("dedup check: %w", err)
		}
		if !fresh {
			o.metrics.EventsDeduped.Inc()
			slog.Info("duplicate event dropped", "event_id", ev.EventID)
			return nil
		}
	}
	return o.Intake(ctx, ev)
}

// Intake validates the event, records the upload, and enqueues the
// processing job. Validation failures are recorded as failed with no
// retry and never enter the queue. A duplicate sourceFileId is a no-op.
func (o *Orchestrator) Intake(ctx context.Context, ev domain.Event) error {
	if !fileIDPattern.MatchString(ev.SourceFileID) {
		return o.rejectf(ctx, ev, domain.FileInfo{}, "malformed source file id")
	}

	info, err := o.source.FileInfo(ctx, ev.SourceFileID)
	if err != nil {
		return fmt.Errorf("fetch file info: %w", err)
	}
	if reason := o.validate(ev, info); reason != "" {
		return o.rejectf(ctx, ev, info, reason)
	}

	rec := domain.UploadRecord{
		SourceFileID:     ev.SourceFileID,
		SourceUserID:     ev.SourceUserID,
		SourceUserName:   info.UserName,
		ChannelID:        ev.ChannelID,
		OriginalFilename: info.Name,
		FileSize:         info.Size,
		MimeType:         info.MimeType,
		Status:           domain.StatusPending,
		CreatedAt:        o.now().UTC(),
	}
	inserted, err := o.store.Insert(ctx, rec)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	if !inserted {
		slog.Info("duplicate intake resolved", "source_file_id", ev.SourceFileID)
		return nil
	}

	if err := o.pool.Enqueue(queue.Job{ID: ev.SourceFileID, Run: o.jobFor(rec)}); err != nil {
		// Accepted into the store but the pool is stopping. Mark failed
		// so the record still reaches a terminal state.
		if _, uerr := o.store.UpdateFields(ctx, rec.SourceFileID, map[string]any{
			"status":       domain.StatusFailed,
			"errorMessage": err.Error(),
		}); uerr != nil {
			slog.Error("mark enqueue failure", "source_file_id", rec.SourceFileID, "err", uerr)
		}
		return fmt.Errorf("enqueue upload: %w", err)
	}
	return nil
}

func (o *Orchestrator) validate(ev domain.Event, info domain.FileInfo) string {
	if o.cfg.MaxFileSize > 0 && info.Size > o.cfg.MaxFileSize {
		return fmt.Sprintf("file too large: %d bytes", info.Size)
	}
	if len(o.cfg.AllowedMimes) > 0 && !mimeAllowed(info.MimeType, o.cfg.AllowedMimes) {
		return fmt.Sprintf("disallowed mime type %q", info.MimeType)
	}
	if len(o.cfg.AllowedUsers) > 0 && !contains(o.cfg.AllowedUsers, ev.SourceUserID) {
		return fmt.Sprintf("user %s not authorized", ev.SourceUserID)
	}
	return ""
}

// rejectf records a validation failure as a terminal failed record.
func (o *Orchestrator) rejectf(ctx context.Context, ev domain.Event, info domain.FileInfo, reason string) error {
	o.metrics.ValidationRejects.Inc()
	o.metrics.UploadsFailed.Inc()
	rec := domain.UploadRecord{
		SourceFileID:     ev.SourceFileID,
		SourceUserID:     ev.SourceUserID,
		SourceUserName:   info.UserName,
		ChannelID:        ev.ChannelID,
		OriginalFilename: info.Name,
		FileSize:         info.Size,
		MimeType:         info.MimeType,
		Status:           domain.StatusFailed,
		ErrorMessage:     reason,
		CreatedAt:        o.now().UTC(),
	}
	if _, err := o.store.Insert(ctx, rec); err != nil {
		slog.Error("record validation failure", "source_file_id", ev.SourceFileID, "err", err)
	}
	slog.Warn("event rejected", "source_file_id", ev.SourceFileID, "reason", reason)
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// jobFor wraps one upload's processing with the retry controller and
// the outcome notifications.
func (o *Orchestrator) jobFor(rec domain.UploadRecord) func(ctx context.Context) {
	return func(ctx context.Context) {
		err := o.retrier.Run(ctx, rec.SourceFileID, func(ctx context.Context) (map[string]any, error) {
			return o.process(ctx, rec)
		})
		final, ok, gerr := o.store.Get(ctx, rec.SourceFileID)
		if gerr != nil || !ok {
			slog.Error("load record after processing", "source_file_id", rec.SourceFileID, "err", gerr)
			final = rec
		}
		if err != nil {
			o.metrics.UploadsFailed.Inc()
			o.notifier.NotifyFailure(ctx, rec.ChannelID, final, err)
			return
		}
		o.metrics.UploadsCompleted.Inc()
		o.notifier.NotifySuccess(ctx, rec.ChannelID, final)
	}
}

// process is one attempt of the core flow: download, park in the date
// folder, analyze, classify, organize into the category folder. Returns
// the destination fields the retry controller persists on completion.
func (o *Orchestrator) process(ctx context.Context, rec domain.UploadRecord) (map[string]any, error) {
	body, err := o.source.Download(ctx, rec.SourceFileID)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}

	date := o.now().UTC().Format("2006-01-02")
	dateFolder, err := o.ensureFolder(ctx, date, storage.RootFolder)
	if err != nil {
		return nil, fmt.Errorf("ensure date folder: %w", err)
	}
	stored, err := o.objects.Upload(ctx, bytes.NewReader(data), int64(len(data)),
		rec.OriginalFilename, rec.MimeType, dateFolder)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	// Analysis and context are best-effort: their absence degrades
	// classification, never the upload.
	var signals domain.Signals
	signals.FaceCount = domain.FaceCountUnknown
	if s, err := o.analyzer.Analyze(ctx, data); err != nil {
		slog.Warn("image analysis unavailable", "source_file_id", rec.SourceFileID, "err", err)
	} else {
		signals = s
	}
	contextText := ""
	if text, err := o.source.ChannelContext(ctx, rec.ChannelID, rec.SourceUserID); err != nil {
		slog.Warn("channel context unavailable", "source_file_id", rec.SourceFileID, "err", err)
	} else {
		contextText = text
	}

	result := o.scorer.Classify(signals, contextText)
	o.metrics.Classifications.WithLabelValues(result.Category, result.Method).Inc()

	categoryFolder, err := o.ensureFolder(ctx, result.Category, storage.RootFolder)
	if err != nil {
		return nil, fmt.Errorf("ensure category folder: %w", err)
	}
	finalName := fmt.Sprintf("%s_%s_%s", result.Category, date, rec.OriginalFilename)
	organized, err := o.objects.Copy(ctx, stored.ID, categoryFolder, finalName)
	if err != nil {
		return nil, fmt.Errorf("organize upload: %w", err)
	}

	return map[string]any{
		"storageFileId":        organized.ID,
		"storageFileName":      organized.Name,
		"storageUrl":           organized.URL,
		"storageFolderPath":    categoryFolder,
		"classificationMethod": result.Method,
		"detectedLabels":       signals.Labels,
		"detectedText":         signals.Text,
		"aiCategory":           result.Category,
		"aiConfidence":         result.Confidence,
		"finalFilename":        finalName,
	}, nil
}

// ensureFolder memoizes EnsureFolder per folder name.
func (o *Orchestrator) ensureFolder(ctx context.Context, name, parent string) (string, error) {
	o.foldersMu.Lock()
	if id, ok := o.folders[name]; ok {
		o.foldersMu.Unlock()
		return id, nil
	}
	o.foldersMu.Unlock()

	id, err := o.objects.EnsureFolder(ctx, name, parent)
	if err != nil {
		return "", err
	}
	o.foldersMu.Lock()
	o.folders[name] = id
	o.foldersMu.Unlock()
	return id, nil
}

// HandleFeedback records the operator's final decision for a completed
// upload and returns the computed feedback type.
func (o *Orchestrator) HandleFeedback(ctx context.Context, sourceFileID, finalCategory, finalFilename string, skipped bool) (domain.FeedbackType, error) {
	rec, ok, err := o.store.Get(ctx, sourceFileID)
	if err != nil {
		return "", fmt.Errorf("load upload: %w", err)
	}
	if !ok {
		return "", ErrNotFound
	}

	fbType := feedbackType(rec, finalCategory, finalFilename, skipped)

	updates := map[string]any{"feedbackType": fbType}
	if finalCategory != "" {
		updates["userCategory"] = finalCategory
	}
	if finalFilename != "" {
		updates["finalFilename"] = finalFilename
	}
	if _, err := o.store.UpdateFields(ctx, sourceFileID, updates); err != nil {
		return "", fmt.Errorf("apply feedback: %w", err)
	}

	fb := domain.ClassificationFeedback{
		ID:            util.NewID(),
		SourceFileID:  sourceFileID,
		AICategory:    rec.AICategory,
		AIConfidence:  rec.AIConfidence,
		FinalCategory: pick(finalCategory, rec.AICategory),
		FinalFilename: pick(finalFilename, rec.FinalFilename),
		FeedbackType:  fbType,
		CreatedAt:     o.now().UTC(),
	}
	if err := o.store.AppendFeedback(ctx, fb); err != nil {
		return "", fmt.Errorf("append feedback: %w", err)
	}
	o.metrics.FeedbackRecorded.WithLabelValues(string(fbType)).Inc()
	return fbType, nil
}

func feedbackType(rec domain.UploadRecord, finalCategory, finalFilename string, skipped bool) domain.FeedbackType {
	if skipped {
		return domain.FeedbackSkipped
	}
	categoryChanged := finalCategory != "" && finalCategory != rec.AICategory
	filenameChanged := finalFilename != "" && finalFilename != rec.FinalFilename
	switch {
	case categoryChanged && filenameChanged:
		return domain.FeedbackBothChanged
	case categoryChanged:
		return domain.FeedbackCategoryChanged
	case filenameChanged:
		return domain.FeedbackFilenameChanged
	default:
		return domain.FeedbackConfirmed
	}
}

func mimeAllowed(mime string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(mime, p) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
