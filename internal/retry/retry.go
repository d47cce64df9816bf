// Package retry wraps one upload's processing with bounded
// exponential-backoff retry, recording every transition on the store.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stashbot/pkg/domain"
	"stashbot/pkg/store"
)

const (
	// MaxAttemptsCap bounds the configurable attempt count.
	MaxAttemptsCap = 10
	// MinBaseDelay and MaxBaseDelay bound the configurable base delay.
	MinBaseDelay = 10 * time.Millisecond
	MaxBaseDelay = time.Minute
)

// Controller retries a processing function per upload. Every failure is
// retried up to the attempt cap; no retryable/non-retryable distinction
// is made.
type Controller struct {
	store       store.Store
	baseDelay   time.Duration
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
}

// New validates the retry configuration and returns a controller.
func New(st store.Store, baseDelay time.Duration, maxAttempts int) (*Controller, error) {
	if maxAttempts < 1 || maxAttempts > MaxAttemptsCap {
		return nil, fmt.Errorf("max attempts must be between 1 and %d, got %d", MaxAttemptsCap, maxAttempts)
	}
	if baseDelay < MinBaseDelay || baseDelay > MaxBaseDelay {
		return nil, fmt.Errorf("base delay must be between %v and %v, got %v", MinBaseDelay, MaxBaseDelay, baseDelay)
	}
	return &Controller{
		store:       st,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		sleep:       sleepCtx,
	}, nil
}

// Delay returns the backoff before attempt n+1, given that attempt n
// (1-indexed) just failed: 2^n × baseDelay.
func (c *Controller) Delay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * c.baseDelay
}

// Run executes fn with retries. On success the record becomes completed
// with fn's destination fields and a completion timestamp. On exhausting
// the attempts the record becomes failed with the last error and
// retryCount equal to the attempt cap, and the terminal error is
// returned so the caller can notify the uploader.
func (c *Controller) Run(ctx context.Context, sourceFileID string, fn func(ctx context.Context) (map[string]any, error)) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if _, err := c.store.UpdateFields(ctx, sourceFileID, map[string]any{
			"status":     domain.StatusProcessing,
			"retryCount": attempt - 1,
		}); err != nil {
			slog.Error("mark processing failed", "source_file_id", sourceFileID, "err", err)
		}

		fields, err := fn(ctx)
		if err == nil {
			completed := map[string]any{
				"status":       domain.StatusCompleted,
				"errorMessage": "",
				"completedAt":  time.Now().UTC(),
			}
			for k, v := range fields {
				completed[k] = v
			}
			if _, err := c.store.UpdateFields(ctx, sourceFileID, completed); err != nil {
				return fmt.Errorf("mark completed: %w", err)
			}
			return nil
		}

		lastErr = err
		if attempt == c.maxAttempts {
			break
		}
		delay := c.Delay(attempt)
		slog.Warn("upload attempt failed, retrying",
			"source_file_id", sourceFileID,
			"attempt", attempt,
			"delay", delay.String(),
			"err", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	if _, err := c.store.UpdateFields(ctx, sourceFileID, map[string]any{
		"status":       domain.StatusFailed,
		"errorMessage": lastErr.Error(),
		"retryCount":   c.maxAttempts,
	}); err != nil {
		slog.Error("mark failed failed", "source_file_id", sourceFileID, "err", err)
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
