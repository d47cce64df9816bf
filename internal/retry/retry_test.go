package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"stashbot/pkg/domain"
	"stashbot/pkg/store"
)

func newController(t *testing.T, st store.Store, maxAttempts int) (*Controller, *[]time.Duration) {
	t.Helper()
	c, err := New(st, 10*time.Millisecond, maxAttempts)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	slept := &[]time.Duration{}
	c.sleep = func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return c, slept
}

func seedRecord(t *testing.T, st store.Store, id string) {
	t.Helper()
	if _, err := st.Insert(context.Background(), domain.UploadRecord{
		SourceFileID: id,
		Status:       domain.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
}

func TestDelayLaw(t *testing.T) {
	c, err := New(store.NewMemoryStore(), 100*time.Millisecond, 5)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	for attempt := 1; attempt < 5; attempt++ {
		want := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		if got := c.Delay(attempt); got != want {
			t.Fatalf("delay for attempt %d: got %v want %v", attempt, got, want)
		}
	}
}

func TestRunSucceedsAfterTransientFailures(t *testing.T) {
	st := store.NewMemoryStore()
	seedRecord(t, st, "F001")
	c, slept := newController(t, st, 3)

	calls := 0
	err := c.Run(context.Background(), "F001", func(context.Context) (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("network blip")
		}
		return map[string]any{"storageUrl": "https://store/abc"}, nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(*slept) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(*slept))
	}
	if (*slept)[0] != 20*time.Millisecond || (*slept)[1] != 40*time.Millisecond {
		t.Fatalf("unexpected backoff sequence: %v", *slept)
	}

	rec, ok, _ := st.Get(context.Background(), "F001")
	if !ok {
		t.Fatal("record missing")
	}
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if rec.StorageURL != "https://store/abc" {
		t.Fatalf("destination metadata missing: %+v", rec)
	}
	if rec.CompletedAt == nil {
		t.Fatal("completion timestamp missing")
	}
	if rec.RetryCount != 2 {
		t.Fatalf("expected retryCount 2 on last attempt, got %d", rec.RetryCount)
	}
}

func TestRunExhaustsAttempts(t *testing.T) {
	st := store.NewMemoryStore()
	seedRecord(t, st, "F002")
	c, slept := newController(t, st, 3)

	calls := 0
	err := c.Run(context.Background(), "F002", func(context.Context) (map[string]any, error) {
		calls++
		return nil, errors.New("download failed")
	})
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if calls != 3 {
		t.Fatalf("expected exactly maxAttempts calls, got %d", calls)
	}
	if len(*slept) != 2 {
		t.Fatalf("no sleep after the final attempt: got %d sleeps", len(*slept))
	}

	rec, _, _ := st.Get(context.Background(), "F002")
	if rec.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", rec.Status)
	}
	if rec.RetryCount != 3 {
		t.Fatalf("retryCount at failure must equal maxAttempts, got %d", rec.RetryCount)
	}
	if rec.ErrorMessage != "download failed" {
		t.Fatalf("expected last error persisted, got %q", rec.ErrorMessage)
	}
}

func TestNewValidatesBounds(t *testing.T) {
	st := store.NewMemoryStore()
	if _, err := New(st, time.Millisecond, 3); err == nil {
		t.Fatal("expected too-small base delay to be rejected")
	}
	if _, err := New(st, time.Second, 0); err == nil {
		t.Fatal("expected zero attempts to be rejected")
	}
	if _, err := New(st, time.Second, MaxAttemptsCap+1); err == nil {
		t.Fatal("expected oversized attempts to be rejected")
	}
}
