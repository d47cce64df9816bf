// Package dedup protects the intake path against redelivery of the
// same notification. Membership expires per key, never in bulk: a
// global periodic clear would forget every recently seen event at once
// and let redeliveries straight through.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper answers whether an event id has been seen inside the window.
type Deduper interface {
	// ShouldProcess returns true on the first call for eventID within
	// the window and false on every subsequent call. It has no side
	// effects beyond membership tracking.
	ShouldProcess(ctx context.Context, eventID string) (bool, error)
}

// RedisDeduper tracks seen event ids as individual Redis keys with a
// per-key TTL equal to the dedup window.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewRedisDeduper creates a Redis-backed deduper.
func NewRedisDeduper(addr, password, prefix string, window time.Duration) (*RedisDeduper, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("deduper redis addr is required")
	}
	if window <= 0 {
		return nil, errors.New("deduper requires a positive window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "stashbot:seen"
	}
	return &RedisDeduper{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		prefix: prefix,
		window: window,
	}, nil
}

// ShouldProcess marks the id seen and reports whether it was new.
// SET NX with expiry is atomic, so concurrent deliveries of the same
// event resolve to exactly one true.
func (d *RedisDeduper) ShouldProcess(ctx context.Context, eventID string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, errors.New("event id required")
	}
	key := fmt.Sprintf("%s:%s", d.prefix, eventID)
	ok, err := d.client.SetNX(ctx, key, 1, d.window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}

// MemoryDeduper is the in-process fallback: a map from event id to
// insertion time, swept incrementally as entries are touched.
type MemoryDeduper struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryDeduper creates an in-memory deduper with the given window.
func NewMemoryDeduper(window time.Duration) (*MemoryDeduper, error) {
	if window <= 0 {
		return nil, errors.New("deduper requires a positive window")
	}
	return &MemoryDeduper{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}, nil
}

// ShouldProcess marks the id seen and reports whether it was new.
func (d *MemoryDeduper) ShouldProcess(_ context.Context, eventID string) (bool, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, errors.New("event id required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen[eventID]; ok {
		if now.Sub(at) < d.window {
			return false, nil
		}
		// Expired entry: treat as unseen and refresh below.
	}
	d.seen[eventID] = now
	d.sweepLocked(now)
	return true, nil
}

// sweepLocked drops expired entries. It runs at most once per window
// quarter so a hot intake path does not rescan the map on every event.
func (d *MemoryDeduper) sweepLocked(now time.Time) {
	if now.Sub(d.lastSweep) < d.window/4 {
		return
	}
	d.lastSweep = now
	for id, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, id)
		}
	}
}
