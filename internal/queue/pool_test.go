package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestConcurrencyBound(t *testing.T) {
	p, err := New(context.Background(), 2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	var running, peak int64
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		err := p.Enqueue(Job{ID: "job", Run: func(context.Context) {
			defer wg.Done()
			n := atomic.AddInt64(&running, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt64(&running, -1)
		}})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	// Let the first two jobs start, then release everything.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt64(&running); got != 2 {
		t.Fatalf("expected 2 running jobs, got %d", got)
	}
	close(release)
	wg.Wait()
	if got := atomic.LoadInt64(&peak); got > 2 {
		t.Fatalf("concurrency bound exceeded: peak %d", got)
	}
}

func TestFIFOOrderWithSingleWorker(t *testing.T) {
	p, err := New(context.Background(), 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(4)
	for i := 0; i < 4; i++ {
		i := i
		if err := p.Enqueue(Job{Run: func(context.Context) {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	wg.Wait()
	for i, got := range order {
		if got != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestPauseAndResume(t *testing.T) {
	p, err := New(context.Background(), 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	p.Pause()
	started := make(chan struct{})
	if err := p.Enqueue(Job{Run: func(context.Context) { close(started) }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-started:
		t.Fatal("job must not start while paused")
	case <-time.After(50 * time.Millisecond):
	}
	if got := p.Stats(); got.Queued != 1 || got.Running != 0 {
		t.Fatalf("unexpected stats while paused: %+v", got)
	}
	p.Resume()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job did not start after resume")
	}
}

func TestEnqueueAfterStopFails(t *testing.T) {
	p, err := New(context.Background(), 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if !p.DrainAndStop(time.Second) {
		t.Fatal("empty pool should drain immediately")
	}
	if err := p.Enqueue(Job{Run: func(context.Context) {}}); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestDrainTimeoutAbandonsQueuedJobs(t *testing.T) {
	p, err := New(context.Background(), 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	release := make(chan struct{})
	defer close(release)
	if err := p.Enqueue(Job{ID: "slow", Run: func(context.Context) { <-release }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var startedQueued atomic.Bool
	if err := p.Enqueue(Job{ID: "queued", Run: func(context.Context) { startedQueued.Store(true) }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	drained := p.DrainAndStop(100 * time.Millisecond)
	elapsed := time.Since(start)
	if drained {
		t.Fatal("expected drain to time out")
	}
	if elapsed < 80*time.Millisecond || elapsed > time.Second {
		t.Fatalf("drain returned after %v, expected ~100ms", elapsed)
	}
	if startedQueued.Load() {
		t.Fatal("queued job must never start after drain timeout")
	}
	if got := p.Stats(); got.Queued != 0 {
		t.Fatalf("queued jobs should be discarded, got %+v", got)
	}
}

func TestJobPanicDoesNotKillPool(t *testing.T) {
	p, err := New(context.Background(), 1)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	done := make(chan struct{})
	_ = p.Enqueue(Job{ID: "boom", Run: func(context.Context) { panic("boom") }})
	if err := p.Enqueue(Job{ID: "after", Run: func(context.Context) { close(done) }}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stopped dispatching after a panicking job")
	}
}

func TestNewRejectsBadConcurrency(t *testing.T) {
	if _, err := New(context.Background(), 0); err == nil {
		t.Fatal("expected concurrency 0 to be rejected")
	}
	if _, err := New(context.Background(), MaxConcurrency+1); err == nil {
		t.Fatal("expected oversized concurrency to be rejected")
	}
}
