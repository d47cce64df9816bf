// Package queue runs upload jobs on a bounded-concurrency worker pool.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MaxConcurrency caps the configurable worker count.
const MaxConcurrency = 10

// ErrStopped is returned by Enqueue once the pool no longer accepts work.
var ErrStopped = errors.New("queue stopped")

// Job is one unit of work. Run receives the pool's base context; errors
// are the job's own responsibility (the retry controller resolves them
// into store transitions before the pool ever sees a failure).
type Job struct {
	ID  string
	Run func(ctx context.Context)
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Queued           int `json:"queued"`
	Running          int `json:"running"`
	ConcurrencyLimit int `json:"concurrencyLimit"`
}

// Pool dispatches queued jobs FIFO with at most `limit` running at once.
type Pool struct {
	ctx   context.Context
	limit int

	mu      sync.Mutex
	waiting []Job
	running int
	paused  bool
	stopped bool
	drained chan struct{}
	once    sync.Once
}

// New validates the concurrency limit and returns an accepting pool.
// Jobs run with ctx, which should outlive the pool's drain.
func New(ctx context.Context, limit int) (*Pool, error) {
	if limit < 1 || limit > MaxConcurrency {
		return nil, fmt.Errorf("concurrency must be between 1 and %d, got %d", MaxConcurrency, limit)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Pool{
		ctx:     ctx,
		limit:   limit,
		drained: make(chan struct{}),
	}, nil
}

// Enqueue accepts a job unless the pool has been stopped. Jobs are
// never silently dropped: rejection is reported to the caller.
func (p *Pool) Enqueue(job Job) error {
	if job.Run == nil {
		return errors.New("job requires a run function")
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.waiting = append(p.waiting, job)
	p.mu.Unlock()
	p.dispatch()
	return nil
}

// Stats reports queue depth, running count, and the configured limit.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Queued:           len(p.waiting),
		Running:          p.running,
		ConcurrencyLimit: p.limit,
	}
}

// Pause stops new job starts; in-flight jobs finish normally.
func (p *Pool) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume restarts dispatch of queued jobs.
func (p *Pool) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.dispatch()
}

// DrainAndStop rejects new work and waits up to timeout for queued and
// in-flight jobs to finish. On timeout, queued jobs are discarded and
// never started; in-flight jobs are abandoned — their goroutines run to
// completion in the background and their store writes still land, but
// DrainAndStop returns without waiting for them. Returns true when the
// pool fully drained inside the timeout.
func (p *Pool) DrainAndStop(timeout time.Duration) bool {
	p.mu.Lock()
	p.stopped = true
	p.signalIfDrainedLocked()
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.drained:
		return true
	case <-timer.C:
		p.mu.Lock()
		if aborted := len(p.waiting); aborted > 0 {
			slog.Warn("drain timeout, aborting queued jobs", "aborted", aborted)
		}
		p.waiting = nil
		p.signalIfDrainedLocked()
		p.mu.Unlock()
		return false
	}
}

// dispatch starts queued jobs while slots are free. Safe to call from
// any goroutine; it is the only place jobs transition to running.
func (p *Pool) dispatch() {
	p.mu.Lock()
	for !p.paused && p.running < p.limit && len(p.waiting) > 0 {
		job := p.waiting[0]
		p.waiting = p.waiting[1:]
		p.running++
		go p.run(job)
	}
	p.signalIfDrainedLocked()
	p.mu.Unlock()
}

func (p *Pool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "job_id", job.ID, "panic", r)
		}
		p.mu.Lock()
		p.running--
		p.mu.Unlock()
		p.dispatch()
	}()
	job.Run(p.ctx)
}

func (p *Pool) signalIfDrainedLocked() {
	if p.stopped && p.running == 0 && len(p.waiting) == 0 {
		p.once.Do(func() { close(p.drained) })
	}
}
