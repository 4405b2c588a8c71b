package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/corpusworks/corpusd/internal/logging"
)

var (
	// ErrSaturated is returned by Submit when the job queue is full. Callers
	// should surface it as backpressure (HTTP 503) rather than retrying
	// immediately.
	ErrSaturated = errors.New("ingest: job queue is full")

	// ErrStopped is returned by Submit after Shutdown has begun.
	ErrStopped = errors.New("ingest: pool is stopped")
)

// Task is one scheduled pipeline run. Wait blocks until the run finishes and
// returns its error.
type Task struct {
	fn   func(ctx context.Context) error
	done chan struct{}
	err  error
}

// Wait blocks until the task completes or ctx is done. A ctx error means the
// caller stopped waiting, not that the task failed; the task keeps running.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pool runs ingestion jobs on a fixed set of workers with a bounded queue.
// Jobs run detached from the submitting request: each gets a fresh context
// bound only by the configured per-job timeout.
type Pool struct {
	queue   chan *Task
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewPool starts workers goroutines consuming a queue of depth jobs.
// Zero or negative arguments fall back to 4 workers, depth 64, and a
// 2 minute per-job timeout.
func NewPool(workers, depth int, timeout time.Duration, log *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if depth <= 0 {
		depth = 64
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		queue:   make(chan *Task, depth),
		timeout: timeout,
		log:     log,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues fn for execution. It never blocks: a full queue is
// ErrSaturated, a stopped pool is ErrStopped.
func (p *Pool) Submit(fn func(ctx context.Context) error) (*Task, error) {
	t := &Task{fn: fn, done: make(chan struct{})}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil, ErrStopped
	}
	select {
	case p.queue <- t:
		return t, nil
	default:
		return nil, ErrSaturated
	}
}

// Queued returns the number of jobs waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.queue)
}

// Shutdown stops accepting jobs and waits for queued and running jobs to
// drain, or for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := p.log.With(slog.Int("worker", id))
	for t := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		t.err = t.fn(logging.WithLogger(ctx, log))
		cancel()
		close(t.done)

		if t.err != nil {
			log.Warn("ingest: job failed", slog.String("error", t.err.Error()))
		}
	}
}
