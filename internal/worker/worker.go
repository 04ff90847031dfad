// Package worker admits image-edit jobs and runs them on a bounded pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cuongbtq/image-edit-service/internal/domain"
	"github.com/cuongbtq/image-edit-service/internal/events"
)

// ErrWorkerStopped is returned by Submit once Stop has been called
var ErrWorkerStopped = errors.New("worker is not accepting jobs")

// ErrWorkerNotStarted is returned by Submit before Start. Nothing would
// consume the job, so it is never admitted.
var ErrWorkerNotStarted = errors.New("worker has not been started")

// Runner executes one job to a terminal state
type Runner interface {
	Execute(ctx context.Context, job *domain.Job)
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Runner      Runner
	Publisher   events.Publisher
	Concurrency int
	QueueSize   int
}

// Admission is returned to the caller of Submit
type Admission struct {
	JobID  string        `json:"job_id"`
	Status domain.Status `json:"status"`
}

// Stats is a point-in-time view of the worker counters
type Stats struct {
	Queued    int64 `json:"queued"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
}

// Worker is the admission gate. At most Concurrency jobs run at once; the
// rest wait in the queue. Submit never blocks.
type Worker struct {
	logger      *slog.Logger
	runner      Runner
	publisher   events.Publisher
	workerID    string
	concurrency int

	jobsChan chan *domain.Job
	wg       sync.WaitGroup // pool goroutines
	senders  sync.WaitGroup // overflow hand-offs

	mu      sync.RWMutex
	started bool
	closed  bool

	queued    atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	queueSize := cfg.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Worker{
		logger:      cfg.Logger,
		runner:      cfg.Runner,
		publisher:   publisher,
		workerID:    "worker-" + uuid.NewString()[:8],
		concurrency: concurrency,
		jobsChan:    make(chan *domain.Job, queueSize),
	}
}

// Start spawns the worker pool. Jobs run under a context detached from ctx's
// cancellation: an admitted job always reaches a terminal notification.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWorkerStopped
	}
	if w.started {
		return fmt.Errorf("worker %s already started", w.workerID)
	}
	w.started = true

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("queue_size", cap(w.jobsChan)),
	)

	w.spawnWorkerPool(context.WithoutCancel(ctx))
	return nil
}

// Submit admits job and returns at once. The job runs when a slot frees up.
func (w *Worker) Submit(ctx context.Context, job *domain.Job) (Admission, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return Admission{}, ErrWorkerStopped
	}
	if !w.started {
		return Admission{}, ErrWorkerNotStarted
	}

	w.logger.Info("Job admitted",
		slog.String("job_id", job.ID),
		slog.String("filename", job.Filename),
		slog.String("webhook", job.WebhookURL),
		slog.String("prompt", job.Prompt),
	)

	w.queued.Add(1)
	select {
	case w.jobsChan <- job:
	default:
		// queue is full; wait for a slot off the caller's goroutine
		w.senders.Add(1)
		go func() {
			defer w.senders.Done()
			w.jobsChan <- job
		}()
	}

	if err := w.publisher.Publish(ctx, events.New(events.JobQueued, job.ID, "")); err != nil {
		w.logger.Warn("Failed to publish job event",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	return Admission{JobID: job.ID, Status: domain.StatusQueued}, nil
}

// Stop stops admission and waits until every admitted job has finished.
// It returns ctx.Err() if ctx expires first; jobs keep running in that case.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.logger.Info("Stopping worker...",
		slog.String("worker_id", w.workerID),
		slog.Int64("queued", w.queued.Load()),
		slog.Int64("active", w.active.Load()),
	)

	done := make(chan struct{})
	go func() {
		w.senders.Wait()
		close(w.jobsChan)
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped",
			slog.String("worker_id", w.workerID),
			slog.Int64("completed", w.completed.Load()),
		)
		return nil
	case <-ctx.Done():
		stats := w.Stats()
		w.logger.Warn("Worker stop timed out, jobs still running",
			slog.String("worker_id", w.workerID),
			slog.Int64("queued", stats.Queued),
			slog.Int64("active", stats.Active),
		)
		return fmt.Errorf("worker stop: %w", ctx.Err())
	}
}

// Stats returns the current counters
func (w *Worker) Stats() Stats {
	return Stats{
		Queued:    w.queued.Load(),
		Active:    w.active.Load(),
		Completed: w.completed.Load(),
	}
}

// RunnerFunc adapts a function to the Runner interface
type RunnerFunc func(ctx context.Context, job *domain.Job)

// Execute calls f(ctx, job)
func (f RunnerFunc) Execute(ctx context.Context, job *domain.Job) {
	f(ctx, job)
}
