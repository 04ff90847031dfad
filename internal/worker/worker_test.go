package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/image-edit-service/internal/domain"
	"github.com/cuongbtq/image-edit-service/internal/events"
	"github.com/cuongbtq/image-edit-service/shared/logger"
)

// gaugeRunner records the peak number of concurrent Execute calls
type gaugeRunner struct {
	delay   time.Duration
	release chan struct{}

	inFlight atomic.Int64
	peak     atomic.Int64
	done     atomic.Int64

	mu  sync.Mutex
	ids []string
}

func (g *gaugeRunner) Execute(_ context.Context, job *domain.Job) {
	n := g.inFlight.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if g.release != nil {
		<-g.release
	}
	time.Sleep(g.delay)

	g.mu.Lock()
	g.ids = append(g.ids, job.ID)
	g.mu.Unlock()

	g.inFlight.Add(-1)
	g.done.Add(1)
}

func newJobFor(t *testing.T) *domain.Job {
	t.Helper()
	return domain.NewJob(uuid.NewString(), "make it brighter", []byte("img"), "red.png",
		"http://localhost:9000/webhook", domain.Settings{StorageRoot: "storage"})
}

func newTestWorker(runner Runner, concurrency, queueSize int, pub events.Publisher) *Worker {
	return NewWorker(&Config{
		Logger:      logger.NewDiscard(),
		Runner:      runner,
		Publisher:   pub,
		Concurrency: concurrency,
		QueueSize:   queueSize,
	})
}

func TestWorker_ConcurrencyBound(t *testing.T) {
	tests := []struct {
		name        string
		concurrency int
		queueSize   int
		jobs        int
	}{
		{name: "single slot", concurrency: 1, queueSize: 4, jobs: 10},
		{name: "three slots overflowing queue", concurrency: 3, queueSize: 2, jobs: 30},
		{name: "unbuffered queue", concurrency: 4, queueSize: 0, jobs: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &gaugeRunner{delay: 5 * time.Millisecond}
			w := newTestWorker(runner, tt.concurrency, tt.queueSize, nil)
			require.NoError(t, w.Start(context.Background()))

			for n := 0; n < tt.jobs; n++ {
				_, err := w.Submit(context.Background(), newJobFor(t))
				require.NoError(t, err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			require.NoError(t, w.Stop(ctx))

			assert.Equal(t, int64(tt.jobs), runner.done.Load())
			assert.LessOrEqual(t, runner.peak.Load(), int64(tt.concurrency))
			assert.Equal(t, Stats{Completed: int64(tt.jobs)}, w.Stats())
		})
	}
}

func TestWorker_SubmitNeverBlocks(t *testing.T) {
	runner := &gaugeRunner{release: make(chan struct{})}
	pub := &recordingPublisher{}
	w := newTestWorker(runner, 2, 1, pub)
	require.NoError(t, w.Start(context.Background()))

	const jobs = 200
	ids := make(map[string]struct{}, jobs)
	for n := 0; n < jobs; n++ {
		job := newJobFor(t)

		start := time.Now()
		admission, err := w.Submit(context.Background(), job)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 100*time.Millisecond)

		assert.Equal(t, domain.StatusQueued, admission.Status)
		assert.Equal(t, job.ID, admission.JobID)
		_, err = uuid.Parse(admission.JobID)
		assert.NoError(t, err)
		ids[admission.JobID] = struct{}{}
	}
	assert.Len(t, ids, jobs)

	assert.Eventually(t, func() bool { return runner.inFlight.Load() == 2 }, time.Second, time.Millisecond)
	stats := w.Stats()
	assert.Equal(t, int64(2), stats.Active)
	assert.Equal(t, int64(jobs-2), stats.Queued)

	close(runner.release)
	require.NoError(t, w.Stop(context.Background()))
	assert.Equal(t, int64(jobs), runner.done.Load())
	assert.LessOrEqual(t, runner.peak.Load(), int64(2))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Len(t, pub.types, jobs)
	assert.Equal(t, events.JobQueued, pub.types[0])
}

func TestWorker_SubmitAfterStop(t *testing.T) {
	w := newTestWorker(&gaugeRunner{}, 1, 1, nil)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop(context.Background()))

	_, err := w.Submit(context.Background(), newJobFor(t))
	assert.ErrorIs(t, err, ErrWorkerStopped)

	// stopping twice is harmless
	assert.NoError(t, w.Stop(context.Background()))
	assert.ErrorIs(t, w.Start(context.Background()), ErrWorkerStopped)
}

func TestWorker_SubmitBeforeStart(t *testing.T) {
	runner := &gaugeRunner{}
	pub := &recordingPublisher{}
	w := newTestWorker(runner, 1, 1, pub)

	_, err := w.Submit(context.Background(), newJobFor(t))
	assert.ErrorIs(t, err, ErrWorkerNotStarted)
	assert.Equal(t, Stats{}, w.Stats())

	// nothing was queued, so stopping an unstarted gate returns at once
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Stop(ctx))
	assert.Equal(t, int64(0), runner.done.Load())

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Empty(t, pub.types)
}

func TestWorker_StartTwice(t *testing.T) {
	w := newTestWorker(&gaugeRunner{}, 1, 1, nil)
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	require.NoError(t, w.Stop(context.Background()))
}

func TestWorker_StopTimeout(t *testing.T) {
	runner := &gaugeRunner{release: make(chan struct{})}
	w := newTestWorker(runner, 1, 1, nil)
	require.NoError(t, w.Start(context.Background()))

	_, err := w.Submit(context.Background(), newJobFor(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = w.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the admitted job still finishes
	close(runner.release)
	assert.Eventually(t, func() bool { return runner.done.Load() == 1 }, time.Second, time.Millisecond)
}

func TestWorker_CancelledStartContextDoesNotAbortJobs(t *testing.T) {
	seen := make(chan error, 1)
	runner := RunnerFunc(func(ctx context.Context, job *domain.Job) {
		time.Sleep(10 * time.Millisecond)
		seen <- ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	w := newTestWorker(runner, 1, 1, nil)
	require.NoError(t, w.Start(ctx))

	_, err := w.Submit(context.Background(), newJobFor(t))
	require.NoError(t, err)
	cancel()

	require.NoError(t, w.Stop(context.Background()))
	assert.NoError(t, <-seen)
}

func TestWorker_RunnerPanicKeepsSlot(t *testing.T) {
	var calls atomic.Int64
	runner := RunnerFunc(func(ctx context.Context, job *domain.Job) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})

	w := newTestWorker(runner, 1, 4, nil)
	require.NoError(t, w.Start(context.Background()))
	for n := 0; n < 3; n++ {
		_, err := w.Submit(context.Background(), newJobFor(t))
		require.NoError(t, err)
	}
	require.NoError(t, w.Stop(context.Background()))

	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, int64(3), w.Stats().Completed)
}
