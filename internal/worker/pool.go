package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/image-edit-service/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop runs jobs until jobsChan is closed and drained. Each goroutine
// is one concurrency slot, held for the whole Execute call.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for job := range w.jobsChan {
		w.run(ctx, workerName, job)
	}

	w.logger.Debug("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}

func (w *Worker) run(ctx context.Context, workerName string, job *domain.Job) {
	w.queued.Add(-1)
	w.active.Add(1)
	defer func() {
		w.active.Add(-1)
		w.completed.Add(1)

		// Execute handles its own failures; this only keeps the slot alive
		if r := recover(); r != nil {
			w.logger.Error("Job runner panicked",
				slog.String("worker_name", workerName),
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
			)
		}
	}()

	w.logger.Debug("Worker received job",
		slog.String("worker_name", workerName),
		slog.String("job_id", job.ID),
	)

	w.runner.Execute(ctx, job)
}
