package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Async wraps a Publisher so that Publish returns immediately. Delivery runs
// in the background and errors are logged.
type Async struct {
	next    Publisher
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewAsync creates an async publisher. Each delivery gets its own timeout,
// detached from the caller's cancellation.
func NewAsync(next Publisher, timeout time.Duration, logger *slog.Logger) *Async {
	return &Async{
		next:    next,
		timeout: timeout,
		logger:  logger,
	}
}

// Publish schedules event for delivery and always returns nil
func (a *Async) Publish(ctx context.Context, event Event) error {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		if err := a.next.Publish(pubCtx, event); err != nil {
			a.logger.Warn("Failed to publish job event",
				slog.String("type", string(event.Type)),
				slog.String("job_id", event.JobID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Close waits for in-flight deliveries, then closes the wrapped publisher
func (a *Async) Close() error {
	a.wg.Wait()
	return a.next.Close()
}
