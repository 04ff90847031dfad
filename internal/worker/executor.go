package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/image-edit-service/internal/domain"
	"github.com/cuongbtq/image-edit-service/internal/events"
	"github.com/cuongbtq/image-edit-service/internal/pipeline"
)

// Initializer hands out the shared pipeline
type Initializer interface {
	Acquire(ctx context.Context) (pipeline.Pipeline, error)
}

// ArtifactStore persists job files
type ArtifactStore interface {
	EnsureJobDir(ctx context.Context, job *domain.Job) error
	WriteInput(ctx context.Context, job *domain.Job, data []byte) error
	WriteOutput(ctx context.Context, job *domain.Job, data []byte) error
}

// Notifier reports job outcomes
type Notifier interface {
	NotifySuccess(ctx context.Context, job *domain.Job, image []byte) error
	NotifyFailure(ctx context.Context, job *domain.Job, cause error)
}

// ExecutorConfig holds executor dependencies
type ExecutorConfig struct {
	Logger      *slog.Logger
	Initializer Initializer
	Store       ArtifactStore
	Notifier    Notifier
	Publisher   events.Publisher
	Params      pipeline.Params
	Seed        func() uint32
}

// Executor runs a job from input to webhook
type Executor struct {
	logger      *slog.Logger
	initializer Initializer
	store       ArtifactStore
	notifier    Notifier
	publisher   events.Publisher
	params      pipeline.Params
	seed        func() uint32
}

// NewExecutor creates a new executor
func NewExecutor(cfg *ExecutorConfig) *Executor {
	seed := cfg.Seed
	if seed == nil {
		seed = pipeline.NewSeed
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	return &Executor{
		logger:      cfg.Logger,
		initializer: cfg.Initializer,
		store:       cfg.Store,
		notifier:    cfg.Notifier,
		publisher:   publisher,
		params:      cfg.Params,
		seed:        seed,
	}
}

// Execute runs job and reports the outcome through the notifier. It never
// returns an error; every failure ends in exactly one failure notification.
func (e *Executor) Execute(ctx context.Context, job *domain.Job) {
	start := time.Now()
	e.logger.Info("Job started",
		slog.String("job_id", job.ID),
		slog.String("device", job.Settings.Device),
	)
	e.publish(ctx, events.New(events.JobStarted, job.ID, ""))

	output, err := e.process(ctx, job)
	if err != nil {
		e.fail(ctx, job, err, start)
		return
	}

	if err := e.notifier.NotifySuccess(ctx, job, output); err != nil {
		// delivery is best-effort; the job itself succeeded
		notifyErr := domain.NewJobError(domain.KindNotify, "deliver success webhook", err)
		e.logger.Error("Success notification failed",
			slog.String("job_id", job.ID),
			slog.String("webhook", job.WebhookURL),
			slog.String("error", notifyErr.Error()),
		)
	}

	e.logger.Info("Job completed",
		slog.String("job_id", job.ID),
		slog.Int("output_bytes", len(output)),
		slog.Duration("took", time.Since(start)),
	)
	e.publish(ctx, events.New(events.JobCompleted, job.ID, ""))
}

// process runs the steps up to the success webhook
func (e *Executor) process(ctx context.Context, job *domain.Job) ([]byte, error) {
	if err := e.store.EnsureJobDir(ctx, job); err != nil {
		return nil, domain.NewJobError(domain.KindIO, "create job directory", err)
	}

	if err := e.store.WriteInput(ctx, job, job.ImageBytes); err != nil {
		return nil, domain.NewJobError(domain.KindIO, "write input", err)
	}

	p, err := e.initializer.Acquire(ctx)
	if err != nil {
		return nil, domain.NewJobError(domain.KindInit, "acquire pipeline", err)
	}

	output, err := e.transform(ctx, p, job)
	if err != nil {
		return nil, domain.NewJobError(domain.KindTransform, "edit image", err)
	}

	if err := e.store.WriteOutput(ctx, job, output); err != nil {
		return nil, domain.NewJobError(domain.KindIO, "write output", err)
	}

	return output, nil
}

func (e *Executor) transform(ctx context.Context, p pipeline.Pipeline, job *domain.Job) (output []byte, err error) {
	req := pipeline.EditRequest{
		Image:          job.ImageBytes,
		Prompt:         job.Prompt,
		NegativePrompt: job.Settings.NegativePrompt,
		Seed:           e.seed(),
		Params:         e.params,
	}

	defer func() {
		if r := recover(); r != nil {
			output, err = nil, fmt.Errorf("pipeline panicked: %v", r)
		}
	}()

	e.logger.Debug("Transform starting",
		slog.String("job_id", job.ID),
		slog.Uint64("seed", uint64(req.Seed)),
		slog.Int("steps", req.Params.Steps),
	)

	start := time.Now()
	output, err = p.Edit(ctx, req)
	if err == nil && len(output) == 0 {
		err = errors.New("pipeline returned an empty image")
	}

	e.logger.Debug("Transform finished",
		slog.String("job_id", job.ID),
		slog.Duration("took", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	return output, err
}

func (e *Executor) fail(ctx context.Context, job *domain.Job, err error, start time.Time) {
	kind := "unknown"
	var jobErr *domain.JobError
	if errors.As(err, &jobErr) {
		kind = string(jobErr.Kind)
	}

	e.logger.Error("Job failed",
		slog.String("job_id", job.ID),
		slog.String("kind", kind),
		slog.String("error", err.Error()),
		slog.Duration("took", time.Since(start)),
	)

	e.notifier.NotifyFailure(ctx, job, err)
	e.publish(ctx, events.New(events.JobFailed, job.ID, domain.FailureReason(err)))
}

func (e *Executor) publish(ctx context.Context, event events.Event) {
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("Failed to publish job event",
			slog.String("type", string(event.Type)),
			slog.String("job_id", event.JobID),
			slog.String("error", err.Error()),
		)
	}
}
