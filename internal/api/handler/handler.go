package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/image-edit-service/internal/domain"
	"github.com/cuongbtq/image-edit-service/internal/worker"
)

// JobSubmitter admits jobs for asynchronous execution
type JobSubmitter interface {
	Submit(ctx context.Context, job *domain.Job) (worker.Admission, error)
	Stats() worker.Stats
}

// ReadinessChecker reports whether the shared pipeline is built
type ReadinessChecker interface {
	Ready() bool
}

// ConnectionChecker reports whether the event broker connection is up
type ConnectionChecker interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Worker         JobSubmitter
	Pipeline       ReadinessChecker
	Broker         ConnectionChecker // nil when events are disabled
	Settings       domain.Settings
	APIKey         string
	MaxUploadBytes int64
}

// ImageHandler handles image edit requests
type ImageHandler struct {
	logger         *slog.Logger
	worker         JobSubmitter
	pipeline       ReadinessChecker
	broker         ConnectionChecker
	settings       domain.Settings
	maxUploadBytes int64
}

// NewImageHandler creates a new ImageHandler instance
func NewImageHandler(deps *Dependencies) *ImageHandler {
	return &ImageHandler{
		logger:         deps.Logger,
		worker:         deps.Worker,
		pipeline:       deps.Pipeline,
		broker:         deps.Broker,
		settings:       deps.Settings,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}
