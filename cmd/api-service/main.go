package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/image-edit-service/internal/api/handler"
	"github.com/cuongbtq/image-edit-service/internal/api/router"
	"github.com/cuongbtq/image-edit-service/internal/config"
	"github.com/cuongbtq/image-edit-service/internal/events"
	"github.com/cuongbtq/image-edit-service/internal/pipeline"
	"github.com/cuongbtq/image-edit-service/internal/pipeline/local"
	"github.com/cuongbtq/image-edit-service/internal/pipeline/remote"
	"github.com/cuongbtq/image-edit-service/internal/storage"
	"github.com/cuongbtq/image-edit-service/internal/webhook"
	"github.com/cuongbtq/image-edit-service/internal/worker"
	"github.com/cuongbtq/image-edit-service/shared/logger"
	"github.com/cuongbtq/image-edit-service/shared/rabbitmq"
)

const eventPublishTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to optional configuration file")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("model_id", cfg.Model.ID),
		slog.String("model_device", cfg.Model.Device),
		slog.Int("max_parallel_jobs", cfg.Worker.MaxParallelJobs),
	)

	initializer := initPipeline(&cfg.Model, component(appLogger, "pipeline"))
	if cfg.Model.Preload {
		initializer.Warmup(context.Background())
	}

	store, err := storage.NewFileStore(cfg.Storage.Root, component(appLogger, "storage"))
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	publisher, broker, err := initEvents(&cfg.Events, component(appLogger, "events"))
	if err != nil {
		return fmt.Errorf("failed to initialize events: %w", err)
	}
	defer publisher.Close()

	workerLogger := component(appLogger, "worker")
	executor := worker.NewExecutor(&worker.ExecutorConfig{
		Logger:      workerLogger,
		Initializer: initializer,
		Store:       store,
		Notifier:    webhook.New(cfg.App.Version, component(appLogger, "webhook")),
		Publisher:   publisher,
		Params:      pipeline.DefaultParams(),
	})

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:      workerLogger,
		Runner:      executor,
		Publisher:   publisher,
		Concurrency: cfg.Worker.MaxParallelJobs,
		QueueSize:   cfg.Worker.QueueSize,
	})
	if err := workerInstance.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	r := initRouter(cfg, component(appLogger, "http"), workerInstance, initializer, broker)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.String("storage_root", store.Root()),
	)
	if cfg.Webhook.SampleURL != "" {
		appLogger.Info("Sample webhook configured", slog.String("webhook", cfg.Webhook.SampleURL))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	// stop taking requests first, then let admitted jobs finish
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	workerCtx, workerCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer workerCancel()
	if err := workerInstance.Stop(workerCtx); err != nil {
		appLogger.Error("Worker did not drain", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

// component scopes the application logger to one part of the service
func component(l *logger.Logger, name string) *slog.Logger {
	return l.WithAttrs(slog.String("component", name)).Logger
}

// initPipeline picks the remote model server when configured, else the local fallback
func initPipeline(cfg *config.ModelConfig, logger *slog.Logger) *pipeline.Initializer {
	var loader pipeline.Loader
	if cfg.InferenceURL != "" {
		loader = remote.NewLoader(remote.Config{
			BaseURL:     cfg.InferenceURL,
			Model:       cfg.ID,
			Device:      cfg.Device,
			MaxFailures: cfg.Breaker.MaxFailures,
			OpenTimeout: cfg.Breaker.OpenTimeout,
		}, logger)
	} else {
		logger.Warn("No inference_url configured, using local pipeline")
		loader = local.NewLoader(cfg.Device, cfg.MaxPixels, logger)
	}

	return pipeline.NewInitializer(cfg.ID, loader, cfg.LoadTimeout, logger)
}

// initEvents connects to RabbitMQ when events are enabled. The returned
// checker is nil when they are not.
func initEvents(cfg *config.EventsConfig, logger *slog.Logger) (events.Publisher, handler.ConnectionChecker, error) {
	if !cfg.Enabled {
		return events.NopPublisher{}, nil, nil
	}

	mq := cfg.RabbitMQ
	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               mq.Host,
		Port:               mq.Port,
		User:               mq.User,
		Password:           mq.Password,
		VHost:              mq.VHost,
		ExchangeName:       mq.Exchange.Name,
		ExchangeType:       mq.Exchange.Type,
		ExchangeDurable:    mq.Exchange.Durable,
		ExchangeAutoDelete: mq.Exchange.AutoDelete,
		RetryAttempts:      mq.Connection.RetryAttempts,
		RetryInterval:      mq.Connection.RetryInterval,
		Heartbeat:          mq.Connection.Heartbeat,
		ConnectionTimeout:  mq.Connection.ConnectionTimeout,
		PublishRetries:     mq.Publish.RetryAttempts,
		PublishRetryDelay:  mq.Publish.RetryInterval,
		PublishBackoffMult: mq.Publish.BackoffMultiplier,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	return events.NewAsync(events.NewBrokerPublisher(client, logger), eventPublishTimeout, logger), client, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, w *worker.Worker, p *pipeline.Initializer, broker handler.ConnectionChecker) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:         logger,
		Worker:         w,
		Pipeline:       p,
		Broker:         broker,
		Settings:       cfg.JobSettings(),
		APIKey:         cfg.Auth.APIKey,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
}
