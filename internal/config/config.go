package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/image-edit-service/internal/domain"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// MinWebhookTimeout is the lowest accepted webhook timeout in seconds
	MinWebhookTimeout = 1
	// MaxWebhookTimeout is the highest accepted webhook timeout in seconds
	MaxWebhookTimeout = 120

	// DefaultMaxPixels caps decoded input size for the local pipeline
	DefaultMaxPixels = 89_478_485
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Model    ModelConfig    `yaml:"model"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Worker   WorkerConfig   `yaml:"worker"`
	Storage  StorageConfig  `yaml:"storage"`
	Events   EventsConfig   `yaml:"events"`
	Receiver ReceiverConfig `yaml:"receiver"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// AuthConfig holds the shared secret checked against X-API-Key
type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

// ModelConfig describes the shared image pipeline
type ModelConfig struct {
	ID                    string        `yaml:"id"`
	Device                string        `yaml:"device"`
	DefaultNegativePrompt string        `yaml:"default_negative_prompt"`
	InferenceURL          string        `yaml:"inference_url"`
	Preload               bool          `yaml:"preload"`
	LoadTimeout           time.Duration `yaml:"load_timeout"`
	MaxPixels             int           `yaml:"max_pixels"`
	Breaker               BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of the model server
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// WebhookConfig holds outbound notification settings
type WebhookConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	VerifySSL      bool   `yaml:"verify_ssl"`
	SampleURL      string `yaml:"sample_url"`
}

// WorkerConfig holds admission gate settings
type WorkerConfig struct {
	MaxParallelJobs int           `yaml:"max_parallel_jobs"`
	QueueSize       int           `yaml:"queue_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds artifact store settings
type StorageConfig struct {
	Root string `yaml:"root"`
}

// EventsConfig controls the lifecycle event side channel
type EventsConfig struct {
	Enabled  bool           `yaml:"enabled"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ReceiverConfig configures the example webhook receiver
type ReceiverConfig struct {
	Port      int    `yaml:"port"`
	UploadDir string `yaml:"upload_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  20 << 20,
		},
		Model: ModelConfig{
			ID:                    "Qwen/Qwen-Image-Edit-2509",
			Device:                "cuda",
			DefaultNegativePrompt: "low quality, artifacts, blur",
			LoadTimeout:           10 * time.Minute,
			MaxPixels:             DefaultMaxPixels,
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: 15,
			VerifySSL:      true,
		},
		Worker: WorkerConfig{
			MaxParallelJobs: 4,
			QueueSize:       1024,
			ShutdownTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Root: "storage",
		},
		Events: EventsConfig{
			RabbitMQ: RabbitMQConfig{
				Host:  "localhost",
				Port:  5672,
				User:  "guest",
				VHost: "/",
				Exchange: ExchangeConfig{
					Name:    "image_jobs",
					Type:    "topic",
					Durable: true,
				},
				Connection: ConnectionConfig{
					RetryAttempts:     5,
					RetryInterval:     2 * time.Second,
					Heartbeat:         10 * time.Second,
					ConnectionTimeout: 30 * time.Second,
				},
				Publish: PublishConfig{
					RetryAttempts:     3,
					RetryInterval:     200 * time.Millisecond,
					BackoffMultiplier: 2,
				},
			},
		},
		Receiver: ReceiverConfig{
			Port:      9000,
			UploadDir: "webhook_uploads",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		App: AppConfig{
			Name:        "image-edit-service",
			Version:     "0.1.0",
			Environment: "development",
		},
	}
}

// Load reads and parses the configuration file on top of Default()
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadWithEnv loads the optional file at configPath and applies environment
// overrides from the process environment.
func LoadWithEnv(configPath string) (*Config, error) {
	config := Default()
	if configPath != "" {
		var err error
		if config, err = Load(configPath); err != nil {
			return nil, err
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv overrides fields from environment variables. lookup has the
// signature of os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("API_KEY", &c.Auth.APIKey)
	e.str("MODEL_DEVICE", &c.Model.Device)
	e.str("MODEL_ID", &c.Model.ID)
	e.str("DEFAULT_NEGATIVE_PROMPT", &c.Model.DefaultNegativePrompt)
	e.str("INFERENCE_URL", &c.Model.InferenceURL)
	e.boolean("MODEL_PRELOAD", &c.Model.Preload)
	e.integer("MODEL_MAX_PIXELS", &c.Model.MaxPixels)
	e.integer("WEBHOOK_TIMEOUT_SECONDS", &c.Webhook.TimeoutSeconds)
	e.boolean("WEBHOOK_VERIFY_SSL", &c.Webhook.VerifySSL)
	e.str("SAMPLE_WEBHOOK_URL", &c.Webhook.SampleURL)
	e.integer("MAX_PARALLEL_JOBS", &c.Worker.MaxParallelJobs)
	e.str("STORAGE_DIR", &c.Storage.Root)
	e.integer("PORT", &c.Server.Port)
	e.str("LOG_LEVEL", &c.Logging.Level)
	e.str("LOG_FORMAT", &c.Logging.Format)
	e.str("APP_ENV", &c.App.Environment)
	e.boolean("EVENTS_ENABLED", &c.Events.Enabled)
	e.str("RABBITMQ_HOST", &c.Events.RabbitMQ.Host)
	e.integer("RABBITMQ_PORT", &c.Events.RabbitMQ.Port)
	e.str("RABBITMQ_USER", &c.Events.RabbitMQ.User)
	e.str("RABBITMQ_PASSWORD", &c.Events.RabbitMQ.Password)
	e.str("RABBITMQ_VHOST", &c.Events.RabbitMQ.VHost)
	e.str("RABBITMQ_EXCHANGE", &c.Events.RabbitMQ.Exchange.Name)
	e.integer("RECEIVER_PORT", &c.Receiver.Port)
	e.str("RECEIVER_UPLOAD_DIR", &c.Receiver.UploadDir)

	return e.err
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server max_upload_bytes must be greater than 0")
	}

	if c.Auth.APIKey == "" {
		return fmt.Errorf("api key is required (set API_KEY)")
	}

	if c.Model.ID == "" {
		return fmt.Errorf("model id is required")
	}

	if c.Model.Device == "" {
		return fmt.Errorf("model device is required")
	}

	if c.Model.MaxPixels < 1 {
		return fmt.Errorf("model max_pixels must be at least 1")
	}

	if c.Model.InferenceURL != "" {
		if err := validateHTTPURL(c.Model.InferenceURL); err != nil {
			return fmt.Errorf("invalid model inference_url: %w", err)
		}
	}

	if c.Webhook.TimeoutSeconds < MinWebhookTimeout || c.Webhook.TimeoutSeconds > MaxWebhookTimeout {
		return fmt.Errorf("invalid webhook timeout: %d (must be between %d and %d)", c.Webhook.TimeoutSeconds, MinWebhookTimeout, MaxWebhookTimeout)
	}

	if c.Webhook.SampleURL != "" {
		if err := validateHTTPURL(c.Webhook.SampleURL); err != nil {
			return fmt.Errorf("invalid webhook sample_url: %w", err)
		}
	}

	if c.Worker.MaxParallelJobs < 1 {
		return fmt.Errorf("worker max_parallel_jobs must be at least 1")
	}

	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("worker queue_size must not be negative")
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}

	if c.Events.Enabled {
		mq := c.Events.RabbitMQ
		if mq.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}

		if mq.Port < MinPort || mq.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", mq.Port, MinPort, MaxPort)
		}

		if mq.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	return nil
}

// ValidateReceiverConfig checks the settings of the example webhook receiver
func (c *Config) ValidateReceiverConfig() error {
	if c.Receiver.Port < MinPort || c.Receiver.Port > MaxPort {
		return fmt.Errorf("invalid receiver port: %d (must be between %d and %d)", c.Receiver.Port, MinPort, MaxPort)
	}

	if c.Receiver.UploadDir == "" {
		return fmt.Errorf("receiver upload_dir is required")
	}

	return nil
}

// WebhookTimeout returns the per-request webhook timeout
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutSeconds) * time.Second
}

// JobSettings snapshots the values a job carries from admission to completion
func (c *Config) JobSettings() domain.Settings {
	return domain.Settings{
		Device:          c.Model.Device,
		ModelID:         c.Model.ID,
		NegativePrompt:  c.Model.DefaultNegativePrompt,
		WebhookTimeout:  c.WebhookTimeout(),
		VerifySSL:       c.Webhook.VerifySSL,
		StorageRoot:     c.Storage.Root,
		MaxParallelJobs: c.Worker.MaxParallelJobs,
	}
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// envReader applies env values and keeps the first parse error
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) value(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.value(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.value(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %q is not an integer", key, v))
		return
	}
	*dst = n
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.value(key)
	if !ok || v == "" {
		return
	}
	switch strings.ToLower(v) {
	case "1", "t", "true", "yes", "y", "on":
		*dst = true
	case "0", "f", "false", "no", "n", "off":
		*dst = false
	default:
		e.fail(fmt.Errorf("invalid %s: %q is not a boolean", key, v))
	}
}

func (e *envReader) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}
