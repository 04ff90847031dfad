package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
			assert.Equal(t, "file-secret", cfg.Auth.APIKey)
			assert.Equal(t, "cpu", cfg.Model.Device)
			assert.Equal(t, 2*time.Minute, cfg.Model.LoadTimeout)
			assert.Equal(t, 30, cfg.Webhook.TimeoutSeconds)
			assert.False(t, cfg.Webhook.VerifySSL)
			assert.Equal(t, 2, cfg.Worker.MaxParallelJobs)
			assert.True(t, cfg.Events.Enabled)
			assert.Equal(t, "edit_events", cfg.Events.RabbitMQ.Exchange.Name)
			assert.Equal(t, "image-edit-api", cfg.App.Name)

			// fields absent from the file keep their defaults
			assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
			assert.Equal(t, 9000, cfg.Receiver.Port)
			assert.Equal(t, 3, cfg.Events.RabbitMQ.Publish.RetryAttempts)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "cuda", cfg.Model.Device)
	assert.Equal(t, "Qwen/Qwen-Image-Edit-2509", cfg.Model.ID)
	assert.Equal(t, "low quality, artifacts, blur", cfg.Model.DefaultNegativePrompt)
	assert.Equal(t, 15, cfg.Webhook.TimeoutSeconds)
	assert.True(t, cfg.Webhook.VerifySSL)
	assert.Equal(t, 4, cfg.Worker.MaxParallelJobs)
	assert.Equal(t, "storage", cfg.Storage.Root)
	assert.Equal(t, DefaultMaxPixels, cfg.Model.MaxPixels)
	assert.False(t, cfg.Events.Enabled)

	// API_KEY has no default
	assert.Empty(t, cfg.Auth.APIKey)
	assert.Error(t, cfg.ValidateAPIConfig())
}

func TestConfig_ApplyEnv(t *testing.T) {
	env := map[string]string{
		"API_KEY":                 "env-secret",
		"MODEL_DEVICE":            "cpu",
		"WEBHOOK_TIMEOUT_SECONDS": "45",
		"WEBHOOK_VERIFY_SSL":      "false",
		"MAX_PARALLEL_JOBS":       " 8 ",
		"STORAGE_DIR":             "/data/jobs",
		"EVENTS_ENABLED":          "yes",
		"RABBITMQ_EXCHANGE":       "edits",
		"PORT":                    "9090",
		"MODEL_MAX_PIXELS":        "1000000",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))

	assert.Equal(t, "env-secret", cfg.Auth.APIKey)
	assert.Equal(t, "cpu", cfg.Model.Device)
	assert.Equal(t, 45, cfg.Webhook.TimeoutSeconds)
	assert.False(t, cfg.Webhook.VerifySSL)
	assert.Equal(t, 8, cfg.Worker.MaxParallelJobs)
	assert.Equal(t, "/data/jobs", cfg.Storage.Root)
	assert.True(t, cfg.Events.Enabled)
	assert.Equal(t, "edits", cfg.Events.RabbitMQ.Exchange.Name)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 1000000, cfg.Model.MaxPixels)

	// untouched
	assert.Equal(t, "Qwen/Qwen-Image-Edit-2509", cfg.Model.ID)
}

func TestConfig_ApplyEnvErrors(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		errString string
	}{
		{
			name:      "non-numeric timeout",
			env:       map[string]string{"WEBHOOK_TIMEOUT_SECONDS": "fifteen"},
			errString: "invalid WEBHOOK_TIMEOUT_SECONDS",
		},
		{
			name:      "bad boolean",
			env:       map[string]string{"WEBHOOK_VERIFY_SSL": "maybe"},
			errString: "invalid WEBHOOK_VERIFY_SSL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.ApplyEnv(func(key string) (string, bool) {
				v, ok := tt.env[key]
				return v, ok
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("API_KEY", "from-env")
	t.Setenv("MAX_PARALLEL_JOBS", "3")

	cfg, err := LoadWithEnv("testdata/valid_config.yaml")
	require.NoError(t, err)

	// env wins over the file
	assert.Equal(t, "from-env", cfg.Auth.APIKey)
	assert.Equal(t, 3, cfg.Worker.MaxParallelJobs)
	assert.Equal(t, "cpu", cfg.Model.Device)

	cfg, err = LoadWithEnv("testdata/invalid_timeout.yaml")
	require.NoError(t, err)
	err = cfg.ValidateAPIConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid webhook timeout")
}

func validAPIConfig() *Config {
	cfg := Default()
	cfg.Auth.APIKey = "secret"
	return cfg
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "missing api key",
			mutate:    func(c *Config) { c.Auth.APIKey = "" },
			wantErr:   true,
			errString: "api key is required",
		},
		{
			name:      "webhook timeout below range",
			mutate:    func(c *Config) { c.Webhook.TimeoutSeconds = 0 },
			wantErr:   true,
			errString: "invalid webhook timeout",
		},
		{
			name:      "webhook timeout above range",
			mutate:    func(c *Config) { c.Webhook.TimeoutSeconds = 121 },
			wantErr:   true,
			errString: "invalid webhook timeout",
		},
		{
			name:    "webhook timeout at bounds",
			mutate:  func(c *Config) { c.Webhook.TimeoutSeconds = 120 },
			wantErr: false,
		},
		{
			name:      "zero parallel jobs",
			mutate:    func(c *Config) { c.Worker.MaxParallelJobs = 0 },
			wantErr:   true,
			errString: "max_parallel_jobs must be at least 1",
		},
		{
			name:      "empty storage root",
			mutate:    func(c *Config) { c.Storage.Root = "" },
			wantErr:   true,
			errString: "storage root is required",
		},
		{
			name:      "zero max pixels",
			mutate:    func(c *Config) { c.Model.MaxPixels = 0 },
			wantErr:   true,
			errString: "model max_pixels must be at least 1",
		},
		{
			name:      "inference url without scheme",
			mutate:    func(c *Config) { c.Model.InferenceURL = "model-server:8500" },
			wantErr:   true,
			errString: "invalid model inference_url",
		},
		{
			name:      "bad sample webhook url",
			mutate:    func(c *Config) { c.Webhook.SampleURL = "ftp://example.com/hook" },
			wantErr:   true,
			errString: "invalid webhook sample_url",
		},
		{
			name: "events enabled without exchange",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Events.RabbitMQ.Exchange.Name = ""
			},
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name: "events disabled ignores rabbitmq settings",
			mutate: func(c *Config) {
				c.Events.RabbitMQ.Host = ""
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAPIConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateReceiverConfig(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.ValidateReceiverConfig())

	cfg.Receiver.UploadDir = ""
	assert.Error(t, cfg.ValidateReceiverConfig())
}

func TestConfig_JobSettings(t *testing.T) {
	cfg := validAPIConfig()
	cfg.Webhook.TimeoutSeconds = 20
	cfg.Storage.Root = "/srv/jobs"

	s := cfg.JobSettings()
	assert.Equal(t, 20*time.Second, s.WebhookTimeout)
	assert.Equal(t, "/srv/jobs", s.StorageRoot)
	assert.Equal(t, "cuda", s.Device)
	assert.Equal(t, "Qwen/Qwen-Image-Edit-2509", s.ModelID)
	assert.Equal(t, 4, s.MaxParallelJobs)
	assert.True(t, s.VerifySSL)

	// a snapshot, not a view
	cfg.Storage.Root = "/elsewhere"
	assert.Equal(t, "/srv/jobs", s.StorageRoot)
}
