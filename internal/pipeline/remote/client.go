// Package remote implements pipeline.Pipeline on top of an HTTP model server.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cuongbtq/image-edit-service/internal/pipeline"
)

const (
	loadPath = "/v1/models/load"
	editPath = "/v1/images/edit"

	// model weights are loaded in bfloat16 on every device
	dtype = "bfloat16"

	maxErrorBody = 4 << 10
)

// Config holds model server connection settings
type Config struct {
	BaseURL     string
	Model       string
	Device      string
	MaxFailures uint32
	OpenTimeout time.Duration
}

// APIError is returned when the model server answers with a non-2xx status
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model server returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the model server. Edit calls are safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New creates a client. The HTTP client carries no timeout: a render may take
// as long as the model needs.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "model-server",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// a rejected request means the server is up
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return c
}

// NewLoader returns a pipeline.Loader that asks the server to load the model
// and hands back a ready client.
func NewLoader(cfg Config, logger *slog.Logger) pipeline.Loader {
	return func(ctx context.Context) (pipeline.Pipeline, error) {
		c := New(cfg, logger)
		if err := c.Load(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

type loadRequest struct {
	Model  string `json:"model"`
	Device string `json:"device"`
	DType  string `json:"dtype"`
}

// Load asks the model server to put the configured model on the configured device
func (c *Client) Load(ctx context.Context) error {
	body := loadRequest{Model: c.cfg.Model, Device: c.cfg.Device, DType: dtype}
	if _, err := c.post(ctx, loadPath, body); err != nil {
		return fmt.Errorf("failed to load model %s on %s: %w", c.cfg.Model, c.cfg.Device, err)
	}
	return nil
}

type editRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Seed           uint32 `json:"seed"`
	pipeline.Params
	Image string `json:"image"`
}

type editResponse struct {
	Images []string `json:"images"`
}

// Edit sends one image to the model server and returns the first result image
func (c *Client) Edit(ctx context.Context, req pipeline.EditRequest) ([]byte, error) {
	body := editRequest{
		Model:          c.cfg.Model,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
		Params:         req.Params,
		Image:          base64.StdEncoding.EncodeToString(req.Image),
	}

	raw, err := c.post(ctx, editPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to edit image: %w", err)
	}

	var resp editResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode edit response: %w", err)
	}
	if len(resp.Images) == 0 {
		return nil, errors.New("model server returned no images")
	}

	img, err := base64.StdEncoding.DecodeString(resp.Images[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode result image: %w", err)
	}
	return img, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
		}

		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, err
	}

	return out.([]byte), nil
}
