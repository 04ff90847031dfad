// Package events publishes job lifecycle events. Events are a side channel:
// publishing failures never change how a job runs.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/image-edit-service/internal/domain"
)

// Type is the event name, also used as the routing key
type Type string

const (
	JobQueued    Type = "job.queued"
	JobStarted   Type = "job.started"
	JobCompleted Type = "job.completed"
	JobFailed    Type = "job.failed"
)

var typeStatus = map[Type]domain.Status{
	JobQueued:    domain.StatusQueued,
	JobStarted:   domain.StatusRunning,
	JobCompleted: domain.StatusCompleted,
	JobFailed:    domain.StatusFailed,
}

// Event is the JSON body of a lifecycle message
type Event struct {
	Type       Type          `json:"type"`
	JobID      string        `json:"job_id"`
	Status     domain.Status `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// New builds an event for job. reason is only meaningful for JobFailed.
func New(t Type, jobID, reason string) Event {
	return Event{
		Type:       t,
		JobID:      jobID,
		Status:     typeStatus[t],
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher sends lifecycle events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Broker is the subset of the RabbitMQ client the publisher needs
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
	Close() error
}

// BrokerPublisher publishes events as JSON through a Broker
type BrokerPublisher struct {
	broker Broker
	logger *slog.Logger
}

// NewBrokerPublisher creates a publisher backed by broker
func NewBrokerPublisher(broker Broker, logger *slog.Logger) *BrokerPublisher {
	return &BrokerPublisher{
		broker: broker,
		logger: logger,
	}
}

// Publish sends event with its type as routing key
func (p *BrokerPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.broker.PublishWithRetry(ctx, string(event.Type), body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	p.logger.Debug("Event published",
		slog.String("type", string(event.Type)),
		slog.String("job_id", event.JobID),
	)
	return nil
}

// Close closes the underlying broker connection
func (p *BrokerPublisher) Close() error {
	return p.broker.Close()
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (NopPublisher) Close() error { return nil }
