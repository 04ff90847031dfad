// Package webhook delivers job outcomes to caller supplied URLs.
package webhook

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/cuongbtq/image-edit-service/internal/domain"
)

const (
	// ResultFilename is the file name of the image part in success payloads
	ResultFilename = "result.png"

	maxResponseBody = 4 << 10
)

// StatusError is returned when the webhook answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.StatusCode)
}

// FailurePayload is the JSON body sent when a job fails
type FailurePayload struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// Notifier posts job outcomes to webhooks
type Notifier struct {
	verified   *http.Client
	unverified *http.Client
	userAgent  string
	logger     *slog.Logger
}

// New creates a notifier. Timeouts come from each job's settings.
func New(version string, logger *slog.Logger) *Notifier {
	insecure := http.DefaultTransport.(*http.Transport).Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &Notifier{
		verified:   &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		unverified: &http.Client{Transport: insecure},
		userAgent:  "image-edit-service/" + version,
		logger:     logger,
	}
}

// NotifySuccess sends the job id, status, prompt and result image as
// multipart/form-data. A non-2xx answer is returned as *StatusError.
func (n *Notifier) NotifySuccess(ctx context.Context, job *domain.Job, image []byte) error {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	fields := []struct{ key, value string }{
		{"job_id", job.ID},
		{"status", string(domain.StatusCompleted)},
		{"prompt", job.Prompt},
	}
	for _, f := range fields {
		if err := w.WriteField(f.key, f.value); err != nil {
			return fmt.Errorf("failed to build webhook payload: %w", err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, ResultFilename))
	h.Set("Content-Type", "image/png")
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to build webhook payload: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return fmt.Errorf("failed to build webhook payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to build webhook payload: %w", err)
	}

	status, err := n.post(ctx, job, w.FormDataContentType(), body)
	if err != nil {
		return err
	}

	n.logger.Info("Success webhook delivered",
		slog.String("job_id", job.ID),
		slog.Int("status_code", status),
	)
	return nil
}

// NotifyFailure reports a failed job as JSON. Delivery problems are logged
// and never returned.
func (n *Notifier) NotifyFailure(ctx context.Context, job *domain.Job, cause error) {
	payload := FailurePayload{
		JobID:  job.ID,
		Status: string(domain.StatusFailed),
		Reason: domain.FailureReason(cause),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("Failed to encode failure webhook",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	status, err := n.post(ctx, job, "application/json", bytes.NewReader(data))
	if err != nil {
		n.logger.Error("Failure webhook not delivered",
			slog.String("job_id", job.ID),
			slog.String("webhook", job.WebhookURL),
			slog.String("error", err.Error()),
		)
		return
	}

	n.logger.Info("Failure webhook delivered",
		slog.String("job_id", job.ID),
		slog.Int("status_code", status),
	)
}

func (n *Notifier) post(ctx context.Context, job *domain.Job, contentType string, body io.Reader) (int, error) {
	if job.Settings.WebhookTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Settings.WebhookTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.WebhookURL, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("X-Job-ID", job.ID)

	start := time.Now()
	resp, err := n.client(job.Settings.VerifySSL).Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	n.logger.Debug("Webhook responded",
		slog.String("job_id", job.ID),
		slog.Int("status_code", resp.StatusCode),
		slog.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	return resp.StatusCode, nil
}

func (n *Notifier) client(verifySSL bool) *http.Client {
	if verifySSL {
		return n.verified
	}
	return n.unverified
}
