package dto

import "mime/multipart"

// EditImageRequest is the multipart form of POST /api/v1/image/edit
type EditImageRequest struct {
	Image      *multipart.FileHeader `form:"image" binding:"required"`
	Prompt     string                `form:"prompt" binding:"required"`
	WebhookURL string                `form:"webhook_url" binding:"required,http_url"`
}

// EditImageResponse is returned once a job has been admitted
type EditImageResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// HealthDetailsResponse reports pipeline and queue state
type HealthDetailsResponse struct {
	Status        string `json:"status"`
	PipelineReady bool   `json:"pipeline_ready"`
	Queued        int64  `json:"queued"`
	Active        int64  `json:"active"`
	Completed     int64  `json:"completed"`

	// EventsConnected is omitted when events are disabled
	EventsConnected *bool `json:"events_connected,omitempty"`
}
