package domain

import (
	"path/filepath"
	"time"
)

// Settings is the effective configuration captured when a job is admitted.
// Jobs never see config changes made after admission.
type Settings struct {
	Device          string
	ModelID         string
	NegativePrompt  string
	WebhookTimeout  time.Duration
	VerifySSL       bool
	StorageRoot     string
	MaxParallelJobs int
}

// Job is one admitted image-edit request. It is not mutated after NewJob.
type Job struct {
	ID         string
	Prompt     string
	ImageBytes []byte
	Filename   string
	WebhookURL string
	Settings   Settings
	CreatedAt  time.Time
}

// NewJob builds a job record. The image slice is copied so the caller can
// reuse its buffer.
func NewJob(id, prompt string, image []byte, filename, webhookURL string, settings Settings) *Job {
	img := make([]byte, len(image))
	copy(img, image)

	return &Job{
		ID:         id,
		Prompt:     prompt,
		ImageBytes: img,
		Filename:   filename,
		WebhookURL: webhookURL,
		Settings:   settings,
		CreatedAt:  time.Now().UTC(),
	}
}

// JobDir returns storage_root/<job_id>
func (j *Job) JobDir() string {
	return filepath.Join(j.Settings.StorageRoot, j.ID)
}

// InputPath returns the location of the persisted upload
func (j *Job) InputPath() string {
	return filepath.Join(j.JobDir(), InputFileName)
}

// OutputPath returns the location of the rendered image
func (j *Job) OutputPath() string {
	return filepath.Join(j.JobDir(), OutputFileName)
}
