package domain

// Status is the lifecycle state of a job.
type Status string

// Job status constants
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	// InputFileName is the name of the uploaded image inside the job directory
	InputFileName = "input.png"
	// OutputFileName is the name of the rendered image inside the job directory
	OutputFileName = "output.png"
)
