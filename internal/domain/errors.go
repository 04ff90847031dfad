package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies where in the job lifecycle an error happened.
type ErrorKind string

const (
	KindInit      ErrorKind = "init"
	KindTransform ErrorKind = "transform"
	KindIO        ErrorKind = "io"
	KindNotify    ErrorKind = "notify"
)

// JobError wraps a failure raised while executing a job
type JobError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *JobError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewJobError creates a new job error of the given kind
func NewJobError(kind ErrorKind, op string, err error) error {
	return &JobError{Kind: kind, Op: op, Err: err}
}

// FailureReason renders err as the reason string sent in a failure webhook.
func FailureReason(err error) string {
	if err == nil {
		return "unknown error"
	}

	var jobErr *JobError
	if errors.As(err, &jobErr) {
		switch jobErr.Kind {
		case KindInit:
			return "pipeline initialization failed: " + causeText(jobErr)
		case KindTransform:
			return "image transform failed: " + causeText(jobErr)
		case KindIO:
			return "artifact storage failed: " + causeText(jobErr)
		}
	}
	return err.Error()
}

func causeText(e *JobError) string {
	if e.Err == nil {
		return e.Op
	}
	return e.Err.Error()
}
