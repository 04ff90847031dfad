package domain

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_Paths(t *testing.T) {
	job := NewJob("1f0c", "make it brighter", []byte{1, 2, 3}, "red.png", "http://localhost:9000/webhook",
		Settings{StorageRoot: "/var/lib/edits"})

	assert.Equal(t, filepath.Join("/var/lib/edits", "1f0c"), job.JobDir())
	assert.Equal(t, filepath.Join("/var/lib/edits", "1f0c", "input.png"), job.InputPath())
	assert.Equal(t, filepath.Join("/var/lib/edits", "1f0c", "output.png"), job.OutputPath())

	// pure functions of the record
	assert.Equal(t, job.OutputPath(), job.OutputPath())
	assert.False(t, job.CreatedAt.IsZero())
}

func TestNewJob_CopiesImage(t *testing.T) {
	buf := []byte{9, 9, 9}
	job := NewJob("id", "p", buf, "", "http://example.com", Settings{})

	buf[0] = 0
	assert.Equal(t, []byte{9, 9, 9}, job.ImageBytes)
}

func TestJobError(t *testing.T) {
	cause := errors.New("cuda out of memory")
	err := NewJobError(KindTransform, "render", cause)

	var jobErr *JobError
	require.True(t, errors.As(err, &jobErr))
	assert.Equal(t, KindTransform, jobErr.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "transform: render: cuda out of memory", err.Error())
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: "unknown error"},
		{name: "init", err: NewJobError(KindInit, "load", errors.New("no gpu")), want: "pipeline initialization failed: no gpu"},
		{name: "transform", err: NewJobError(KindTransform, "render", errors.New("boom")), want: "image transform failed: boom"},
		{name: "io", err: NewJobError(KindIO, "write output", errors.New("disk full")), want: "artifact storage failed: disk full"},
		{name: "io without cause", err: NewJobError(KindIO, "write output", nil), want: "artifact storage failed: write output"},
		{name: "plain error", err: errors.New("something else"), want: "something else"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureReason(tt.err))
		})
	}
}
