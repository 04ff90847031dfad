package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuongbtq/image-edit-service/internal/domain"
)

const (
	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
)

// ErrOutsideRoot is returned when a job path would escape the storage root
var ErrOutsideRoot = errors.New("path outside storage root")

// FileStore manages per-job working directories on the local filesystem
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates a store rooted at root. The directory is created lazily.
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}

	return &FileStore{
		root:   abs,
		logger: logger,
	}, nil
}

// Root returns the absolute storage root
func (s *FileStore) Root() string {
	return s.root
}

// EnsureJobDir creates the job directory if it does not exist yet
func (s *FileStore) EnsureJobDir(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, err := s.resolve(job.JobDir())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}
	return nil
}

// WriteInput stores the uploaded image at the job's input path
func (s *FileStore) WriteInput(ctx context.Context, job *domain.Job, data []byte) error {
	return s.write(ctx, job.InputPath(), data)
}

// WriteOutput stores the rendered image at the job's output path
func (s *FileStore) WriteOutput(ctx context.Context, job *domain.Job, data []byte) error {
	return s.write(ctx, job.OutputPath(), data)
}

// write creates parent directories and replaces any existing file
func (s *FileStore) write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	if err := os.WriteFile(target, data, filePerm); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(target), err)
	}

	s.logger.Debug("Artifact written",
		slog.String("path", target),
		slog.Int("bytes", len(data)),
	)
	return nil
}

func (s *FileStore) resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return abs, nil
}
