// Package pipeline defines the image pipeline contract and the initializer
// that builds the shared pipeline once per process.
package pipeline

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

// ErrNotConfigured is returned by Acquire when no loader was supplied
var ErrNotConfigured = errors.New("pipeline loader not configured")

// Pipeline turns an input image into an edited image. Implementations must be
// safe for concurrent use once built.
type Pipeline interface {
	Edit(ctx context.Context, req EditRequest) ([]byte, error)
}

// Loader builds a Pipeline. It is called by the Initializer only.
type Loader func(ctx context.Context) (Pipeline, error)

// Params are the fixed inference settings applied to every job
type Params struct {
	TrueCFGScale    float64 `json:"true_cfg_scale"`
	GuidanceScale   float64 `json:"guidance_scale"`
	Steps           int     `json:"num_inference_steps"`
	ImagesPerPrompt int     `json:"num_images_per_prompt"`
}

// DefaultParams returns the inference settings used for all jobs
func DefaultParams() Params {
	return Params{
		TrueCFGScale:    4.0,
		GuidanceScale:   1.0,
		Steps:           40,
		ImagesPerPrompt: 1,
	}
}

// EditRequest is one call into the pipeline
type EditRequest struct {
	Image          []byte
	Prompt         string
	NegativePrompt string
	Seed           uint32
	Params         Params
}

// NewSeed derives a generator seed from a fresh random UUID, reduced to the
// 32-bit seed space. Results are intentionally not reproducible.
func NewSeed() uint32 {
	u := uuid.New()
	return binary.BigEndian.Uint32(u[12:16])
}
