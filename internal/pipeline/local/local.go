// Package local provides a CPU pipeline used when no model server is
// configured. It normalises the input to an opaque RGB PNG and does not
// apply the prompt.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"

	"github.com/cuongbtq/image-edit-service/internal/pipeline"
)

// ErrImageTooLarge is returned when the input header declares more pixels
// than the pipeline accepts
var ErrImageTooLarge = errors.New("input image exceeds pixel limit")

// Pipeline is the development fallback pipeline
type Pipeline struct {
	logger    *slog.Logger
	maxPixels int64
}

// NewLoader returns a pipeline.Loader for the local pipeline. Inputs whose
// width times height exceeds maxPixels are rejected before decoding.
func NewLoader(device string, maxPixels int, logger *slog.Logger) pipeline.Loader {
	return func(ctx context.Context) (pipeline.Pipeline, error) {
		if maxPixels < 1 {
			return nil, fmt.Errorf("invalid pixel limit: %d", maxPixels)
		}

		logger.Warn("Using local pipeline, prompts are not applied",
			slog.String("device", device),
			slog.Int("max_pixels", maxPixels),
		)
		return &Pipeline{logger: logger, maxPixels: int64(maxPixels)}, nil
	}
}

// Edit decodes PNG, JPEG or GIF input and re-encodes it as RGB PNG
func (p *Pipeline) Edit(ctx context.Context, req pipeline.EditRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// check the header first, Decode allocates whatever it declares
	cfg, _, err := image.DecodeConfig(bytes.NewReader(req.Image))
	if err != nil {
		return nil, fmt.Errorf("failed to decode input image: %w", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > p.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d is over %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, p.maxPixels)
	}

	src, format, err := image.Decode(bytes.NewReader(req.Image))
	if err != nil {
		return nil, fmt.Errorf("failed to decode input image: %w", err)
	}

	p.logger.Debug("Local edit",
		slog.String("format", format),
		slog.Int("width", src.Bounds().Dx()),
		slog.Int("height", src.Bounds().Dy()),
		slog.Uint64("seed", uint64(req.Seed)),
	)

	var buf bytes.Buffer
	if err := png.Encode(&buf, toRGB(src)); err != nil {
		return nil, fmt.Errorf("failed to encode output image: %w", err)
	}
	return buf.Bytes(), nil
}

// toRGB drops the alpha channel, keeping the straight colour values
func toRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			dst.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
	return dst
}
