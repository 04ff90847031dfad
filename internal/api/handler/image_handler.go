package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/image-edit-service/internal/api/dto"
	"github.com/cuongbtq/image-edit-service/internal/domain"
	"github.com/cuongbtq/image-edit-service/internal/worker"
)

// EditImage handles POST /api/v1/image/edit
// Validates the upload, admits a job and answers 202 without waiting for it.
func (h *ImageHandler) EditImage(c *gin.Context) {
	var req dto.EditImageRequest
	if err := c.ShouldBind(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectTooLarge(c)
			return
		}

		h.logger.Warn("Invalid edit request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if h.maxUploadBytes > 0 && req.Image.Size > h.maxUploadBytes {
		h.rejectTooLarge(c)
		return
	}

	data, err := readUpload(req.Image)
	if err != nil {
		h.logger.Error("Failed to read upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read image",
		})
		return
	}

	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "image is empty",
		})
		return
	}

	job := domain.NewJob(uuid.NewString(), req.Prompt, data, req.Image.Filename, req.WebhookURL, h.settings)

	admission, err := h.worker.Submit(c.Request.Context(), job)
	if err != nil {
		if errors.Is(err, worker.ErrWorkerStopped) || errors.Is(err, worker.ErrWorkerNotStarted) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Service is shutting down",
			})
			return
		}

		h.logger.Error("Failed to submit job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit job",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.EditImageResponse{
		JobID:  admission.JobID,
		Status: string(admission.Status),
	})
}

// HealthDetails handles GET /health/details
func (h *ImageHandler) HealthDetails(c *gin.Context) {
	stats := h.worker.Stats()
	resp := dto.HealthDetailsResponse{
		Status:        "ok",
		PipelineReady: h.pipeline != nil && h.pipeline.Ready(),
		Queued:        stats.Queued,
		Active:        stats.Active,
		Completed:     stats.Completed,
	}
	if h.broker != nil {
		connected := h.broker.IsConnected()
		resp.EventsConnected = &connected
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ImageHandler) rejectTooLarge(c *gin.Context) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{
		"error": fmt.Sprintf("image exceeds %d bytes", h.maxUploadBytes),
	})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
