// Package receiver is a sample webhook endpoint for local testing. It stores
// success uploads on disk and logs failure notifications.
package receiver

import (
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/image-edit-service/internal/api/router"
	"github.com/cuongbtq/image-edit-service/internal/webhook"
)

// successForm mirrors the multipart payload sent on job completion
type successForm struct {
	JobID  string                `form:"job_id"`
	Status string                `form:"status"`
	Prompt string                `form:"prompt"`
	Image  *multipart.FileHeader `form:"image" binding:"required"`
}

// Handler receives job webhooks
type Handler struct {
	uploadDir string
	logger    *slog.Logger
}

// NewHandler creates the upload directory and returns a handler
func NewHandler(uploadDir string, logger *slog.Logger) (*Handler, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	return &Handler{
		uploadDir: uploadDir,
		logger:    logger,
	}, nil
}

// SetupRouter configures the receiver routes
func SetupRouter(h *Handler, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(router.LoggerMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/webhook", h.Receive)

	return r
}

// Receive handles POST /webhook
func (h *Handler) Receive(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		h.receiveFailure(c)
		return
	}
	h.receiveSuccess(c)
}

func (h *Handler) receiveFailure(c *gin.Context) {
	var payload webhook.FailurePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	h.logger.Warn("Job failed",
		slog.String("job_id", payload.JobID),
		slog.String("status", payload.Status),
		slog.String("reason", payload.Reason),
	)

	c.JSON(http.StatusOK, gin.H{
		"job_id": payload.JobID,
		"status": payload.Status,
	})
}

func (h *Handler) receiveSuccess(c *gin.Context) {
	var form successForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	jobID := form.JobID
	if jobID == "" {
		jobID = "unknown"
	}
	status := form.Status
	if status == "" {
		status = "unknown"
	}

	name := fmt.Sprintf("%s_%s", filepath.Base(jobID), filepath.Base(form.Image.Filename))
	path := filepath.Join(h.uploadDir, name)

	if err := c.SaveUploadedFile(form.Image, path); err != nil {
		h.logger.Error("Failed to store upload",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store image",
		})
		return
	}

	h.logger.Info("Webhook received",
		slog.String("job_id", jobID),
		slog.String("status", status),
		slog.String("prompt", form.Prompt),
		slog.String("saved", path),
	)

	c.JSON(http.StatusOK, gin.H{
		"stored_path": path,
		"job_id":      form.JobID,
		"status":      status,
	})
}
