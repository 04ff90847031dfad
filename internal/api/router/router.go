package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/image-edit-service/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	if deps.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = deps.MaxUploadBytes
	}

	imageHandler := handler.NewImageHandler(deps)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	r.GET("/health/details", imageHandler.HealthDetails)

	v1 := r.Group("/api/v1")
	v1.Use(APIKeyMiddleware(deps.APIKey, deps.Logger))
	{
		image := v1.Group("/image")
		{
			// POST /api/v1/image/edit - Admit an image edit job
			image.POST("/edit", BodyLimitMiddleware(deps.MaxUploadBytes), imageHandler.EditImage)
		}
	}

	return r
}
