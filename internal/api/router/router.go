package router

import (
	"github.com/cuongbtq/imagegen-api/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	jobHandler := handler.NewJobHandler(deps)

	r.GET("/", jobHandler.Root)
	r.GET("/health", jobHandler.Health)

	v1 := r.Group("/v1")
	{
		generations := v1.Group("/images/generations")
		{
			// POST /v1/images/generations - Queue a generation job
			generations.POST("", jobHandler.CreateGeneration)

			// GET /v1/images/generations/:id - Poll a job
			generations.GET("/:id", jobHandler.GetGeneration)
		}
	}

	return r
}
