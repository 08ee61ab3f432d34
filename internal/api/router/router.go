package router

import (
	"net/http"

	"github.com/cuongbtq/opportunity-pipeline/internal/api/dto"
	"github.com/cuongbtq/opportunity-pipeline/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		stages := v1.Group("/stages")
		{
			// POST /api/v1/stages/:stage/trigger - Create and dispatch a stage job
			stages.POST("/:stage/trigger", RateLimitMiddleware(deps.Limiter, deps.Logger), jobHandler.Trigger)
		}

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/continue - Resume a job that stopped early
			jobs.POST("/:job_id/continue", jobHandler.ContinueJob)
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := dto.HealthResponse{
			Status:  "healthy",
			Service: deps.ServiceName,
			Stages:  deps.Jobs.Stages(),
		}

		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				resp.Status = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, resp)
				return
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
