package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/script-studio/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	runHandler := handler.NewRunHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a job and start polling it
			jobs.POST("", runHandler.CreateRun)

			// GET /api/v1/jobs - List runs with filtering and pagination
			jobs.GET("", runHandler.ListRuns)

			// GET /api/v1/jobs/:job_id - Get run snapshot
			jobs.GET("/:job_id", runHandler.GetRun)

			// POST /api/v1/jobs/:job_id/cancel - Stop polling a run
			jobs.POST("/:job_id/cancel", runHandler.CancelRun)

			// DELETE /api/v1/jobs/:job_id - Delete a finished run
			jobs.DELETE("/:job_id", runHandler.DeleteRun)
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		healthy := true

		if deps.Database != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Database.HealthCheck(ctx); err != nil {
				checks["database"] = err.Error()
				healthy = false
			} else {
				checks["database"] = "ok"
			}
		}

		if deps.Broker != nil {
			if deps.Broker.IsConnected() {
				checks["rabbitmq"] = "ok"
			} else {
				checks["rabbitmq"] = "disconnected"
				healthy = false
			}
		}

		status, code := "healthy", http.StatusOK
		if !healthy {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":  status,
			"service": deps.ServiceName,
			"checks":  checks,
		})
	}
}
