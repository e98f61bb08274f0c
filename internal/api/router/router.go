// Package router wires the analysis API routes and middleware.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/finsight/docanalyzer/internal/api/handler"
	"github.com/finsight/docanalyzer/shared/postgresql"
	"github.com/finsight/docanalyzer/shared/rabbitmq"
)

// Dependencies holds what the router needs beyond the handlers: the
// infrastructure clients the health endpoint probes.
type Dependencies struct {
	Handler      *handler.Dependencies
	DBClient     *postgresql.Client
	RabbitClient *rabbitmq.Client
}

// SetupRouter configures and returns the Gin router with all routes.
func SetupRouter(deps *Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Handler.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps))

	analysisHandler := handler.NewAnalysisHandler(deps.Handler)

	v1 := r.Group("/api/v1")
	{
		analyses := v1.Group("/analyses")
		{
			// POST /api/v1/analyses - Run an analysis synchronously
			analyses.POST("", analysisHandler.CreateAnalysis)

			// POST /api/v1/analyses/async - Enqueue an analysis
			analyses.POST("/async", analysisHandler.CreateAnalysisAsync)

			// GET /api/v1/analyses - List analyses
			analyses.GET("", analysisHandler.ListAnalyses)

			// GET /api/v1/analyses/:analysis_id - Get analysis details
			analyses.GET("/:analysis_id", analysisHandler.GetAnalysis)
		}
	}

	return r
}

// healthHandler reports service health including the database and broker.
func healthHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		dbStatus := "up"
		queueStatus := "up"

		if deps.DBClient == nil || deps.DBClient.HealthCheck(c.Request.Context()) != nil {
			dbStatus = "down"
			status = http.StatusServiceUnavailable
		}

		if deps.RabbitClient == nil || !deps.RabbitClient.IsConnected() {
			queueStatus = "down"
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"service":  "analysis-api-service",
			"database": dbStatus,
			"queue":    queueStatus,
		})
	}
}
