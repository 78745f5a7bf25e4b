package api

import (
	"github.com/gin-gonic/gin"
	"github.com/deckbase/cardsync/internal/api/handler"
	"github.com/deckbase/cardsync/internal/api/middleware"
	"github.com/deckbase/cardsync/internal/config"
	"github.com/deckbase/cardsync/internal/logger"
	"github.com/deckbase/cardsync/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	imports *service.ImportService,
	cfg *config.ServerConfig,
	log *logger.Logger,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler()
	jobHandler := handler.NewJobHandler(imports)
	auditHandler := handler.NewAuditHandler(imports)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Import jobs
		v1.POST("/jobs", jobHandler.CreateJob)
		v1.GET("/jobs", jobHandler.ListJobs)
		v1.GET("/jobs/:id", jobHandler.GetJob)
		v1.POST("/jobs/:id/cancel", jobHandler.CancelJob)
		v1.POST("/jobs/:id/retry", jobHandler.RetryJob)

		// Set audits
		v1.GET("/audits", auditHandler.ListAudits)
		v1.POST("/audits/rebuild", auditHandler.RebuildAudits)
	}

	return r
}
