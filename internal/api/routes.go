package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/config"
	"github.com/certfolio/verification-engine/internal/metrics"
)

// SetupRouter sets up the API routes
func SetupRouter(cfg *config.Config, logger *zap.Logger, handler *Handler, collector *metrics.Collector) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	if cfg.Server.EnableCORS {
		router.Use(CORSMiddleware())
	}
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(logger))
	if collector != nil {
		router.Use(MetricsMiddleware(collector))
	}
	router.Use(BodyLimitMiddleware(cfg.Server.MaxBodyBytes))

	router.GET("/health", handler.Health)
	if cfg.Monitoring.Enabled && collector != nil {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(collector.Handler()))
	}

	v1 := router.Group("/api/v1")
	if cfg.Security.EnableAuth {
		v1.Use(AuthMiddleware(NewTokenValidator(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)))
	}
	{
		verifications := v1.Group("/verifications")
		{
			verifications.POST("", handler.Verify)
			verifications.POST("/bulk", handler.BulkVerify)
			verifications.POST("/enhanced", handler.Enhanced)
			verifications.POST("/screen", handler.Screen)
			verifications.GET("/stats", handler.Stats)
		}

		issuerRoutes := v1.Group("/issuers")
		{
			issuerRoutes.GET("", handler.ListIssuers)
			issuerRoutes.POST("/check", handler.CheckIssuer)
		}

		v1.GET("/certificates/:id/verifications", handler.History)
	}

	return router
}
