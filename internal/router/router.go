package router

import (
	"os"
	"strings"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/app"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/config"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/handlers"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// corsMiddleware applies the configured CORS policy.
// Priority: environment variable > YAML config > default (*).
func corsMiddleware(cfg *config.CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var allowedOrigins []string
		allowCredentials := cfg.AllowCredentials
		maxAge := "3600"

		if envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); envOrigins != "" {
			for _, o := range strings.Split(envOrigins, ",") {
				if trimmed := strings.TrimSpace(o); trimmed != "" {
					allowedOrigins = append(allowedOrigins, trimmed)
				}
			}
		} else if len(cfg.AllowedOrigins) > 0 {
			allowedOrigins = cfg.AllowedOrigins
		} else {
			allowedOrigins = []string{"*"}
		}

		origin := c.GetHeader("Origin")
		if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			for _, allowed := range allowedOrigins {
				if strings.TrimSpace(allowed) == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		if allowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", maxAge)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// SetupRouter builds the HTTP router over the wired container
func SetupRouter(container *app.ServiceContainer, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))
	r.Use(corsMiddleware(&container.Cfg.CORS))

	bridgeHandler := handlers.NewBridgeHandler(container.BridgeAPI, logger)
	redemptionHandler := handlers.NewRedemptionHandler(container.BridgeAPI, logger)
	quoteHandler := handlers.NewQuoteHandler(container.RouteRegistry, logger)
	jobHandler := handlers.NewJobHandler(container.Orchestrator, logger)
	healthHandler := handlers.NewHealthHandler(container.Readiness)
	adminHandler := handlers.NewAdminHandler(container, logger)
	adminAuth := middleware.NewAdminAuthMiddleware(container.Cfg.Admin.JWTSecret, logger)

	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		bridges := v1.Group("/bridges")
		{
			bridges.POST("", bridgeHandler.CreateBridge)
			bridges.GET("/:id", bridgeHandler.GetBridge)
			bridges.POST("/:id/initiate", bridgeHandler.InitiateBridge)
			bridges.POST("/:id/cancel", bridgeHandler.CancelBridge)
		}

		redemptions := v1.Group("/redemptions")
		{
			redemptions.POST("", redemptionHandler.CreateRedemption)
			redemptions.POST("/:id/payout", redemptionHandler.RecordPayout)
		}

		v1.POST("/quotes", quoteHandler.GetQuote)

		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:id", jobHandler.GetJob)
			jobs.POST("/:id/cancel", jobHandler.CancelJob)
		}

		admin := v1.Group("/admin")
		admin.Use(adminAuth.RequireAdminAuth())
		{
			admin.GET("/status", adminHandler.Status)
			admin.POST("/reconcile", adminHandler.TriggerReconciliation)
			admin.POST("/retry", adminHandler.TriggerRetryCycle)
			admin.PUT("/legs/:id/status", jobHandler.UpdateLegStatus)
		}
	}

	return r
}
