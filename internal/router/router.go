// Package router sets up all HTTP routes for the API.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/handlers"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/middleware"
)

// Setup creates and configures the Gin router with all routes.
func Setup(h *handlers.Handler, keys middleware.KeyStore, rateLimiter *middleware.RateLimiter, adminAPIKey string, allowedOrigins []string) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.CORS(allowedOrigins))

	// --- Public Routes (no auth required) ---
	r.GET("/api/v1/health", h.HealthCheck)

	// API Documentation
	r.GET("/api/docs", h.ServeSwaggerUI)
	r.GET("/api/docs/openapi.yaml", h.ServeOpenAPISpec)

	// Signed artifact links carry their own credential.
	r.GET("/api/v1/downloads/:token", h.Download)

	// --- API key management (admin key) ---
	admin := r.Group("/api/v1/keys")
	admin.Use(middleware.RequireAdminKey(adminAPIKey))
	{
		admin.POST("", h.CreateAPIKey)
		admin.GET("", h.ListAPIKeys)
		admin.DELETE("/:id", h.RevokeAPIKey)
	}

	// --- Protected Routes (API key) ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.APIKeyAuth(keys))
	protected.Use(rateLimiter.RateLimit())
	{
		// Placement picker
		protected.POST("/templates/inspect", h.InspectTemplate)
		protected.POST("/placements/from-screen", h.PlacementFromScreen)

		// Synchronous generation
		protected.POST("/series", h.GenerateSeries)

		// Asynchronous runs
		protected.POST("/series/runs", h.CreateRun)
		protected.GET("/series/runs", h.ListRuns)
		protected.GET("/series/runs/:id", h.GetRun)
		protected.DELETE("/series/runs/:id", h.CancelRun)
		protected.GET("/series/runs/:id/progress", h.StreamProgress)
		protected.GET("/series/runs/:id/manifest", h.GetManifest)
		protected.POST("/series/runs/:id/download-token", h.CreateDownloadToken)

		// Webhook management
		protected.POST("/webhooks", h.CreateWebhook)
		protected.GET("/webhooks", h.ListWebhooks)
		protected.GET("/webhooks/deliveries", h.ListWebhookDeliveries)
		protected.PATCH("/webhooks/:id", h.UpdateWebhook)
		protected.DELETE("/webhooks/:id", h.DeleteWebhook)
		protected.GET("/webhooks/:id/deliveries", h.ListDeliveriesForWebhook)
	}

	return r
}
