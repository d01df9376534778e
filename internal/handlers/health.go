// Package handlers contains HTTP handler functions for the API.
//
// Go Pattern: Handlers in Gin receive a *gin.Context which provides:
// - Request data (params, query, body, headers)
// - Response methods (JSON, String, Status)
// - Middleware data (c.Get/c.Set)
//
// Handlers are plain methods on a struct (Handler) that holds shared
// dependencies.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/download"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/progress"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/stamp"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/worker"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/storage"
)

// Version is reported by the health check. main overrides it at startup.
var Version = "1.0.0"

// Repository is the persistence the handlers use. *database.DB implements it.
type Repository interface {
	HealthCheck(ctx context.Context) error

	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error

	CreateRun(ctx context.Context, r *models.SeriesRun) error
	GetRun(ctx context.Context, id string) (*models.SeriesRun, error)
	GetRunForKey(ctx context.Context, id, apiKeyID string) (*models.SeriesRun, error)
	ListRunsByAPIKey(ctx context.Context, apiKeyID string, limit int) ([]models.SeriesRun, error)
	CancelRun(ctx context.Context, id, apiKeyID string) (bool, error)
	FinishRun(ctx context.Context, id string, status models.RunStatus, message string) error

	CreateWebhook(ctx context.Context, w *models.Webhook) error
	GetWebhook(ctx context.Context, id string) (*models.Webhook, error)
	ListWebhooksByAPIKey(ctx context.Context, apiKeyID string) ([]models.Webhook, error)
	UpdateWebhookActive(ctx context.Context, id, apiKeyID string, active bool) error
	DeleteWebhook(ctx context.Context, id, apiKeyID string) error
	ListWebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]models.WebhookDelivery, error)
	ListAllDeliveriesByAPIKey(ctx context.Context, apiKeyID string, limit int) ([]models.WebhookDelivery, error)
}

// Handler holds shared dependencies for all HTTP handlers.
// Go Pattern: Dependency injection via struct fields. Instead of global
// variables or service locators, we pass dependencies explicitly.
// This makes testing easy — just create a Handler with fake dependencies.
type Handler struct {
	DB       Repository
	Worker   *worker.Pool
	Pipeline *stamp.Pipeline
	Store    storage.Store
	Hub      *progress.Hub
	Signer   *download.Signer

	MaxUploadBytes   int64 // Largest template PDF accepted
	MaxCopies        int   // Largest copy count accepted per request
	DefaultRateLimit int   // Requests per hour for new API keys
}

// NewHandler creates a new handler with all dependencies.
func NewHandler(db Repository, wp *worker.Pool, pipeline *stamp.Pipeline, store storage.Store, hub *progress.Hub, signer *download.Signer) *Handler {
	return &Handler{
		DB:               db,
		Worker:           wp,
		Pipeline:         pipeline,
		Store:            store,
		Hub:              hub,
		Signer:           signer,
		MaxUploadBytes:   50 << 20,
		MaxCopies:        10000,
		DefaultRateLimit: 100,
	}
}

// HealthCheck returns the API health status.
// GET /api/v1/health
func (h *Handler) HealthCheck(c *gin.Context) {
	// Check database connectivity
	dbStatus := "healthy"
	if err := h.DB.HealthCheck(c.Request.Context()); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	c.JSON(http.StatusOK, models.HealthResponse{
		Status:     "ok",
		Version:    Version,
		Database:   dbStatus,
		Workers:    h.Worker.WorkerCount(),
		QueueDepth: h.Worker.QueueSize(),
		Storage:    h.Store.Name(),
	})
}
