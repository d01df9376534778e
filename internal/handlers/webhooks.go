// webhooks.go handles webhook management HTTP endpoints.
//
// Webhooks are notified with series.completed and series.failed events
// when asynchronous runs finish.
package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/middleware"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
	webhookservice "github.com/Shimizu-Technology/serial-stamp-api/internal/services/webhook"
)

// requireKey returns the authenticated API key or writes a 401.
func requireKey(c *gin.Context) (*models.APIKey, bool) {
	apiKey := middleware.GetAPIKey(c)
	if apiKey == nil {
		respondError(c, http.StatusUnauthorized, "unauthorized", "Webhook management requires API key authentication")
		return nil, false
	}
	return apiKey, true
}

// CreateWebhook registers a new webhook endpoint.
// POST /api/v1/webhooks
//
// Request body:
//
//	{"url": "https://example.com/hooks/serials", "events": ["series.completed"]}
func (h *Handler) CreateWebhook(c *gin.Context) {
	apiKey, ok := requireKey(c)
	if !ok {
		return
	}

	var req models.CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "URL and at least one event are required")
		return
	}

	// Validate events
	for _, event := range req.Events {
		if !models.ValidWebhookEvents[event] {
			respondError(c, http.StatusBadRequest, "invalid_event", "Invalid event type: "+event)
			return
		}
	}

	// Generate HMAC secret
	secret, err := webhookservice.GenerateSecret()
	if err != nil {
		log.Printf("❌ Failed to generate webhook secret: %v", err)
		respondError(c, http.StatusInternalServerError, "generation_error", "Failed to generate webhook secret")
		return
	}

	wh := &models.Webhook{
		APIKeyID: apiKey.ID,
		URL:      req.URL,
		Events:   req.Events,
		Secret:   secret,
		Active:   true,
	}

	if err := h.DB.CreateWebhook(c.Request.Context(), wh); err != nil {
		log.Printf("❌ Failed to create webhook: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to create webhook")
		return
	}

	// Return webhook with secret (only shown once, like API keys)
	c.JSON(http.StatusCreated, gin.H{
		"id":         wh.ID,
		"url":        wh.URL,
		"events":     wh.Events,
		"secret":     secret, // Shown once for verification setup
		"active":     wh.Active,
		"created_at": wh.CreatedAt,
	})
}

// ListWebhooks returns all webhooks for the authenticated API key.
// GET /api/v1/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	apiKey, ok := requireKey(c)
	if !ok {
		return
	}

	webhooks, err := h.DB.ListWebhooksByAPIKey(c.Request.Context(), apiKey.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to list webhooks")
		return
	}

	if webhooks == nil {
		webhooks = []models.Webhook{}
	}
	c.JSON(http.StatusOK, webhooks)
}

// UpdateWebhook toggles a webhook's active state.
// PATCH /api/v1/webhooks/:id
func (h *Handler) UpdateWebhook(c *gin.Context) {
	apiKey, ok := requireKey(c)
	if !ok {
		return
	}

	var req models.UpdateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "active field is required (true/false)")
		return
	}

	if err := h.DB.UpdateWebhookActive(c.Request.Context(), c.Param("id"), apiKey.ID, *req.Active); err != nil {
		respondError(c, http.StatusNotFound, "not_found", "Webhook not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Webhook updated", "active": *req.Active})
}

// DeleteWebhook removes a webhook.
// DELETE /api/v1/webhooks/:id
func (h *Handler) DeleteWebhook(c *gin.Context) {
	apiKey, ok := requireKey(c)
	if !ok {
		return
	}

	if err := h.DB.DeleteWebhook(c.Request.Context(), c.Param("id"), apiKey.ID); err != nil {
		respondError(c, http.StatusNotFound, "not_found", "Webhook not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Webhook deleted"})
}

// ListWebhookDeliveries returns recent delivery attempts for the authenticated API key.
// GET /api/v1/webhooks/deliveries
func (h *Handler) ListWebhookDeliveries(c *gin.Context) {
	apiKey, ok := requireKey(c)
	if !ok {
		return
	}

	deliveries, err := h.DB.ListAllDeliveriesByAPIKey(c.Request.Context(), apiKey.ID, 50)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to list deliveries")
		return
	}

	if deliveries == nil {
		deliveries = []models.WebhookDelivery{}
	}
	c.JSON(http.StatusOK, deliveries)
}

// ListDeliveriesForWebhook returns recent delivery attempts of one webhook.
// GET /api/v1/webhooks/:id/deliveries
func (h *Handler) ListDeliveriesForWebhook(c *gin.Context) {
	apiKey, ok := requireKey(c)
	if !ok {
		return
	}

	wh, err := h.DB.GetWebhook(c.Request.Context(), c.Param("id"))
	if err != nil || wh.APIKeyID != apiKey.ID {
		respondError(c, http.StatusNotFound, "not_found", "Webhook not found")
		return
	}

	deliveries, err := h.DB.ListWebhookDeliveries(c.Request.Context(), wh.ID, 50)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to list deliveries")
		return
	}

	if deliveries == nil {
		deliveries = []models.WebhookDelivery{}
	}
	c.JSON(http.StatusOK, deliveries)
}
