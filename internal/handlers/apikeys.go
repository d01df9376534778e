// apikeys.go handles API key management endpoints.
//
// All routes here sit behind middleware.RequireAdminKey.
package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/middleware"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
)

// CreateAPIKey generates a new API key.
// POST /api/v1/keys
//
// Request body:
//
//	{"name": "Label printer", "rate_limit": 200}
//
// Response includes the raw key — SAVE IT! It's only shown once.
func (h *Handler) CreateAPIKey(c *gin.Context) {
	var req models.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	// Go Pattern: crypto/rand is the cryptographically secure random source.
	// NEVER use math/rand for security-sensitive things like API keys!
	rawKey, err := generateAPIKey()
	if err != nil {
		log.Printf("❌ Failed to generate API key: %v", err)
		respondError(c, http.StatusInternalServerError, "generation_error", "Failed to generate API key")
		return
	}

	rateLimit := req.RateLimit
	if rateLimit <= 0 {
		rateLimit = h.DefaultRateLimit
	}

	// Create the key record with the HASH (never store the raw key)
	key := &models.APIKey{
		KeyHash:   middleware.HashAPIKey(rawKey),
		KeyPrefix: rawKey[:8] + "...", // Show first 8 chars for identification
		Name:      req.Name,
		Active:    true,
		RateLimit: rateLimit,
	}

	if err := h.DB.CreateAPIKey(c.Request.Context(), key); err != nil {
		log.Printf("❌ Failed to create API key: %v", err)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to create API key")
		return
	}

	// Return the key WITH the raw value — this is the ONLY time it's shown
	c.JSON(http.StatusCreated, models.CreateAPIKeyResponse{
		APIKey: *key,
		RawKey: rawKey,
	})
}

// ListAPIKeys returns all API keys (without the raw key values).
// GET /api/v1/keys
func (h *Handler) ListAPIKeys(c *gin.Context) {
	keys, err := h.DB.ListAPIKeys(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to list API keys")
		return
	}

	if keys == nil {
		keys = []models.APIKey{}
	}
	c.JSON(http.StatusOK, keys)
}

// RevokeAPIKey deactivates an API key.
// DELETE /api/v1/keys/:id
func (h *Handler) RevokeAPIKey(c *gin.Context) {
	if err := h.DB.RevokeAPIKey(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, http.StatusNotFound, "not_found", "API key not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "API key revoked"})
}

// generateAPIKey creates a cryptographically secure random API key.
// Format: "ssk_" prefix + 32 random hex characters = 36 chars total.
// The prefix makes it easy to identify keys from this service.
func generateAPIKey() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "ssk_" + hex.EncodeToString(bytes), nil
}
