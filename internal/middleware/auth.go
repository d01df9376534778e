// Package middleware provides HTTP middleware for the API.
//
// Go Pattern: Middleware in Go is a function that wraps an HTTP handler.
// In Gin, middleware is a gin.HandlerFunc that calls c.Next() to continue
// the chain, or c.Abort() to stop processing. This is similar to Express.js
// middleware, but with explicit control flow.
package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
)

// contextKey is a custom type for context keys to avoid collisions.
// Go Pattern: Use unexported types for context keys so other packages
// can't accidentally overwrite your values.
type contextKey string

const apiKeyContextKey contextKey = "api_key"

// KeyStore looks up API keys. *database.DB implements it.
type KeyStore interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

// APIKeyAuth returns middleware that validates the X-API-Key header.
//
// How it works:
//  1. Read the X-API-Key header (or the api_key query parameter, which is
//     the only option browsers have when opening a websocket)
//  2. Hash it (we never store raw keys)
//  3. Look up the hash in the database
//  4. If valid, store the key info in the request context
//  5. If invalid, return 401 Unauthorized
func APIKeyAuth(keys KeyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := c.GetHeader("X-API-Key")
		if rawKey == "" {
			rawKey = c.Query("api_key")
		}
		if rawKey == "" {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "unauthorized",
				Message: "Missing X-API-Key header. Create an API key via POST /api/v1/keys",
				Code:    http.StatusUnauthorized,
			})
			c.Abort() // Stop the middleware chain — don't call the handler
			return
		}

		apiKey, err := keys.GetAPIKeyByHash(c.Request.Context(), HashAPIKey(rawKey))
		if err != nil || !apiKey.Active {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "unauthorized",
				Message: "Invalid or revoked API key",
				Code:    http.StatusUnauthorized,
			})
			c.Abort()
			return
		}

		// Go Pattern: Gin uses its own context (different from context.Context).
		// c.Set() stores values that handlers can retrieve with c.Get().
		c.Set(string(apiKeyContextKey), apiKey)

		// Update last_used_at without blocking the request. The request
		// context ends with the response, so the update gets its own.
		ctx := context.WithoutCancel(c.Request.Context())
		go func() {
			if err := keys.UpdateAPIKeyLastUsed(ctx, apiKey.ID); err != nil {
				log.Printf("⚠️  Failed to update last_used_at for key %s: %v", apiKey.ID, err)
			}
		}()

		c.Next()
	}
}

// GetAPIKey retrieves the authenticated API key from the request context.
// Call this in your handlers after the auth middleware has run.
func GetAPIKey(c *gin.Context) *models.APIKey {
	val, exists := c.Get(string(apiKeyContextKey))
	if !exists {
		return nil
	}
	// Go Pattern: Type assertion — the comma-ok idiom won't panic if wrong type.
	key, ok := val.(*models.APIKey)
	if !ok {
		return nil
	}
	return key
}

// SetAPIKey stores key as the authenticated key. Tests use it to call
// handlers without the database lookup.
func SetAPIKey(c *gin.Context, key *models.APIKey) {
	c.Set(string(apiKeyContextKey), key)
}

// HashAPIKey creates a SHA-256 hash of an API key.
// We store hashes, not raw keys — same principle as password hashing.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", hash)
}
