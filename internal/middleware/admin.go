package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
)

// RequireAdminKey guards API key management with the X-Admin-Key header.
// When adminKey is empty (development) the routes are open for bootstrapping.
func RequireAdminKey(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("X-Admin-Key")
		if provided == "" {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   "unauthorized",
				Message: "X-Admin-Key header is required to manage API keys",
				Code:    http.StatusUnauthorized,
			})
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(adminKey)) != 1 {
			c.JSON(http.StatusForbidden, models.ErrorResponse{
				Error:   "forbidden",
				Message: "Invalid admin key",
				Code:    http.StatusForbidden,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
