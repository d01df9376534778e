package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/serial"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/stamp"
)

// respondError writes the standard error body and aborts the chain.
func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Error:   code,
		Message: message,
		Code:    status,
	})
}

// respondStampError maps template and pipeline errors to HTTP responses.
func respondStampError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Printf("❌ Series generation failed: %v", err)
	}
	respondError(c, status, code, err.Error())
}

// classify returns the status and error code for err.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, serial.ErrInvalidTemplateFormat), errors.Is(err, serial.ErrInvalidStartValue):
		return http.StatusBadRequest, "invalid_template"
	case errors.Is(err, serial.ErrInvalidCopyCount):
		return http.StatusBadRequest, "invalid_copy_count"
	case errors.Is(err, stamp.ErrInvalidMode):
		return http.StatusBadRequest, "invalid_mode"
	case errors.Is(err, stamp.ErrInvalidPlacement):
		return http.StatusBadRequest, "invalid_placement"
	case errors.Is(err, stamp.ErrMissingInputFile):
		return http.StatusBadRequest, "missing_file"
	case errors.Is(err, stamp.ErrDocumentDecode):
		return http.StatusUnprocessableEntity, "invalid_pdf"
	case errors.Is(err, stamp.ErrEncoding):
		return http.StatusInternalServerError, "encoding_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	}
	return http.StatusInternalServerError, "internal_error"
}
