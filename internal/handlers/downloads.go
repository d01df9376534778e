// downloads.go hands out signed links to finished artifacts.
//
// POST /api/v1/series/runs/:id/download-token — issue a short-lived token
// GET  /api/v1/downloads/:token               — fetch the artifact (public)
package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/database"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/download"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/storage"
)

// CreateDownloadToken issues a token for the artifact of a completed run.
// POST /api/v1/series/runs/:id/download-token
func (h *Handler) CreateDownloadToken(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	if run.Status != models.StatusCompleted {
		respondError(c, http.StatusConflict, "not_ready",
			"Run has no artifact (status: "+string(run.Status)+")")
		return
	}

	token, expires, err := h.Signer.Issue(run.ID, run.Checksum)
	if err != nil {
		log.Printf("❌ Failed to issue download token: %v", err)
		respondError(c, http.StatusInternalServerError, "token_error", "Failed to issue download token")
		return
	}

	c.JSON(http.StatusCreated, models.DownloadTokenResponse{
		Token:     token,
		URL:       "/api/v1/downloads/" + token,
		ExpiresAt: expires,
	})
}

// Download serves the artifact a token points to. No API key is needed:
// the token is the credential.
// GET /api/v1/downloads/:token
func (h *Handler) Download(c *gin.Context) {
	claims, err := h.Signer.Verify(c.Param("token"))
	if err != nil {
		respondError(c, http.StatusUnauthorized, "invalid_token", "Download link is invalid or has expired")
		return
	}

	ctx := c.Request.Context()
	run, err := h.DB.GetRun(ctx, claims.Subject)
	if errors.Is(err, database.ErrNotFound) {
		respondError(c, http.StatusNotFound, "not_found", "Series run not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to load series run")
		return
	}
	// Tokens are bound to the artifact bytes; anything else means the files
	// were cleaned up since the token was issued.
	if run.Status != models.StatusCompleted || run.Checksum != claims.Checksum {
		respondError(c, http.StatusGone, "gone", "The artifact is no longer available")
		return
	}

	data, err := h.Store.Get(ctx, run.ArtifactKey)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(c, http.StatusGone, "gone", "The artifact is no longer available")
		return
	}
	if err != nil {
		log.Printf("❌ Failed to read artifact of run %s: %v", run.ID, err)
		respondError(c, http.StatusInternalServerError, "storage_error", "Failed to read artifact")
		return
	}
	if download.Checksum(data) != run.Checksum {
		log.Printf("❌ Artifact of run %s does not match its checksum", run.ID)
		respondError(c, http.StatusInternalServerError, "checksum_mismatch", "Stored artifact is corrupted")
		return
	}

	setAttachment(c, run.ArtifactName)
	c.Header("X-Checksum-Blake2b", run.Checksum)
	c.Data(http.StatusOK, run.ContentType, data)
}
