// series.go generates serialized copies synchronously.
//
// POST /api/v1/series streams the finished archive or merged PDF back in
// the response. Large runs belong on POST /api/v1/series/runs instead.
package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/stamp"
)

// GenerateSeries builds every copy and returns the artifact.
// POST /api/v1/series
//
// Multipart fields: file, template, copies, mode (archive|merged), x, y.
func (h *Handler) GenerateSeries(c *gin.Context) {
	in, ok := h.readSeries(c)
	if !ok {
		return
	}

	// The request context ends when the client disconnects, which stops
	// the pipeline at the next copy boundary.
	art, err := h.Pipeline.Run(c.Request.Context(), stamp.Request{
		Source:   in.Upload.Data,
		Template: in.Template,
		Copies:   in.Form.Copies,
		Mode:     in.Mode,
		Override: in.Override,
	}, nil)
	if err != nil {
		respondStampError(c, err)
		return
	}

	if len(art.Warnings) > 0 {
		log.Printf("⚠️  %s: %d pages replaced with blank fallback pages", in.Upload.Name, len(art.Warnings))
	}

	setAttachment(c, art.Filename)
	c.Header("X-Serial-Count", strconv.Itoa(len(art.Serials)))
	c.Header("X-Stamp-Warnings", strconv.Itoa(len(art.Warnings)))
	c.Data(http.StatusOK, art.ContentType, art.Data)
}
