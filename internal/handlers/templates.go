// templates.go serves the placement picker: it describes an uploaded
// template and converts preview coordinates into page coordinates.
//
// POST /api/v1/templates/inspect
// POST /api/v1/placements/from-screen
package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
	pdfservice "github.com/Shimizu-Technology/serial-stamp-api/internal/services/pdf"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/stamp"
)

// TemplateInfo describes an uploaded template PDF.
type TemplateInfo struct {
	Filename  string                  `json:"filename"`
	PageCount int                     `json:"page_count"`
	Pages     []stamp.PageSize        `json:"pages"`
	Invalid   []int                   `json:"invalid_pages,omitempty"` // 1-based pages that will be replaced
	Placement stamp.Placement         `json:"placement"`               // Default stamp position on page 1
	Text      *pdfservice.TextSummary `json:"text,omitempty"`
}

// InspectTemplate reports page sizes and the default stamp placement.
// POST /api/v1/templates/inspect
//
// Accepts multipart file upload with field name "file".
func (h *Handler) InspectTemplate(c *gin.Context) {
	up, ok := h.readUpload(c)
	if !ok {
		return
	}

	sizes, err := stamp.Inspect(up.Data)
	if err != nil {
		respondStampError(c, err)
		return
	}

	info := TemplateInfo{
		Filename:  up.Name,
		PageCount: len(sizes),
		Pages:     sizes,
		Placement: h.Pipeline.Placement(sizes[0], nil),
	}
	for i, s := range sizes {
		if !s.Valid() {
			info.Invalid = append(info.Invalid, i+1)
		}
	}

	// The text preview is a convenience; templates without extractable
	// text (scans, outlined fonts) are still fine to stamp.
	if summary, err := pdfservice.Summarize(up.Data); err != nil {
		log.Printf("⚠️  No text preview for %s: %v", up.Name, err)
	} else {
		info.Text = summary
	}

	c.JSON(http.StatusOK, info)
}

// PlacementFromScreen converts a position picked on a page preview into
// the stamp placement the pipeline expects.
// POST /api/v1/placements/from-screen
//
// Request body:
//
//	{"page_width": 595.28, "page_height": 841.89, "screen_x": 500, "screen_y": 30}
func (h *Handler) PlacementFromScreen(c *gin.Context) {
	var req models.ScreenPlacementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request",
			"page_width and page_height must be positive numbers")
		return
	}

	size := req.Size
	if size <= 0 {
		size = h.Pipeline.Options().QRSize
	}
	page := stamp.PageSize{Width: req.PageWidth, Height: req.PageHeight}
	if size > page.Width || size > page.Height {
		respondError(c, http.StatusBadRequest, "invalid_placement", "stamp does not fit on the page")
		return
	}

	c.JSON(http.StatusOK, stamp.PlacementFromScreen(page, size, req.ScreenX, req.ScreenY))
}
