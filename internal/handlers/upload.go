package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/serial"
	pdfservice "github.com/Shimizu-Technology/serial-stamp-api/internal/services/pdf"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/stamp"
)

// upload is a template PDF read from the "file" multipart field.
type upload struct {
	Name string
	Data []byte
}

// readUpload reads and checks the template PDF. On failure it has already
// written the error response and returns false.
func (h *Handler) readUpload(c *gin.Context) (*upload, bool) {
	// Limit request body size
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "file_too_large",
				fmt.Sprintf("Template PDF exceeds %d MB", h.MaxUploadBytes>>20))
			return nil, false
		}
		respondError(c, http.StatusBadRequest, "missing_file",
			"No PDF file provided. Upload a file with the field name 'file'.")
		return nil, false
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".pdf" {
		respondError(c, http.StatusBadRequest, "invalid_file_type",
			fmt.Sprintf("Unsupported file format '%s'. Only .pdf files are accepted.", ext))
		return nil, false
	}

	// Go Pattern: io.ReadAll reads the entire reader into a byte slice.
	// The PDF libraries need random access, so the upload lives in memory.
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(c, http.StatusBadRequest, "read_error", "Failed to read uploaded file")
		return nil, false
	}

	// Validate PDF magic bytes
	if !pdfservice.ValidatePDF(data) {
		respondError(c, http.StatusBadRequest, "invalid_pdf",
			"The uploaded file does not appear to be a valid PDF")
		return nil, false
	}

	return &upload{Name: filepath.Base(header.Filename), Data: data}, true
}

// seriesInput is a validated series request.
type seriesInput struct {
	Form     models.SeriesForm
	Template serial.Template
	Mode     stamp.Mode
	Override *stamp.Point
	Upload   *upload
}

// readSeries binds and validates the fields shared by the synchronous and
// asynchronous series endpoints.
func (h *Handler) readSeries(c *gin.Context) (*seriesInput, bool) {
	up, ok := h.readUpload(c)
	if !ok {
		return nil, false
	}

	var form models.SeriesForm
	if err := c.ShouldBind(&form); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request",
			"template is required and copies must be an integer")
		return nil, false
	}

	tmpl, err := serial.Parse(form.Template)
	if err == nil {
		err = stamp.CheckCaption(tmpl)
	}
	if err != nil {
		respondStampError(c, err)
		return nil, false
	}
	if err := tmpl.Validate(form.Copies); err != nil {
		respondStampError(c, err)
		return nil, false
	}
	if form.Copies > h.MaxCopies {
		respondError(c, http.StatusBadRequest, "invalid_copy_count",
			fmt.Sprintf("copies must be at most %d", h.MaxCopies))
		return nil, false
	}
	mode, err := stamp.ParseMode(form.Mode)
	if err != nil {
		respondStampError(c, err)
		return nil, false
	}

	in := &seriesInput{Form: form, Template: tmpl, Mode: mode, Upload: up}
	switch {
	case form.X != nil && form.Y != nil:
		in.Override = &stamp.Point{X: *form.X, Y: *form.Y}
		if !in.Override.Valid() {
			respondError(c, http.StatusBadRequest, "invalid_placement", "x and y must be finite numbers")
			return nil, false
		}
	case form.X != nil || form.Y != nil:
		respondError(c, http.StatusBadRequest, "invalid_placement", "x and y must be given together")
		return nil, false
	}
	return in, true
}
