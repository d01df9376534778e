// manifest.go exports the serial list of a finished run (which serial sits
// in which file and on which pages).
//
// Supported formats:
//   - csv  — one row per copy
//   - xlsx — the same rows as a spreadsheet
//   - json — the rows plus run metadata
//
// Go Pattern: Each export format is its own function. Adding a format is a
// new case in the switch and a new writer function.
package handlers

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/database"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/middleware"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/archive"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/stamp"
)

const manifestSheet = "Serials"

var manifestColumns = []string{"index", "serial", "file", "first_page", "last_page"}

// GetManifest exports the serials of a run.
// GET /api/v1/series/runs/:id/manifest?format=csv|xlsx|json
func (h *Handler) GetManifest(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")

	// Validate format before doing any database work
	validFormats := map[string]bool{"csv": true, "xlsx": true, "json": true}
	if !validFormats[format] {
		respondError(c, http.StatusBadRequest, "invalid_format", "Supported formats: csv, xlsx, json")
		return
	}

	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	// Expired runs lost their files but the serial list is still valid.
	if run.Status != models.StatusCompleted && run.Status != models.StatusExpired {
		respondError(c, http.StatusConflict, "not_ready",
			"Run is not completed (status: "+string(run.Status)+")")
		return
	}

	entries := buildManifest(run)
	base := sanitizeFilename(strings.TrimSuffix(run.ArtifactName, ".zip"))
	base = strings.TrimSuffix(base, ".pdf")
	if base == "" {
		base = run.ID
	}
	filename := base + "-manifest." + format

	switch format {
	case "csv":
		exportCSV(c, entries, filename)
	case "xlsx":
		exportXLSX(c, entries, filename)
	case "json":
		exportJSON(c, run, entries, filename)
	}
}

// buildManifest lists where every serial of run ended up. In archive mode
// each serial has its own file; in merged mode copies follow each other in
// one file, PageCount pages apiece.
func buildManifest(run *models.SeriesRun) []models.ManifestEntry {
	entries := make([]models.ManifestEntry, len(run.Serials))
	merged := run.Mode == string(stamp.ModeMerged)
	for i, s := range run.Serials {
		e := models.ManifestEntry{
			Index:     i + 1,
			Serial:    s,
			File:      archive.EntryName(s),
			FirstPage: 1,
			LastPage:  run.PageCount,
		}
		if merged {
			e.File = run.ArtifactName
			e.FirstPage = i*run.PageCount + 1
			e.LastPage = (i + 1) * run.PageCount
		}
		entries[i] = e
	}
	return entries
}

func manifestRow(e models.ManifestEntry) []string {
	return []string{
		strconv.Itoa(e.Index),
		e.Serial,
		e.File,
		strconv.Itoa(e.FirstPage),
		strconv.Itoa(e.LastPage),
	}
}

// exportCSV returns the manifest as CSV.
func exportCSV(c *gin.Context, entries []models.ManifestEntry, filename string) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(manifestColumns)
	for _, e := range entries {
		_ = w.Write(manifestRow(e))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		respondError(c, http.StatusInternalServerError, "export_error", "Failed to generate CSV export")
		return
	}

	setAttachment(c, filename)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// exportXLSX returns the manifest as a spreadsheet with a frozen, styled
// header row.
func exportXLSX(c *gin.Context, entries []models.ManifestEntry, filename string) {
	data, err := manifestWorkbook(entries)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "export_error", "Failed to generate XLSX export")
		return
	}

	setAttachment(c, filename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func manifestWorkbook(entries []models.ManifestEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", manifestSheet); err != nil {
		return nil, err
	}

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"4472C4"}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for i, col := range manifestColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(manifestSheet, cell, col); err != nil {
			return nil, err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(manifestColumns), 1)
	if err := f.SetCellStyle(manifestSheet, "A1", last, header); err != nil {
		return nil, err
	}

	for r, e := range entries {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		row := []any{e.Index, e.Serial, e.File, e.FirstPage, e.LastPage}
		if err := f.SetSheetRow(manifestSheet, cell, &row); err != nil {
			return nil, err
		}
	}

	if err := f.SetPanes(manifestSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(manifestSheet, "B", "C", 24); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// exportJSON returns the manifest with the run it belongs to.
func exportJSON(c *gin.Context, run *models.SeriesRun, entries []models.ManifestEntry, filename string) {
	// Build a clean export structure (we control what's included)
	exportData := map[string]any{
		"run_id":     run.ID,
		"template":   run.Template,
		"mode":       run.Mode,
		"copies":     run.Copies,
		"page_count": run.PageCount,
		"artifact":   run.ArtifactName,
		"checksum":   run.Checksum,
		"entries":    entries,
	}

	jsonBytes, err := json.MarshalIndent(exportData, "", "  ")
	if err != nil {
		respondError(c, http.StatusInternalServerError, "export_error", "Failed to generate JSON export")
		return
	}

	setAttachment(c, filename)
	c.Data(http.StatusOK, "application/json; charset=utf-8", jsonBytes)
}

// loadRun fetches the run named by the :id parameter for the calling API
// key. On failure it has already written the response.
func (h *Handler) loadRun(c *gin.Context) (*models.SeriesRun, bool) {
	apiKey := middleware.GetAPIKey(c)
	if apiKey == nil {
		respondError(c, http.StatusUnauthorized, "unauthorized", "Series runs require API key authentication")
		return nil, false
	}

	run, err := h.DB.GetRunForKey(c.Request.Context(), c.Param("id"), apiKey.ID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(c, http.StatusNotFound, "not_found", "Series run not found")
		return nil, false
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to load series run")
		return nil, false
	}
	return run, true
}

// setAttachment marks the response as a file download.
func setAttachment(c *gin.Context, filename string) {
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": sanitizeFilename(filename),
	}))
}

// sanitizeFilename removes characters that aren't safe for filenames.
// Go Pattern: Keep it simple — replace unsafe characters with hyphens
// and trim the result. We don't need a full filesystem-safe sanitizer
// since this is just for the Content-Disposition header.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-", "\\", "-", ":", "-", "*", "-",
		"?", "-", "\"", "-", "<", "-", ">", "-",
		"|", "-", "\n", " ", "\r", "",
	)
	name = replacer.Replace(name)

	for strings.Contains(name, "  ") {
		name = strings.ReplaceAll(name, "  ", " ")
	}
	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}

	name = strings.TrimSpace(name)

	if len(name) > 100 {
		name = name[:100]
	}
	return name
}
