// runs.go handles asynchronous series runs.
//
// POST   /api/v1/series/runs              — queue a run (202)
// GET    /api/v1/series/runs              — latest runs of the API key
// GET    /api/v1/series/runs/:id          — run status
// GET    /api/v1/series/runs/:id/progress — websocket progress stream
// DELETE /api/v1/series/runs/:id          — cancel a run
package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/middleware"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/worker"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/storage"
)

// CreateRun stores the template and queues a series run.
// POST /api/v1/series/runs
//
// Multipart fields: file, template, copies, mode (archive|merged), x, y.
// Response: 202 Accepted with the pending run. Progress is available at
// /series/runs/:id/progress.
func (h *Handler) CreateRun(c *gin.Context) {
	apiKey := middleware.GetAPIKey(c)
	if apiKey == nil {
		respondError(c, http.StatusUnauthorized, "unauthorized", "Series runs require API key authentication")
		return
	}

	in, ok := h.readSeries(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	run := &models.SeriesRun{
		ID:         uuid.NewString(),
		APIKeyID:   apiKey.ID,
		Template:   in.Template.String(),
		Copies:     in.Form.Copies,
		Mode:       string(in.Mode),
		SourceName: in.Upload.Name,
		Status:     models.StatusPending,
	}
	if in.Override != nil {
		run.OverrideX, run.OverrideY = &in.Override.X, &in.Override.Y
	}
	run.SourceKey = storage.TemplateKey(run.ID)

	if err := h.Store.Put(ctx, run.SourceKey, in.Upload.Data, "application/pdf"); err != nil {
		log.Printf("❌ Failed to store template for run %s: %v", run.ID, err)
		respondError(c, http.StatusInternalServerError, "storage_error", "Failed to store template PDF")
		return
	}

	if err := h.DB.CreateRun(ctx, run); err != nil {
		log.Printf("❌ Failed to create run: %v", err)
		_ = h.Store.Delete(context.WithoutCancel(ctx), run.SourceKey)
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to create series run")
		return
	}

	// Queue the job for background processing
	// Go Pattern: The handler returns immediately while the worker
	// processes the job in a separate goroutine.
	err := h.Worker.Submit(worker.Job{ID: run.ID, Type: worker.JobSeriesRun, CreatedAt: time.Now()})
	if err != nil {
		log.Printf("⚠️  Failed to queue run %s: %v", run.ID, err)
		if dbErr := h.DB.FinishRun(ctx, run.ID, models.StatusFailed, err.Error()); dbErr != nil {
			log.Printf("⚠️  Failed to mark run %s failed: %v", run.ID, dbErr)
		}
		status, code := http.StatusInternalServerError, "queue_error"
		if errors.Is(err, worker.ErrQueueFull) {
			status, code = http.StatusServiceUnavailable, "queue_full"
		}
		respondError(c, status, code, err.Error())
		return
	}

	c.JSON(http.StatusAccepted, run)
}

// ListRuns returns recent runs of the calling API key.
// GET /api/v1/series/runs?limit=50
func (h *Handler) ListRuns(c *gin.Context) {
	apiKey := middleware.GetAPIKey(c)
	if apiKey == nil {
		respondError(c, http.StatusUnauthorized, "unauthorized", "Series runs require API key authentication")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.DB.ListRunsByAPIKey(c.Request.Context(), apiKey.ID, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to list series runs")
		return
	}

	if runs == nil {
		runs = []models.SeriesRun{}
	}
	c.JSON(http.StatusOK, runs)
}

// GetRun returns a single run.
// GET /api/v1/series/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

// CancelRun stops a pending or processing run.
// DELETE /api/v1/series/runs/:id
func (h *Handler) CancelRun(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}

	cancelled, err := h.DB.CancelRun(c.Request.Context(), run.ID, run.APIKeyID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "database_error", "Failed to cancel series run")
		return
	}
	if !cancelled {
		respondError(c, http.StatusConflict, "already_finished",
			"Run already finished (status: "+string(run.Status)+")")
		return
	}

	// A running run is stopped at the next copy boundary and reports its
	// own final event. A queued one is skipped by the worker, so watchers
	// hear about it here.
	if !h.Worker.Cancel(run.ID) {
		h.Hub.Publish(models.ProgressEvent{
			RunID:  run.ID,
			Done:   run.Done,
			Total:  run.Copies,
			Status: models.StatusCancelled,
			Error:  "cancelled by client",
		})
	}

	c.JSON(http.StatusOK, gin.H{"message": "Series run cancelled", "id": run.ID})
}

// StreamProgress upgrades to a websocket and streams progress events until
// the run finishes.
// GET /api/v1/series/runs/:id/progress
func (h *Handler) StreamProgress(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}

	initial := models.ProgressEvent{
		RunID:  run.ID,
		Done:   run.Done,
		Total:  run.Copies,
		Status: run.Status,
		Error:  run.ErrorMessage,
	}
	if err := h.Hub.Stream(c.Writer, c.Request, initial); err != nil {
		// The upgrader has already written an HTTP error.
		log.Printf("⚠️  Progress stream for run %s: %v", run.ID, err)
	}
}
