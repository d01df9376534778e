// runs.go handles series run persistence.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
)

// CreateRun inserts a pending run. Callers may pick the ID up front (the
// template is stored under it before the row exists); otherwise one is
// generated.
func (db *DB) CreateRun(ctx context.Context, r *models.SeriesRun) error {
	query := `
		INSERT INTO series_runs (id, api_key_id, template, copies, mode, override_x, override_y, source_name, source_key, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = models.StatusPending
	}
	return db.QueryRowContext(ctx, query,
		r.ID, r.APIKeyID, r.Template, r.Copies, r.Mode, r.OverrideX, r.OverrideY,
		r.SourceName, r.SourceKey, r.Status,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id string) (*models.SeriesRun, error) {
	var r models.SeriesRun
	err := db.GetContext(ctx, &r, `SELECT * FROM series_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

// GetRunForKey retrieves a run owned by the given API key. Runs of other
// keys are reported as not found.
func (db *DB) GetRunForKey(ctx context.Context, id, apiKeyID string) (*models.SeriesRun, error) {
	var r models.SeriesRun
	err := db.GetContext(ctx, &r,
		`SELECT * FROM series_runs WHERE id = $1 AND api_key_id = $2`, id, apiKeyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

// ListRunsByAPIKey returns the most recent runs of a key.
func (db *DB) ListRunsByAPIKey(ctx context.Context, apiKeyID string, limit int) ([]models.SeriesRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var runs []models.SeriesRun
	err := db.SelectContext(ctx, &runs,
		`SELECT * FROM series_runs WHERE api_key_id = $1 ORDER BY created_at DESC LIMIT $2`,
		apiKeyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// StartRun moves a pending run to processing. It reports false when the
// run was no longer pending, for example because it was cancelled while
// queued.
func (db *DB) StartRun(ctx context.Context, id string) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE series_runs SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		id, models.StatusProcessing, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to start run: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// UpdateRunProgress records how many copies are finished.
func (db *DB) UpdateRunProgress(ctx context.Context, id string, done int) error {
	_, err := db.ExecContext(ctx,
		`UPDATE series_runs SET done = $2, updated_at = NOW() WHERE id = $1`, id, done)
	return err
}

// ErrRunNotActive is returned by CompleteRun when the run stopped being
// processed in the meantime, for example because the client cancelled it.
var ErrRunNotActive = errors.New("run is no longer processing")

// CompleteRun stores the result of a successful run.
func (db *DB) CompleteRun(ctx context.Context, r *models.SeriesRun) error {
	query := `
		UPDATE series_runs
		SET status = $2, done = $3, page_count = $4, serials = $5, warnings = $6,
			artifact_key = $7, artifact_name = $8, content_type = $9, artifact_size = $10,
			checksum = $11, error_message = '', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $12
		RETURNING updated_at, completed_at`

	warnings := r.Warnings
	if len(warnings) == 0 {
		warnings = json.RawMessage("[]")
	}
	err := db.QueryRowContext(ctx, query,
		r.ID, models.StatusCompleted, r.Done, r.PageCount, pq.Array(r.Serials), warnings,
		r.ArtifactKey, r.ArtifactName, r.ContentType, r.ArtifactSize, r.Checksum,
		models.StatusProcessing,
	).Scan(&r.UpdatedAt, &r.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRunNotActive
	}
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	r.Status = models.StatusCompleted
	return nil
}

// FinishRun marks a still active run failed or cancelled with a message.
// Runs that already finished are left alone.
func (db *DB) FinishRun(ctx context.Context, id string, status models.RunStatus, message string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE series_runs
		SET status = $2, error_message = $3, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ($4, $5)`,
		id, status, message, models.StatusPending, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// CancelRun marks a pending or processing run cancelled. It reports false
// when the run had already finished.
func (db *DB) CancelRun(ctx context.Context, id, apiKeyID string) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE series_runs
		SET status = $3, error_message = 'cancelled by client', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND api_key_id = $2 AND status IN ($4, $5)`,
		id, apiKeyID, models.StatusCancelled, models.StatusPending, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("failed to cancel run: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// ListExpiredRuns returns finished runs created before cutoff whose files
// have not been removed yet.
func (db *DB) ListExpiredRuns(ctx context.Context, cutoff time.Time, limit int) ([]models.SeriesRun, error) {
	var runs []models.SeriesRun
	err := db.SelectContext(ctx, &runs, `
		SELECT * FROM series_runs
		WHERE created_at < $1 AND status IN ($2, $3, $4)
		ORDER BY created_at ASC LIMIT $5`,
		cutoff, models.StatusCompleted, models.StatusFailed, models.StatusCancelled, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired runs: %w", err)
	}
	return runs, nil
}

// MarkRunExpired records that a run's files were deleted.
func (db *DB) MarkRunExpired(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE series_runs SET status = $2, artifact_key = '', source_key = '', updated_at = NOW()
		WHERE id = $1`, id, models.StatusExpired)
	return err
}

// RecoverRuns prepares the table after a restart: runs left processing by
// a previous process are failed, and the IDs of pending runs are returned
// so they can be queued again.
func (db *DB) RecoverRuns(ctx context.Context) ([]string, error) {
	_, err := db.ExecContext(ctx, `
		UPDATE series_runs
		SET status = $1, error_message = 'interrupted by server restart', completed_at = NOW(), updated_at = NOW()
		WHERE status = $2`, models.StatusFailed, models.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to reset interrupted runs: %w", err)
	}

	var ids []string
	err = db.SelectContext(ctx, &ids,
		`SELECT id FROM series_runs WHERE status = $1 ORDER BY created_at ASC`, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending runs: %w", err)
	}
	return ids, nil
}
