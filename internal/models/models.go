// Package models defines the data structures used throughout the application.
//
// Go Pattern: Models are plain structs with JSON tags for serialization and
// `db` tags for sqlx column mapping. The database package handles
// persistence; nothing here talks to Postgres.
package models

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"
)

// RunStatus represents the processing state of a series run.
// Go Pattern: string constants instead of enums (Go doesn't have enums).
type RunStatus string

const (
	StatusPending    RunStatus = "pending"
	StatusProcessing RunStatus = "processing"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
	StatusCancelled  RunStatus = "cancelled"
	StatusExpired    RunStatus = "expired" // Files removed by the janitor
)

// Finished reports whether the run will not change any more.
func (s RunStatus) Finished() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// SeriesRun is one asynchronous generation of serialized copies.
type SeriesRun struct {
	ID           string          `json:"id" db:"id"`
	APIKeyID     string          `json:"-" db:"api_key_id"`
	Template     string          `json:"template" db:"template"` // e.g. "KM-{0001}"
	Copies       int             `json:"copies" db:"copies"`
	Mode         string          `json:"mode" db:"mode"`              // "archive" or "merged"
	OverrideX    *float64        `json:"x,omitempty" db:"override_x"` // Pointer = nullable
	OverrideY    *float64        `json:"y,omitempty" db:"override_y"`
	SourceName   string          `json:"source_name" db:"source_name"`
	SourceKey    string          `json:"-" db:"source_key"` // Storage key of the template PDF
	Status       RunStatus       `json:"status" db:"status"`
	Done         int             `json:"done" db:"done"` // Copies finished so far
	PageCount    int             `json:"page_count" db:"page_count"`
	Serials      pq.StringArray  `json:"serials,omitempty" db:"serials"`
	Warnings     json.RawMessage `json:"warnings,omitempty" db:"warnings"` // JSONB
	ArtifactKey  string          `json:"-" db:"artifact_key"`
	ArtifactName string          `json:"artifact_name,omitempty" db:"artifact_name"`
	ContentType  string          `json:"content_type,omitempty" db:"content_type"`
	ArtifactSize int64           `json:"artifact_size,omitempty" db:"artifact_size"`
	Checksum     string          `json:"checksum,omitempty" db:"checksum"` // BLAKE2b-256, hex
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// APIKey represents an API key for authentication.
// Note: We store the HASH of the key, never the raw key itself.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	KeyHash    string     `json:"-" db:"key_hash"`            // "-" means never serialize to JSON
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"` // First 8 chars for identification
	Name       string     `json:"name" db:"name"`
	Active     bool       `json:"active" db:"active"`
	RateLimit  int        `json:"rate_limit" db:"rate_limit"` // Requests per hour
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Webhook events.
const (
	EventSeriesCompleted = "series.completed"
	EventSeriesFailed    = "series.failed"
)

// ValidWebhookEvents lists the events a webhook may subscribe to.
var ValidWebhookEvents = map[string]bool{
	EventSeriesCompleted: true,
	EventSeriesFailed:    true,
}

// Webhook is a URL notified when runs finish.
type Webhook struct {
	ID        string    `json:"id" db:"id"`
	APIKeyID  string    `json:"api_key_id" db:"api_key_id"`
	URL       string    `json:"url" db:"url"`
	Events    []string  `json:"events" db:"events"`
	Secret    string    `json:"-" db:"secret"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// WebhookDelivery records one notification and its attempts.
type WebhookDelivery struct {
	ID           string     `json:"id" db:"id"`
	WebhookID    string     `json:"webhook_id" db:"webhook_id"`
	Event        string     `json:"event" db:"event"`
	Payload      string     `json:"payload" db:"payload"`
	Status       string     `json:"status" db:"status"` // "pending", "success", "failed"
	Attempts     int        `json:"attempts" db:"attempts"`
	LastError    string     `json:"last_error,omitempty" db:"last_error"`
	ResponseCode int        `json:"response_code,omitempty" db:"response_code"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
}

// WebhookPayload is the JSON body POSTed to webhook URLs.
type WebhookPayload struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// --- Request/Response DTOs (Data Transfer Objects) ---
// Go Pattern: Separate structs for API input/output vs database models.

// CreateAPIKeyRequest is the JSON body for POST /api/v1/keys.
type CreateAPIKeyRequest struct {
	Name      string `json:"name" binding:"required"`
	RateLimit int    `json:"rate_limit,omitempty"` // 0 = use default
}

// CreateAPIKeyResponse includes the raw key — shown only once at creation time.
type CreateAPIKeyResponse struct {
	APIKey
	RawKey string `json:"raw_key"`
}

// CreateWebhookRequest is the JSON body for POST /api/v1/webhooks.
type CreateWebhookRequest struct {
	URL    string   `json:"url" binding:"required,url"`
	Events []string `json:"events" binding:"required,min=1"`
}

// UpdateWebhookRequest is the JSON body for PATCH /api/v1/webhooks/:id.
type UpdateWebhookRequest struct {
	Active *bool `json:"active"`
}

// SeriesForm holds the multipart fields shared by POST /series and
// POST /series/runs. The template PDF itself arrives as the "file" part.
type SeriesForm struct {
	Template string   `form:"template" binding:"required"`
	Copies   int      `form:"copies"`
	Mode     string   `form:"mode"`
	X        *float64 `form:"x"`
	Y        *float64 `form:"y"`
}

// ScreenPlacementRequest is the JSON body for POST /api/v1/placements/from-screen.
// Screen coordinates are in page units with the origin at the top-left.
type ScreenPlacementRequest struct {
	PageWidth  float64 `json:"page_width" binding:"required,gt=0"`
	PageHeight float64 `json:"page_height" binding:"required,gt=0"`
	Size       float64 `json:"size"` // 0 = configured QR size
	ScreenX    float64 `json:"screen_x"`
	ScreenY    float64 `json:"screen_y"`
}

// ProgressEvent is streamed to websocket clients while a run is processing.
type ProgressEvent struct {
	RunID  string    `json:"run_id"`
	Done   int       `json:"done"`
	Total  int       `json:"total"`
	Serial string    `json:"serial,omitempty"`
	Status RunStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// DownloadTokenResponse is returned by POST /series/runs/:id/download-token.
type DownloadTokenResponse struct {
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ManifestEntry is one row of a run manifest.
type ManifestEntry struct {
	Index     int    `json:"index"` // 1-based copy number
	Serial    string `json:"serial"`
	File      string `json:"file"`       // Archive entry, or the merged PDF name
	FirstPage int    `json:"first_page"` // Pages within File
	LastPage  int    `json:"last_page"`
}

// ErrorResponse is a standard error format for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Database   string `json:"database"`
	Workers    int    `json:"workers"`
	QueueDepth int    `json:"queue_depth"`
	Storage    string `json:"storage"`
}
