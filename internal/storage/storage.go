// Package storage keeps template PDFs and finished artifacts outside the
// database. Two backends exist: the local filesystem and S3 (or any
// S3-compatible service).
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/config"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Store is a flat key/value blob store. Keys use forward slashes.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Name identifies the backend in logs and health output.
	Name() string
}

// New returns the backend selected by cfg.StorageBackend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StorageBackend {
	case "local":
		return NewLocalStore(cfg.StorageDir)
	case "s3":
		return NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// TemplateKey is where the template PDF of a run is kept.
func TemplateKey(runID string) string {
	return path.Join("templates", runID+".pdf")
}

// ArtifactKey is where the output of a run is kept.
func ArtifactKey(runID, filename string) string {
	return path.Join("artifacts", runID, filename)
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty storage key")
	}
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != strings.TrimPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return clean, nil
}
