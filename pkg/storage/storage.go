// Package storage keeps raw uploaded bytes under user-scoped paths, on the
// local filesystem or in Google Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a stored object does not exist
var ErrNotFound = errors.New("stored file not found")

// FileInfo contains metadata about a stored file
type FileInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	Path      string    `json:"path"` // Opaque handle, only meaningful to the backend that issued it
	CreatedAt time.Time `json:"created_at"`
}

// Storage defines the raw byte store used by the import pipeline
type Storage interface {
	// Save stores r under a path scoped to userID and returns its metadata
	Save(ctx context.Context, userID uuid.UUID, filename string, r io.Reader) (*FileInfo, error)

	// Open returns a reader for a previously saved path
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes a saved path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
}

// StorageType identifies the storage backend
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeGCS   StorageType = "gcs"
)

// Config holds storage configuration
type Config struct {
	Type StorageType

	// Local storage config
	LocalPath string

	// GCS storage config
	GCSBucket       string
	GCSPrefix       string
	CredentialsFile string
}

// New creates a new Storage implementation based on configuration
func New(ctx context.Context, cfg *Config) (Storage, error) {
	switch cfg.Type {
	case StorageTypeGCS:
		return NewGCSStorage(ctx, cfg.GCSBucket, cfg.GCSPrefix, cfg.CredentialsFile)
	case StorageTypeLocal, "":
		return NewLocalStorage(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// objectName builds "<userID>/<short-id>_<sanitized name>"
func objectName(userID uuid.UUID, filename string) string {
	return userID.String() + "/" + uuid.NewString()[:8] + "_" + sanitizeFilename(filename)
}

// sanitizeFilename removes unsafe characters from filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		"..", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	name = strings.TrimSpace(replacer.Replace(name))
	if name == "" {
		return "upload.csv"
	}
	return name
}
