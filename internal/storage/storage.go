// Package storage defines the interface for object storage operations.
// Swap implementations by changing STORAGE_DRIVER: the MinIO and S3 drivers work
// with any S3-compatible provider, the local driver keeps blobs on disk.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/droplite/service/internal/config"
)

// Object describes one stored blob as reported by List.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Storage is the interface for uploading and removing blobs.
type Storage interface {
	// Upload streams data to the store under the given key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	// Delete removes an object identified by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Exists reports whether an object is stored under key. The orphan drain
	// uses it to skip deletes of blobs that are already gone.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]Object, error)
	// PublicURL constructs the browser-accessible URL for a given key.
	PublicURL(key string) string
}

// New builds the driver selected by cfg.StorageDriver.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Storage, error) {
	switch cfg.StorageDriver {
	case config.StorageMinio:
		return NewMinioStorage(ctx, cfg, logger)
	case config.StorageS3:
		return NewS3Storage(cfg, logger)
	case config.StorageLocal:
		return NewLocalStorage(cfg.StorageLocalDir, cfg.StoragePublicBase)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
