// Package share implements the upload-to-retrieval pipeline: staging multipart
// files, storing blobs, recording per-file metadata under a shared access code,
// and serving code-gated, time-bounded retrieval.
package share

import (
	"context"
	"log/slog"
	"time"
)

// Category classifies an uploaded file and selects its storage namespace.
type Category string

const (
	CategoryImage Category = "image"
	CategoryVideo Category = "video"
)

// Namespace returns the storage folder for the category.
func (c Category) Namespace() string {
	if c == CategoryVideo {
		return "videos"
	}
	return "images"
}

// Record is the metadata of one stored file. Records are never updated after insert.
type Record struct {
	ID           string
	Code         string `json:"-"`
	OriginalName string
	Category     Category
	StorageRef   string
	PublicURL    string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Expired reports whether retrieval must be refused at now.
func (r *Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// LogValue keeps the access code out of every log line that includes a record.
func (r *Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("name", r.OriginalName),
		slog.String("category", string(r.Category)),
		slog.String("storage_ref", r.StorageRef),
		slog.Time("expires_at", r.ExpiresAt),
	)
}

// Orphan is a blob whose compensating delete failed and that has no record.
type Orphan struct {
	StorageRef string
	Reason     string
	Attempts   int
	LastError  string
	CreatedAt  time.Time
}

// Store is the durable metadata table plus the orphan-blob outbox.
type Store interface {
	// Insert adds a record; it returns ErrDuplicateID when the id is taken.
	Insert(ctx context.Context, rec *Record) error
	// Get returns the record with id or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	// Delete removes the record with id. Missing records are not an error.
	Delete(ctx context.Context, id string) error
	// ListExpired returns up to limit records with ExpiresAt before the given time.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Record, error)
	// HasStorageRef reports whether any record points at the blob.
	HasStorageRef(ctx context.Context, ref string) (bool, error)

	// AddOrphan records a blob that must be deleted later. Re-adding is a no-op.
	AddOrphan(ctx context.Context, o *Orphan) error
	// ListOrphans returns up to limit outbox entries, oldest first.
	ListOrphans(ctx context.Context, limit int) ([]*Orphan, error)
	// DeleteOrphan drops the outbox entry for ref.
	DeleteOrphan(ctx context.Context, ref string) error
	// MarkOrphanAttempt bumps the attempt counter and stores the last error.
	MarkOrphanAttempt(ctx context.Context, ref, lastErr string) error

	Ping(ctx context.Context) error
}
