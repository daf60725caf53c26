package share

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/droplite/service/internal/db"
	"github.com/droplite/service/internal/storage"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "files.db")
	logger := discardLogger()

	conn, err := db.OpenSQLite(path, logger)
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.Migrate("sqlite3://"+path, logger); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	return NewSQLiteStore(conn)
}

func newLocalBlobs(t *testing.T) *storage.LocalStorage {
	t.Helper()
	blobs, err := storage.NewLocalStorage(t.TempDir(), "http://cdn.test/media")
	if err != nil {
		t.Fatalf("NewLocalStorage() error: %v", err)
	}
	return blobs
}

func stage(t *testing.T, dir string, category Category, name, content string) *StagedFile {
	t.Helper()
	f, err := Stage(dir, category, name, "", strings.NewReader(content), 1<<20)
	if err != nil {
		t.Fatalf("Stage(%q) error: %v", name, err)
	}
	return f
}

func newTestUploader(store Store, blobs storage.Storage) *Uploader {
	u := NewUploader(store, blobs, UploaderOptions{
		Prefix:      "drop-lite",
		BaseURL:     "http://share.test/",
		Retention:   7 * 24 * time.Hour,
		Concurrency: 4,
		Timeout:     time.Minute,
	}, discardLogger())
	u.now = func() time.Time { return testNow }
	return u
}

// sequenceIDs yields ids in order, then falls back to NewID.
func sequenceIDs(ids ...string) func() (string, error) {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(ids) == 0 {
			return NewID()
		}
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}
}

// faultyStore wraps a Store and fails selected operations.
type faultyStore struct {
	Store
	failInsert   func(rec *Record) error
	addOrphanErr error
	getCalls     atomic.Int32
}

func (s *faultyStore) Insert(ctx context.Context, rec *Record) error {
	if s.failInsert != nil {
		if err := s.failInsert(rec); err != nil {
			return err
		}
	}
	return s.Store.Insert(ctx, rec)
}

func (s *faultyStore) Get(ctx context.Context, id string) (*Record, error) {
	s.getCalls.Add(1)
	return s.Store.Get(ctx, id)
}

func (s *faultyStore) AddOrphan(ctx context.Context, o *Orphan) error {
	if s.addOrphanErr != nil {
		return s.addOrphanErr
	}
	return s.Store.AddOrphan(ctx, o)
}

// faultyBlobs wraps a Storage and fails selected operations.
type faultyBlobs struct {
	storage.Storage
	failUpload func(key string) error
	deleteErr  error
}

func (b *faultyBlobs) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if b.failUpload != nil {
		if err := b.failUpload(key); err != nil {
			return err
		}
	}
	return b.Storage.Upload(ctx, key, r, size, contentType)
}

func (b *faultyBlobs) Delete(ctx context.Context, key string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	return b.Storage.Delete(ctx, key)
}

var errInjected = errors.New("injected failure")
