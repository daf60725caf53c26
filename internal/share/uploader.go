package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/droplite/service/internal/storage"
)

const (
	idAttempts          = 5
	compensationTimeout = 30 * time.Second
)

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// UploaderOptions configures an Uploader.
type UploaderOptions struct {
	Prefix      string        // root folder for blobs, e.g. "drop-lite"
	BaseURL     string        // public origin used for retrieval links
	Retention   time.Duration // how long a link stays valid
	Concurrency int           // files of one batch processed in parallel
	Timeout     time.Duration // bound on a whole batch once detached from the request
}

// UploadedFile is one successfully stored file and its retrieval link.
type UploadedFile struct {
	Record *Record
	Link   string
}

// FailedFile is a file of the batch that could not be stored.
type FailedFile struct {
	Name     string
	Category Category
	Err      error
}

// Batch is the result of one upload: a shared code and the per-file outcomes.
type Batch struct {
	Code     string
	Files    []UploadedFile // successful files, images first then videos, request order within each
	Failed   []FailedFile
	ExpireAt time.Time
}

// Uploader runs the per-file pipeline: blob upload, metadata insert and, on
// insert failure, a compensating blob delete.
type Uploader struct {
	store  Store
	blobs  storage.Storage
	opts   UploaderOptions
	logger *slog.Logger

	now     func() time.Time
	newID   func() (string, error)
	newCode func() (string, error)
}

// NewUploader creates an Uploader.
func NewUploader(store Store, blobs storage.Storage, opts UploaderOptions, logger *slog.Logger) *Uploader {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Uploader{
		store:   store,
		blobs:   blobs,
		opts:    opts,
		logger:  logger.With("component", "uploader"),
		now:     time.Now,
		newID:   NewID,
		newCode: NewCode,
	}
}

// Link builds the public retrieval link for a file id.
func (u *Uploader) Link(id string) string {
	return u.opts.BaseURL + "/f/" + id
}

// Upload stores every staged file under one fresh code. Every staged file is
// released before Upload returns. It fails with ErrUploadFailed only when no
// file could be stored; otherwise the failures are listed in Batch.Failed.
//
// The work is detached from ctx cancellation so a client disconnect cannot
// leave a blob behind without its record.
func (u *Uploader) Upload(ctx context.Context, files []*StagedFile) (*Batch, error) {
	defer releaseAll(files, u.logger)

	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	code, err := u.newCode()
	if err != nil {
		return nil, fmt.Errorf("%w: generate code: %w", ErrUploadFailed, err)
	}
	expiresAt := u.now().Add(u.opts.Retention).UTC().Truncate(time.Millisecond)

	ctx = context.WithoutCancel(ctx)
	if u.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.opts.Timeout)
		defer cancel()
	}

	recs := make([]*Record, len(files))
	errs := make([]error, len(files))

	var g errgroup.Group
	g.SetLimit(u.opts.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			recs[i], errs[i] = u.process(ctx, f, code, expiresAt)
			return nil
		})
	}
	g.Wait()

	batch := &Batch{Code: code, ExpireAt: expiresAt}
	for _, cat := range []Category{CategoryImage, CategoryVideo} {
		for i, f := range files {
			if f.Category != cat {
				continue
			}
			if errs[i] != nil {
				batch.Failed = append(batch.Failed, FailedFile{Name: f.OriginalName, Category: f.Category, Err: errs[i]})
				continue
			}
			batch.Files = append(batch.Files, UploadedFile{Record: recs[i], Link: u.Link(recs[i].ID)})
		}
	}

	if len(batch.Files) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, errors.Join(errs...))
	}
	if len(batch.Failed) > 0 {
		u.logger.Warn("partial upload", "stored", len(batch.Files), "failed", len(batch.Failed))
	}
	return batch, nil
}

// process runs blob upload then metadata insert for one file.
func (u *Uploader) process(ctx context.Context, f *StagedFile, code string, expiresAt time.Time) (*Record, error) {
	defer func() {
		if err := f.Release(); err != nil {
			u.logger.Error("release staged file", "path", f.Path(), "error", err)
		}
	}()

	id, err := u.newID()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	key := u.objectKey(f)
	if err := u.put(ctx, key, f); err != nil {
		uploadsTotal.WithLabelValues(string(f.Category), "storage_error").Inc()
		u.logger.Error("blob upload failed", "name", f.OriginalName, "key", key, "error", err)
		return nil, fmt.Errorf("%w: %q: %w", ErrStorage, f.OriginalName, err)
	}

	rec := &Record{
		ID:           id,
		Code:         code,
		OriginalName: f.OriginalName,
		Category:     f.Category,
		StorageRef:   key,
		PublicURL:    u.blobs.PublicURL(key),
		ExpiresAt:    expiresAt,
	}
	if err := u.insert(ctx, rec); err != nil {
		uploadsTotal.WithLabelValues(string(f.Category), "metadata_error").Inc()
		u.logger.Error("metadata insert failed", "file", rec, "error", err)
		u.compensate(rec.StorageRef, err)
		return nil, fmt.Errorf("%w: %q: %w", ErrMetadata, f.OriginalName, err)
	}

	uploadsTotal.WithLabelValues(string(f.Category), "stored").Inc()
	u.logger.Info("file stored", "file", rec)
	return rec, nil
}

func (u *Uploader) put(ctx context.Context, key string, f *StagedFile) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	return u.blobs.Upload(ctx, key, src, f.Size, contentType(f))
}

// insert writes rec, drawing a new id whenever the current one is taken.
func (u *Uploader) insert(ctx context.Context, rec *Record) error {
	for attempt := 1; ; attempt++ {
		rec.CreatedAt = u.now().UTC().Truncate(time.Millisecond)
		err := u.store.Insert(ctx, rec)
		if !errors.Is(err, ErrDuplicateID) {
			return err
		}
		if attempt == idAttempts {
			return fmt.Errorf("no free id after %d attempts: %w", attempt, err)
		}
		u.logger.Warn("file id collision, retrying", "id", rec.ID, "attempt", attempt)
		id, err := u.newID()
		if err != nil {
			return fmt.Errorf("generate id: %w", err)
		}
		rec.ID = id
	}
}

// compensate deletes a blob whose record could not be written. A failed delete
// is parked in the orphan outbox for the sweeper.
func (u *Uploader) compensate(key string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
	defer cancel()

	err := u.blobs.Delete(ctx, key)
	if err == nil {
		compensationsTotal.WithLabelValues("deleted").Inc()
		return
	}
	compensationsTotal.WithLabelValues("failed").Inc()
	u.logger.Error("compensating delete failed", "key", key, "error", err)

	orphan := &Orphan{
		StorageRef: key,
		Reason:     "metadata insert failed: " + cause.Error(),
		CreatedAt:  u.now().UTC(),
	}
	if err := u.store.AddOrphan(ctx, orphan); err != nil {
		u.logger.Error("orphan blob not recorded; reconciliation required", "key", key, "error", err)
	}
}

func (u *Uploader) objectKey(f *StagedFile) string {
	ext := strings.ToLower(filepath.Ext(f.OriginalName))
	if !extPattern.MatchString(ext) {
		ext = ""
	}
	return path.Join(u.opts.Prefix, f.Category.Namespace(), uuid.NewString()+ext)
}

func contentType(f *StagedFile) string {
	if f.ContentType != "" {
		return f.ContentType
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(f.OriginalName))); t != "" {
		return t
	}
	return "application/octet-stream"
}

func releaseAll(files []*StagedFile, logger *slog.Logger) {
	for _, f := range files {
		if err := f.Release(); err != nil {
			logger.Error("release staged file", "path", f.Path(), "error", err)
		}
	}
}
