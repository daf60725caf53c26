package share

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync/atomic"
)

// StagedFile is an uploaded part spooled to temporary local storage.
type StagedFile struct {
	Category     Category
	OriginalName string
	ContentType  string
	Size         int64

	path     string
	released atomic.Bool
}

// Stage copies r into a new temp file under dir. It fails with ErrFileTooLarge,
// leaving nothing behind, once more than maxSize bytes have been read.
func Stage(dir string, category Category, name, contentType string, r io.Reader, maxSize int64) (*StagedFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(r, maxSize+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		os.Remove(f.Name())
		return nil, fmt.Errorf("stage %q: %w", name, copyErr)
	case closeErr != nil:
		os.Remove(f.Name())
		return nil, fmt.Errorf("stage %q: %w", name, closeErr)
	case n > maxSize:
		os.Remove(f.Name())
		return nil, fmt.Errorf("%w: %q exceeds %d bytes", ErrFileTooLarge, name, maxSize)
	}

	return &StagedFile{
		Category:     category,
		OriginalName: name,
		ContentType:  contentType,
		Size:         n,
		path:         f.Name(),
	}, nil
}

// Open returns a reader over the staged bytes.
func (f *StagedFile) Open() (*os.File, error) {
	return os.Open(f.path)
}

// Path returns the temp file location.
func (f *StagedFile) Path() string {
	return f.path
}

// Release removes the temp file. It is safe to call more than once.
func (f *StagedFile) Release() error {
	if f.released.Swap(true) {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
