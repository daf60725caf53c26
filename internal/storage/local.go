package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps blobs under a directory on disk. Objects are served by
// Handler, mounted at the path of publicBase.
type LocalStorage struct {
	baseDir    string
	publicBase string
}

// NewLocalStorage creates baseDir if needed.
func NewLocalStorage(baseDir, publicBase string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &LocalStorage{
		baseDir:    baseDir,
		publicBase: strings.TrimRight(publicBase, "/"),
	}, nil
}

// Upload writes to a hidden temp file and renames it into place, so a failed
// copy never leaves a partial object visible to List.
func (s *LocalStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	dst, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	written, err := io.Copy(tmp, readerWithContext(ctx, reader))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if size >= 0 && written != size {
		return fmt.Errorf("write object %q: wrote %d bytes, expected %d", key, written, size)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("commit object %q: %w", key, err)
	}
	return nil
}

// Delete removes the object file.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove object %q: %w", key, err)
	}
	return nil
}

// Exists stats the object file.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %q: %w", key, err)
	}
	return true, nil
}

// List walks baseDir and returns keys with forward slashes, skipping in-flight temp files.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Object{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects %q: %w", prefix, err)
	}
	return out, nil
}

// PublicURL returns publicBase + "/" + key.
func (s *LocalStorage) PublicURL(key string) string {
	return s.publicBase + "/" + key
}

// Handler serves stored objects; mount it with the path prefix stripped.
// Directories answer 404 so object keys cannot be listed.
func (s *LocalStorage) Handler() http.Handler {
	return http.FileServer(objectsOnly{http.Dir(s.baseDir)})
}

// objectsOnly is an http.FileSystem that refuses to open directories.
type objectsOnly struct {
	root http.FileSystem
}

func (o objectsOnly) Open(name string) (http.File, error) {
	f, err := o.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}

func (s *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.baseDir, clean), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
