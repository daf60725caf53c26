package share

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps records in a single SQLite file. Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLiteStore on an already migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Code, rec.OriginalName, string(rec.Category),
		rec.StorageRef, rec.PublicURL, rec.ExpiresAt.UnixMilli(), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert file %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanSQLiteRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM files WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM files
		 WHERE expires_at < ?
		 ORDER BY expires_at
		 LIMIT ?`,
		before.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired files: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired file: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteStore) HasStorageRef(ctx context.Context, ref string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM files WHERE storage_ref = ?)`, ref,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup storage ref: %w", err)
	}
	return exists, nil
}

func (s *SQLiteStore) AddOrphan(ctx context.Context, o *Orphan) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO orphan_blobs (storage_ref, reason, created_at) VALUES (?, ?, ?)`,
		o.StorageRef, o.Reason, o.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("add orphan blob: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListOrphans(ctx context.Context, limit int) ([]*Orphan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT storage_ref, reason, attempts, last_error, created_at
		 FROM orphan_blobs
		 ORDER BY created_at
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list orphan blobs: %w", err)
	}
	defer rows.Close()

	var out []*Orphan
	for rows.Next() {
		o := &Orphan{}
		var created int64
		if err := rows.Scan(&o.StorageRef, &o.Reason, &o.Attempts, &o.LastError, &created); err != nil {
			return nil, fmt.Errorf("scan orphan blob: %w", err)
		}
		o.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteOrphan(ctx context.Context, ref string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM orphan_blobs WHERE storage_ref = ?`, ref); err != nil {
		return fmt.Errorf("delete orphan blob: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkOrphanAttempt(ctx context.Context, ref, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE orphan_blobs SET attempts = attempts + 1, last_error = ? WHERE storage_ref = ?`,
		lastErr, ref,
	)
	if err != nil {
		return fmt.Errorf("mark orphan attempt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*Record, error) {
	rec := &Record{}
	var category string
	var expires, created int64
	err := row.Scan(&rec.ID, &rec.Code, &rec.OriginalName, &category,
		&rec.StorageRef, &rec.PublicURL, &expires, &created)
	if err != nil {
		return nil, err
	}
	rec.Category = Category(category)
	rec.ExpiresAt = time.UnixMilli(expires).UTC()
	rec.CreatedAt = time.UnixMilli(created).UTC()
	return rec, nil
}
