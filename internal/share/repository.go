package share

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, code, original_name, category, storage_ref, public_url, expires_at, created_at`

// PostgresStore keeps records in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore with the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO files (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Code, rec.OriginalName, string(rec.Category),
		rec.StorageRef, rec.PublicURL, rec.ExpiresAt, rec.CreatedAt,
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert file %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM files WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete file %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM files
		 WHERE expires_at < $1
		 ORDER BY expires_at
		 LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired files: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired file: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) HasStorageRef(ctx context.Context, ref string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM files WHERE storage_ref = $1)`, ref,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup storage ref: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) AddOrphan(ctx context.Context, o *Orphan) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO orphan_blobs (storage_ref, reason, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (storage_ref) DO NOTHING`,
		o.StorageRef, o.Reason, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add orphan blob: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOrphans(ctx context.Context, limit int) ([]*Orphan, error) {
	rows, err := s.db.Query(ctx,
		`SELECT storage_ref, reason, attempts, last_error, created_at
		 FROM orphan_blobs
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list orphan blobs: %w", err)
	}
	defer rows.Close()

	var out []*Orphan
	for rows.Next() {
		o := &Orphan{}
		if err := rows.Scan(&o.StorageRef, &o.Reason, &o.Attempts, &o.LastError, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan orphan blob: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteOrphan(ctx context.Context, ref string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM orphan_blobs WHERE storage_ref = $1`, ref); err != nil {
		return fmt.Errorf("delete orphan blob: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkOrphanAttempt(ctx context.Context, ref, lastErr string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE orphan_blobs SET attempts = attempts + 1, last_error = $2 WHERE storage_ref = $1`,
		ref, lastErr,
	)
	if err != nil {
		return fmt.Errorf("mark orphan attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func scanRecord(row pgx.Row) (*Record, error) {
	rec := &Record{}
	var category string
	err := row.Scan(&rec.ID, &rec.Code, &rec.OriginalName, &category,
		&rec.StorageRef, &rec.PublicURL, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Category = Category(category)
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

// isPrimaryKeyViolation reports a unique_violation (23505) on the files primary key.
func isPrimaryKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "files_pkey"
}
