package share

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"
	"time"
)

// Metadata is the public view of a file, safe to show without the code.
type Metadata struct {
	ID        string
	FileName  string
	ExpiresAt time.Time
}

// Access is what a correct code unlocks.
type Access struct {
	URL      string
	FileName string
}

// Gateway answers retrieval requests. Both operations are read-only.
type Gateway struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewGateway(store Store, logger *slog.Logger) *Gateway {
	return &Gateway{
		store:  store,
		logger: logger.With("component", "gateway"),
		now:    time.Now,
	}
}

// Resolve returns the public metadata of an active file.
func (g *Gateway) Resolve(ctx context.Context, id string) (*Metadata, error) {
	rec, err := g.lookup(ctx, id)
	retrievalsTotal.WithLabelValues("resolve", outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	return &Metadata{ID: rec.ID, FileName: rec.OriginalName, ExpiresAt: rec.ExpiresAt}, nil
}

// Verify checks code against the file's shared code and returns its URL on a match.
// Surrounding whitespace in code is ignored.
func (g *Gateway) Verify(ctx context.Context, id, code string) (*Access, error) {
	acc, err := g.verify(ctx, id, code)
	retrievalsTotal.WithLabelValues("verify", outcome(err)).Inc()
	return acc, err
}

func (g *Gateway) verify(ctx context.Context, id, code string) (*Access, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrMissingCode
	}

	rec, err := g.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(rec.Code)) != 1 {
		g.logger.Info("code mismatch", "id", id)
		return nil, ErrInvalidCode
	}
	return &Access{URL: rec.PublicURL, FileName: rec.OriginalName}, nil
}

func (g *Gateway) lookup(ctx context.Context, id string) (*Record, error) {
	if !ValidID(id) {
		return nil, ErrInvalidID
	}
	rec, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Expired(g.now()) {
		return nil, ErrExpired
	}
	return rec, nil
}
