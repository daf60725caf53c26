package share

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedRecord(t *testing.T, store Store, id, code string, expiresAt time.Time) *Record {
	t.Helper()
	rec := &Record{
		ID:           id,
		Code:         code,
		OriginalName: "photo-" + id + ".jpg",
		Category:     CategoryImage,
		StorageRef:   "drop-lite/images/" + id + ".jpg",
		PublicURL:    "http://cdn.test/media/drop-lite/images/" + id + ".jpg",
		ExpiresAt:    expiresAt,
		CreatedAt:    expiresAt.Add(-7 * 24 * time.Hour),
	}
	if err := store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("Insert(%q) error: %v", id, err)
	}
	return rec
}

func newTestGateway(store Store, now time.Time) *Gateway {
	g := NewGateway(store, discardLogger())
	g.now = func() time.Time { return now }
	return g
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	rec := seedRecord(t, store, "abc123", "0427", testNow.Add(time.Hour))
	g := newTestGateway(store, testNow)

	meta, err := g.Resolve(ctx, "abc123")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if meta.ID != rec.ID || meta.FileName != rec.OriginalName || !meta.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("Resolve() = %+v, want data of %+v", meta, rec)
	}

	// Repeated calls return the same answer and leave the record untouched.
	again, err := g.Resolve(ctx, "abc123")
	if err != nil || again.ID != meta.ID || again.FileName != meta.FileName || !again.ExpiresAt.Equal(meta.ExpiresAt) {
		t.Errorf("second Resolve() = %+v, %v", again, err)
	}
	stored, _ := store.Get(ctx, "abc123")
	if stored.Code != rec.Code || !stored.ExpiresAt.Equal(rec.ExpiresAt) || stored.PublicURL != rec.PublicURL {
		t.Errorf("record changed by Resolve: %+v", stored)
	}

	if _, err := g.Resolve(ctx, "zzz999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestExpiryBoundary(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	expiresAt := testNow.Add(7 * 24 * time.Hour)
	seedRecord(t, store, "edge01", "1111", expiresAt)

	tests := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{"one second before", expiresAt.Add(-time.Second), nil},
		{"at expiry", expiresAt, nil},
		{"one second after", expiresAt.Add(time.Second), ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(store, tt.now)

			_, err := g.Resolve(ctx, "edge01")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.wantErr)
			}
			_, err = g.Verify(ctx, "edge01", "1111")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	rec := seedRecord(t, store, "Xy7Kq2", "0427", testNow.Add(time.Hour))
	g := newTestGateway(store, testNow)

	tests := []struct {
		name    string
		id      string
		code    string
		wantErr error
	}{
		{"exact code", "Xy7Kq2", "0427", nil},
		{"surrounding whitespace", "Xy7Kq2", "  0427\n", nil},
		{"wrong code", "Xy7Kq2", "0428", ErrInvalidCode},
		{"code without leading zero", "Xy7Kq2", "427", ErrInvalidCode},
		{"longer code", "Xy7Kq2", "04270", ErrInvalidCode},
		{"non-digit code", "Xy7Kq2", "abcd", ErrInvalidCode},
		{"empty code", "Xy7Kq2", "", ErrMissingCode},
		{"blank code", "Xy7Kq2", "   ", ErrMissingCode},
		{"unknown id", "Qq1Qq1", "0427", ErrNotFound},
		{"bad id", "Xy7", "0427", ErrInvalidID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := g.Verify(ctx, tt.id, tt.code)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && (acc.URL != rec.PublicURL || acc.FileName != rec.OriginalName) {
				t.Errorf("Verify() = %+v, want url %q", acc, rec.PublicURL)
			}
		})
	}
}

func TestInvalidIDNeverReachesStore(t *testing.T) {
	store := &faultyStore{Store: newSQLiteStore(t)}
	g := newTestGateway(store, testNow)

	for _, id := range []string{"", "abc", "abcdefg", "abc$12", "../etc", "ab cd1", "ÄÖÜäöü"} {
		if _, err := g.Resolve(context.Background(), id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Resolve(%q) error = %v, want ErrInvalidID", id, err)
		}
		if _, err := g.Verify(context.Background(), id, "1234"); !errors.Is(err, ErrInvalidID) {
			t.Errorf("Verify(%q) error = %v, want ErrInvalidID", id, err)
		}
	}
	if n := store.getCalls.Load(); n != 0 {
		t.Errorf("store queried %d times for malformed ids", n)
	}
}

func TestVerifyThroughCacheStillExpires(t *testing.T) {
	ctx := context.Background()
	store := NewCachedStore(newSQLiteStore(t), 16, time.Hour)
	expiresAt := testNow.Add(time.Minute)
	seedRecord(t, store, "cache1", "2468", expiresAt)

	if _, err := newTestGateway(store, testNow).Verify(ctx, "cache1", "2468"); err != nil {
		t.Fatalf("Verify() before expiry error: %v", err)
	}
	if _, err := newTestGateway(store, expiresAt.Add(time.Second)).Verify(ctx, "cache1", "2468"); !errors.Is(err, ErrExpired) {
		t.Fatalf("Verify() after expiry error = %v, want ErrExpired", err)
	}
}
