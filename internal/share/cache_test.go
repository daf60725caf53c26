package share

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCachedStoreServesRepeatReads(t *testing.T) {
	ctx := context.Background()
	backing := &faultyStore{Store: newSQLiteStore(t)}
	seedRecord(t, backing, "cache1", "1357", testNow.Add(time.Hour))

	store := NewCachedStore(backing, 8, time.Hour)
	for i := 0; i < 3; i++ {
		rec, err := store.Get(ctx, "cache1")
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		rec.OriginalName = "mutated"
	}
	if n := backing.getCalls.Load(); n != 1 {
		t.Errorf("backing store hit %d times, want 1", n)
	}

	rec, _ := store.Get(ctx, "cache1")
	if rec.OriginalName == "mutated" {
		t.Error("caller mutation leaked into the cache")
	}
}

func TestCachedStoreDoesNotCacheMisses(t *testing.T) {
	ctx := context.Background()
	backing := &faultyStore{Store: newSQLiteStore(t)}
	store := NewCachedStore(backing, 8, time.Hour)

	if _, err := store.Get(ctx, "later1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	seedRecord(t, backing, "later1", "1357", testNow.Add(time.Hour))

	if _, err := store.Get(ctx, "later1"); err != nil {
		t.Fatalf("Get() after insert error: %v", err)
	}
}

func TestCachedStoreDeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	store := NewCachedStore(newSQLiteStore(t), 8, time.Hour)
	seedRecord(t, store, "gone01", "1357", testNow.Add(time.Hour))

	if _, err := store.Get(ctx, "gone01"); err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if err := store.Delete(ctx, "gone01"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(ctx, "gone01"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestNewCachedStoreDisabled(t *testing.T) {
	backing := newSQLiteStore(t)
	if got := NewCachedStore(backing, 0, time.Hour); got != Store(backing) {
		t.Errorf("NewCachedStore(size 0) = %T, want the backing store", got)
	}
}
