package share

import (
	"context"
	"errors"
	"testing"
	"time"
)

// exerciseStore runs the behaviour every Store backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}

	rec := &Record{
		ID:           "aB3xY9",
		Code:         "0042",
		OriginalName: "beach.png",
		Category:     CategoryImage,
		StorageRef:   "drop-lite/images/beach.png",
		PublicURL:    "http://cdn.test/beach.png",
		ExpiresAt:    testNow.Add(time.Hour).Add(123 * time.Millisecond),
		CreatedAt:    testNow,
	}
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	got, err := store.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != rec.ID || got.Code != rec.Code || got.OriginalName != rec.OriginalName ||
		got.Category != rec.Category || got.StorageRef != rec.StorageRef || got.PublicURL != rec.PublicURL {
		t.Errorf("Get() = %+v, want %+v", got, rec)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("timestamps = %v / %v, want %v / %v", got.ExpiresAt, got.CreatedAt, rec.ExpiresAt, rec.CreatedAt)
	}

	if _, err := store.Get(ctx, "nope00"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	dup := *rec
	dup.StorageRef = "drop-lite/images/other.png"
	if err := store.Insert(ctx, &dup); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Insert(duplicate id) error = %v, want ErrDuplicateID", err)
	}

	ok, err := store.HasStorageRef(ctx, rec.StorageRef)
	if err != nil || !ok {
		t.Errorf("HasStorageRef(existing) = %v, %v", ok, err)
	}
	ok, err = store.HasStorageRef(ctx, "drop-lite/images/none.png")
	if err != nil || ok {
		t.Errorf("HasStorageRef(unknown) = %v, %v", ok, err)
	}

	old := &Record{
		ID: "old000", Code: "1111", OriginalName: "old.mp4", Category: CategoryVideo,
		StorageRef: "drop-lite/videos/old.mp4", PublicURL: "http://cdn.test/old.mp4",
		ExpiresAt: testNow.Add(-time.Hour), CreatedAt: testNow.Add(-8 * 24 * time.Hour),
	}
	if err := store.Insert(ctx, old); err != nil {
		t.Fatalf("Insert(old) error: %v", err)
	}
	expired, err := store.ListExpired(ctx, testNow, 10)
	if err != nil {
		t.Fatalf("ListExpired() error: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "old000" || expired[0].Category != CategoryVideo {
		t.Errorf("ListExpired() = %+v, want only old000", expired)
	}

	if err := store.Delete(ctx, "old000"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := store.Delete(ctx, "old000"); err != nil {
		t.Errorf("Delete(missing) error: %v", err)
	}
	if _, err := store.Get(ctx, "old000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
	}

	orphan := &Orphan{StorageRef: "drop-lite/images/lost.jpg", Reason: "metadata insert failed", CreatedAt: testNow}
	if err := store.AddOrphan(ctx, orphan); err != nil {
		t.Fatalf("AddOrphan() error: %v", err)
	}
	if err := store.AddOrphan(ctx, orphan); err != nil {
		t.Fatalf("AddOrphan(again) error: %v", err)
	}
	if err := store.MarkOrphanAttempt(ctx, orphan.StorageRef, "bucket offline"); err != nil {
		t.Fatalf("MarkOrphanAttempt() error: %v", err)
	}
	orphans, err := store.ListOrphans(ctx, 10)
	if err != nil {
		t.Fatalf("ListOrphans() error: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("ListOrphans() = %d entries, want 1", len(orphans))
	}
	if o := orphans[0]; o.Attempts != 1 || o.LastError != "bucket offline" || o.Reason != orphan.Reason {
		t.Errorf("orphan = %+v", o)
	}
	if err := store.DeleteOrphan(ctx, orphan.StorageRef); err != nil {
		t.Fatalf("DeleteOrphan() error: %v", err)
	}
	if orphans, _ := store.ListOrphans(ctx, 10); len(orphans) != 0 {
		t.Errorf("orphans after delete = %+v", orphans)
	}
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, newSQLiteStore(t))
}
