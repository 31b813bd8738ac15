package cache_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"ogreclient/internal/cache"
	"ogreclient/internal/ebook"
)

func openStore(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "ebook_cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecord(path string) *ebook.Record {
	rec := ebook.New(path, "", "home")
	rec.FileHash = "abc123"
	rec.Size = 42
	rec.Meta["title"] = "Alice's Adventures in Wonderland"
	rec.Meta["firstname"] = "Lewis"
	rec.Meta["lastname"] = "Carroll"
	rec.BuildAuthorTitle()
	return rec
}

func TestGetMiss(t *testing.T) {
	store := openStore(t)
	_, err := store.Get(context.Background(), "/library/unknown.epub")
	if !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatalf("want ErrCacheMiss, got %v", err)
	}
}

func TestStoreAndGetRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rec := sampleRecord("/library/alice.epub")
	rec.DRMFree = true

	if err := store.Store(ctx, rec); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := store.Get(ctx, rec.Path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FileHash != "abc123" || !got.DRMFree || got.Skip {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if !got.InCache {
		t.Error("record from cache should be marked InCache")
	}
	if got.AuthorTitle != rec.AuthorTitle {
		t.Errorf("authortitle = %q, want %q", got.AuthorTitle, rec.AuthorTitle)
	}
	if got.Meta["title"] != rec.Meta["title"] {
		t.Errorf("meta title = %q", got.Meta["title"])
	}
}

func TestStoreUpserts(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rec := sampleRecord("/library/alice.epub")
	if err := store.Store(ctx, rec); err != nil {
		t.Fatalf("first store: %v", err)
	}

	rec.FileHash = "def456"
	rec.Skip = true
	if err := store.Store(ctx, rec); err != nil {
		t.Fatalf("second store: %v", err)
	}
	got, err := store.Get(ctx, rec.Path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FileHash != "def456" || !got.Skip {
		t.Errorf("upsert not applied: %+v", got)
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestStoreRejectsDuplicateCatalogID(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first := sampleRecord("/library/alice.epub")
	first.EbookID = "42"
	if err := store.Store(ctx, first); err != nil {
		t.Fatalf("store first: %v", err)
	}

	second := sampleRecord("/library/alice-copy.epub")
	second.EbookID = "42"
	err := store.Store(ctx, second)
	var dup *cache.DuplicateIDError
	if !errors.As(err, &dup) {
		t.Fatalf("want DuplicateIDError, got %v", err)
	}
	if dup.ExistingPath != "/library/alice.epub" {
		t.Errorf("existing path = %q", dup.ExistingPath)
	}

	// Same path with same id must still upsert cleanly.
	if err := store.Store(ctx, first); err != nil {
		t.Fatalf("re-store same path: %v", err)
	}
}

func TestUpdateFields(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	rec := sampleRecord("/library/alice.epub")
	if err := store.Store(ctx, rec); err != nil {
		t.Fatalf("store: %v", err)
	}

	newHash := "fresh00"
	id := "42"
	drmfree := true
	if err := store.UpdateFields(ctx, rec.Path, cache.FieldUpdate{
		FileHash: &newHash,
		EbookID:  &id,
		DRMFree:  &drmfree,
	}); err != nil {
		t.Fatalf("update fields: %v", err)
	}

	got, err := store.Get(ctx, rec.Path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FileHash != "fresh00" || got.EbookID != "42" || !got.DRMFree {
		t.Errorf("partial update not applied: %+v", got)
	}
	if got.Skip {
		t.Error("skip should be untouched")
	}
}

func TestVerifyTrueOnlyOnCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ebook_cache.db")

	store, err := cache.Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if !store.Verify() {
		t.Error("fresh cache should verify true")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = cache.Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer store.Close()
	if store.Verify() {
		t.Error("existing cache should verify false")
	}
}
