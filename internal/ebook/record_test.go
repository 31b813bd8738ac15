package ebook_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ogreclient/internal/ebook"
)

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.epub")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	hash, size, err := ebook.Fingerprint(path)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if hash != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("hash = %q", hash)
	}
	if size != 11 {
		t.Errorf("size = %d, want 11", size)
	}
}

func TestFingerprintMissingFile(t *testing.T) {
	_, _, err := ebook.Fingerprint(filepath.Join(t.TempDir(), "gone.mobi"))
	var missing *ebook.MissingFileError
	if !errors.As(err, &missing) {
		t.Fatalf("want MissingFileError, got %v", err)
	}
}

func TestNewDefaultsFormatFromExtension(t *testing.T) {
	rec := ebook.New("/library/book.AZW3", "", "kindle")
	if rec.Format != "AZW3" {
		t.Errorf("format = %q", rec.Format)
	}
	if rec.Source() != "kindle" {
		t.Errorf("source = %q", rec.Source())
	}

	rec = ebook.New("/library/book.bin", "epub", "home")
	if rec.Format != "epub" {
		t.Errorf("explicit format = %q", rec.Format)
	}
}

func TestSafeNameAndShortPath(t *testing.T) {
	rec := ebook.New("/library/sub/alice.epub", "", "home")
	rec.FileHash = "d41d8cd98f00b204e9800998ecf8427e"
	if got := rec.SafeName(); got != "d41d8cd98f00b204e9800998ecf8427e.epub" {
		t.Errorf("SafeName = %q", got)
	}
	if got := rec.ShortPath("/library"); got != filepath.Join("sub", "alice.epub") {
		t.Errorf("ShortPath = %q", got)
	}
	if got := rec.ShortPath("/elsewhere"); got != "/library/sub/alice.epub" {
		t.Errorf("ShortPath outside root = %q", got)
	}
}

func TestSerializeVariants(t *testing.T) {
	rec := ebook.New("/library/alice.epub", "", "home")
	rec.FileHash = "abc123"
	rec.Size = 42
	rec.DRMFree = true
	rec.EbookID = "9"
	rec.Meta["title"] = "Alice's Adventures in Wonderland"
	rec.Meta["firstname"] = "Lewis"
	rec.Meta["lastname"] = "Carroll"
	rec.BuildAuthorTitle()

	wire := rec.Serialize()
	if wire.FileHash != "abc123" || wire.AuthorTitle != "" {
		t.Errorf("transport payload: hash=%q authortitle=%q", wire.FileHash, wire.AuthorTitle)
	}
	if !wire.DeDRM || wire.EbookID != "9" {
		t.Errorf("transport payload: dedrm=%v ebook_id=%q", wire.DeDRM, wire.EbookID)
	}

	cached := rec.SerializeForCache()
	if cached.FileHash != "" || cached.AuthorTitle != rec.AuthorTitle {
		t.Errorf("cache payload: hash=%q authortitle=%q", cached.FileHash, cached.AuthorTitle)
	}

	back := ebook.FromPayload(rec.Path, rec.FileHash, rec.DRMFree, false, cached)
	if !back.InCache {
		t.Error("FromPayload should mark the record cached")
	}
	if back.AuthorTitle != rec.AuthorTitle || back.EbookID != "9" || back.Meta["title"] != rec.Meta["title"] {
		t.Errorf("round-trip mismatch: %+v", back)
	}
}
