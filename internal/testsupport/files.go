package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"ogreclient/internal/cache"
	"ogreclient/internal/ebook"
)

// WriteEbook creates a fixture file under dir and returns its path.
func WriteEbook(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// ToolOutput renders metadata tool output for an author/title pair.
func ToolOutput(author, title string) string {
	return fmt.Sprintf("Title               : %s\nAuthor(s)           : %s\n", title, author)
}

// MustOpenCache opens a scan cache in a per-test temp location.
func MustOpenCache(t testing.TB) *cache.Store {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "ebook_cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// NewRecord builds a fingerprinted record for an on-disk fixture.
func NewRecord(t testing.TB, path, author, title string) *ebook.Record {
	t.Helper()
	rec := ebook.New(path, "", "home")
	if err := rec.ComputeFingerprint(); err != nil {
		t.Fatalf("fingerprint %s: %v", path, err)
	}
	if err := rec.ApplyToolOutput(ToolOutput(author, title)); err != nil {
		t.Fatalf("apply metadata: %v", err)
	}
	rec.BuildAuthorTitle()
	return rec
}
