package cache

import (
	"errors"
	"fmt"
)

// ErrCacheMiss signals the path has never been scanned; the caller performs a
// full extraction.
var ErrCacheMiss = errors.New("cache miss")

// ErrSchemaMismatch indicates the cache file was written by an incompatible
// version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// DuplicateIDError reports a catalog id already claimed by a different path.
// Callers surface this as a warning; it never aborts a scan.
type DuplicateIDError struct {
	EbookID      string
	Path         string
	ExistingPath string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("ebook id %s already cached for %s (storing %s)", e.EbookID, e.ExistingPath, e.Path)
}
