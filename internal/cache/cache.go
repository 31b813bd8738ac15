// Package cache persists scan results between runs so unchanged files skip
// metadata extraction. Entries are keyed by absolute path with the content
// hash stored alongside; a hash mismatch on lookup is the caller's staleness
// signal.
package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ogreclient/internal/ebook"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store is the sqlite-backed scan cache.
type Store struct {
	db      *sql.DB
	path    string
	created bool
}

// Open connects to the cache database at path, creating it (and its parent
// directory) on first use.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	_, statErr := os.Stat(path)
	created := errors.Is(statErr, os.ErrNotExist)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, created: created}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the cache file location.
func (s *Store) Path() string {
	return s.path
}

// Verify reports whether this open created a fresh cache. A fresh cache means
// the first scan will be slow; callers use this for messaging only.
func (s *Store) Verify() bool {
	return s.created
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create cache schema: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: cache has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

// Get loads the cached record for path. Returns ErrCacheMiss when the path
// has never been stored.
func (s *Store) Get(ctx context.Context, path string) (*ebook.Record, error) {
	ctx = ensureContext(ctx)
	var (
		fileHash string
		ebookID  sql.NullString
		data     string
		drmfree  int
		skip     int
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT file_hash, ebook_id, data, drmfree, skip FROM ebooks WHERE path = ?", path,
	).Scan(&fileHash, &ebookID, &data, &drmfree, &skip)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup %s: %w", path, err)
	}

	var payload ebook.Payload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("decode cached record %s: %w", path, err)
	}
	rec := ebook.FromPayload(path, fileHash, drmfree == 1, skip == 1, payload)
	if ebookID.Valid && ebookID.String != "" {
		rec.EbookID = ebookID.String
	}
	return rec, nil
}

// Store upserts the record by path. A catalog id already cached for a
// different path yields a DuplicateIDError and the row is left untouched.
func (s *Store) Store(ctx context.Context, rec *ebook.Record) error {
	ctx = ensureContext(ctx)
	if rec.EbookID != "" {
		var existing string
		err := s.db.QueryRowContext(ctx,
			"SELECT path FROM ebooks WHERE ebook_id = ? AND path <> ?", rec.EbookID, rec.Path,
		).Scan(&existing)
		if err == nil {
			return &DuplicateIDError{EbookID: rec.EbookID, Path: rec.Path, ExistingPath: existing}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check catalog id %s: %w", rec.EbookID, err)
		}
	}

	data, err := json.Marshal(rec.SerializeForCache())
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.Path, err)
	}
	return s.execWithRetry(ctx, `
INSERT INTO ebooks (path, file_hash, ebook_id, data, drmfree, skip, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
    file_hash = excluded.file_hash,
    ebook_id = excluded.ebook_id,
    data = excluded.data,
    drmfree = excluded.drmfree,
    skip = excluded.skip,
    updated_at = excluded.updated_at`,
		rec.Path, rec.FileHash, nullable(rec.EbookID), string(data),
		boolInt(rec.DRMFree), boolInt(rec.Skip), time.Now().UTC().Format(time.RFC3339))
}

// FieldUpdate is a partial update; nil fields are left unchanged.
type FieldUpdate struct {
	FileHash *string
	EbookID  *string
	DRMFree  *bool
	Skip     *bool
}

// UpdateFields patches individual columns without a full record round-trip.
func (s *Store) UpdateFields(ctx context.Context, path string, upd FieldUpdate) error {
	ctx = ensureContext(ctx)
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)
	if upd.FileHash != nil {
		sets = append(sets, "file_hash = ?")
		args = append(args, *upd.FileHash)
	}
	if upd.EbookID != nil {
		sets = append(sets, "ebook_id = ?")
		args = append(args, nullable(*upd.EbookID))
	}
	if upd.DRMFree != nil {
		sets = append(sets, "drmfree = ?")
		args = append(args, boolInt(*upd.DRMFree))
	}
	if upd.Skip != nil {
		sets = append(sets, "skip = ?")
		args = append(args, boolInt(*upd.Skip))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Format(time.RFC3339), path)

	query := "UPDATE ebooks SET " + strings.Join(sets, ", ") + " WHERE path = ?"
	return s.execWithRetry(ctx, query, args...)
}

// Count returns the number of cached entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM ebooks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cache entries: %w", err)
	}
	return n, nil
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
