// Package scanner walks the active providers, extracts metadata (cache
// first), and deduplicates the results into one session working set.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"ogreclient/internal/cache"
	"ogreclient/internal/config"
	"ogreclient/internal/ebook"
	"ogreclient/internal/providers"
)

// ErrNoCandidates aborts the sync: not one file matched the configured
// formats across all providers.
var ErrNoCandidates = errors.New("no ebooks found in any provider")

// DuplicateError records a discarded duplicate; it never aborts a scan.
type DuplicateError struct {
	Path         string
	ExistingPath string
	Reason       string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate ebook %s (%s, kept %s)", e.Path, e.Reason, e.ExistingPath)
}

// FileError attributes an extraction failure to its record, so later phases
// can attach the offending file to diagnostics.
type FileError struct {
	Record *ebook.Record
	Err    error
}

func (e *FileError) Error() string { return e.Err.Error() }

func (e *FileError) Unwrap() error { return e.Err }

// Extractor produces the metadata tool's raw output for a file.
type Extractor interface {
	ExtractMeta(ctx context.Context, path string) (string, error)
}

// Result is one scan pass's output. An empty session with no error means
// every candidate was skipped, which callers treat differently from
// ErrNoCandidates.
type Result struct {
	Session *ebook.Session
	Errors  []error
	Skipped int
	Total   int
}

// Scanner drives candidate discovery and extraction.
type Scanner struct {
	cfg       *config.Config
	store     *cache.Store
	extractor Extractor
	logger    *slog.Logger

	// Progress, when set, is called once per processed candidate.
	Progress func()
}

// New wires a scanner.
func New(cfg *config.Config, store *cache.Store, extractor Extractor, logger *slog.Logger) *Scanner {
	return &Scanner{
		cfg:       cfg,
		store:     store,
		extractor: extractor,
		logger:    logger.With(slog.String("component", "scanner")),
	}
}

type candidate struct {
	path   string
	source string
}

type processed struct {
	rec     *ebook.Record
	err     error
	skipped bool
}

// Scan enumerates all providers and returns the deduplicated session.
// skipCache forces fresh extraction for every candidate.
func (s *Scanner) Scan(ctx context.Context, active []providers.Provider, skipCache bool) (*Result, error) {
	candidates, err := s.enumerate(ctx, active)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	s.logger.Info("scan started",
		slog.Int("candidates", len(candidates)),
		slog.Int("providers", len(active)))

	items := s.process(ctx, candidates, skipCache)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{Session: ebook.NewSession(), Total: len(candidates)}
	for _, item := range items {
		s.merge(ctx, item, result)
	}

	s.logger.Info("scan finished",
		slog.Int("kept", result.Session.Len()),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", len(result.Errors)))
	return result, nil
}

// enumerate collects candidate paths from every provider. A file qualifies
// when its extension (without the dot) is a configured format and its name is
// not hidden.
func (s *Scanner) enumerate(ctx context.Context, active []providers.Provider) ([]candidate, error) {
	match := func(name string) bool {
		if strings.HasPrefix(name, ".") {
			return false
		}
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		return ext != "" && s.cfg.HasFormat(ext)
	}

	var candidates []candidate
	seen := map[string]bool{}
	for _, provider := range active {
		paths, err := provider.Enumerate(ctx, match)
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			if seen[path] {
				continue
			}
			seen[path] = true
			candidates = append(candidates, candidate{path: path, source: provider.Name()})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].path < candidates[j].path })
	return candidates, nil
}

// process runs fingerprinting and extraction over the candidates with a
// bounded worker pool. Output order matches candidate order, so the dedup
// pass stays deterministic regardless of worker count.
func (s *Scanner) process(ctx context.Context, candidates []candidate, skipCache bool) []processed {
	workers := s.cfg.Scan.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	items := make([]processed, len(candidates))
	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				items[i] = s.processOne(ctx, candidates[i], skipCache)
				if s.Progress != nil {
					s.Progress()
				}
			}
		}()
	}
	for i := range candidates {
		if ctx.Err() != nil {
			break
		}
		indexes <- i
	}
	close(indexes)
	wg.Wait()
	return items
}

func (s *Scanner) processOne(ctx context.Context, cand candidate, skipCache bool) processed {
	if !skipCache {
		if item, ok := s.fromCache(ctx, cand); ok {
			return item
		}
	}
	return s.extract(ctx, cand)
}

// fromCache resolves a candidate against the scan cache. A cached row only
// counts when the file's current hash still matches; anything else falls
// through to fresh extraction.
func (s *Scanner) fromCache(ctx context.Context, cand candidate) (processed, bool) {
	cached, err := s.store.Get(ctx, cand.path)
	if errors.Is(err, cache.ErrCacheMiss) {
		return processed{}, false
	}
	if err != nil {
		s.logger.Warn("cache lookup failed",
			slog.String("path", cand.path),
			slog.String("error", err.Error()))
		return processed{}, false
	}

	hash, size, err := ebook.Fingerprint(cand.path)
	if err != nil {
		return processed{err: err, skipped: true}, true
	}
	if hash != cached.FileHash {
		return processed{}, false
	}
	if cached.Skip {
		return processed{skipped: true}, true
	}
	cached.Size = size
	cached.Meta["source"] = cand.source
	return processed{rec: cached}, true
}

func (s *Scanner) extract(ctx context.Context, cand candidate) processed {
	rec := ebook.New(cand.path, "", cand.source)
	if err := rec.ComputeFingerprint(); err != nil {
		return processed{err: err, skipped: true}
	}

	out, err := s.extractor.ExtractMeta(ctx, cand.path)
	if err == nil {
		err = rec.ApplyToolOutput(out)
	}
	if err != nil {
		// Tombstone so the next run does not re-extract a known-bad file.
		rec.Skip = true
		return processed{rec: rec, err: &FileError{Record: rec, Err: err}, skipped: true}
	}
	rec.BuildAuthorTitle()
	return processed{rec: rec}
}

// merge applies dedup rules for one processed candidate and persists the
// record. Precedence: exact hash, then same-format composite key, then
// format-rank tie-break, then insert.
func (s *Scanner) merge(ctx context.Context, item processed, result *Result) {
	if item.err != nil {
		result.Errors = append(result.Errors, item.err)
	}
	if item.rec == nil {
		if item.skipped {
			result.Skipped++
		}
		return
	}
	rec := item.rec
	if item.skipped {
		result.Skipped++
		s.persist(ctx, rec, result)
		return
	}
	session := result.Session

	if existing, ok := session.ByHash[rec.FileHash]; ok {
		result.Errors = append(result.Errors, &DuplicateError{
			Path: rec.Path, ExistingPath: existing.Path, Reason: "identical content",
		})
		result.Skipped++
		rec.Skip = true
		s.persist(ctx, rec, result)
		return
	}

	if existing, ok := session.ByAuthorTitle[rec.AuthorTitle]; ok {
		if existing.Format == rec.Format {
			result.Errors = append(result.Errors, &DuplicateError{
				Path: rec.Path, ExistingPath: existing.Path, Reason: "same edition and format",
			})
			result.Skipped++
			rec.Skip = true
			s.persist(ctx, rec, result)
			return
		}

		incoming, inOK := s.cfg.FormatRank(rec.Format)
		current, curOK := s.cfg.FormatRank(existing.Format)
		if inOK && (!curOK || incoming < current) {
			existing.Skip = true
			s.persist(ctx, existing, result)
			session.Replace(existing, rec)
			s.persist(ctx, rec, result)
			return
		}
		rec.Skip = true
		result.Skipped++
		s.persist(ctx, rec, result)
		return
	}

	session.Insert(rec)
	s.persist(ctx, rec, result)
}

func (s *Scanner) persist(ctx context.Context, rec *ebook.Record, result *Result) {
	if err := s.store.Store(ctx, rec); err != nil {
		var dup *cache.DuplicateIDError
		if errors.As(err, &dup) {
			result.Errors = append(result.Errors, dup)
			return
		}
		result.Errors = append(result.Errors, fmt.Errorf("cache store %s: %w", rec.Path, err))
	}
}
