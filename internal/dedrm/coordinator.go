package dedrm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ogreclient/internal/cache"
	"ogreclient/internal/config"
	"ogreclient/internal/ebook"
)

// maxConsecutiveWrongKey is the circuit-breaker threshold: one more wrong-key
// result and the whole DRM pass aborts.
const maxConsecutiveWrongKey = 3

// ErrStaleKey aborts the DRM pass when the circuit breaker trips. The caller
// decides whether to refresh key material and retry.
var ErrStaleKey = errors.New("decryption key material appears stale")

// Failure records one file's failed decrypt attempt.
type Failure struct {
	Record  *ebook.Record
	Outcome Outcome
	Err     error
}

func (f Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("decrypt %s: %s: %v", f.Record.Path, f.Outcome, f.Err)
	}
	return fmt.Sprintf("decrypt %s: %s", f.Record.Path, f.Outcome)
}

// Tagger writes a replacement tag list into a file's metadata.
type Tagger interface {
	WriteTags(ctx context.Context, path, tags string) error
}

// Coordinator runs the decrypt pass over a session's records.
type Coordinator struct {
	cfg       *config.Config
	decryptor Decryptor
	tagger    Tagger
	store     *cache.Store
	logger    *slog.Logger
}

// NewCoordinator wires the decrypt pass.
func NewCoordinator(cfg *config.Config, decryptor Decryptor, tagger Tagger, store *cache.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		decryptor: decryptor,
		tagger:    tagger,
		store:     store,
		logger:    logger.With(slog.String("component", "dedrm")),
	}
}

// Run attempts DRM removal for every eligible record, in path order so the
// circuit breaker behaves reproducibly. It returns per-file failures plus
// ErrStaleKey if more than maxConsecutiveWrongKey wrong-key results occur in
// a row; other failures never abort the pass.
func (c *Coordinator) Run(ctx context.Context, session *ebook.Session) ([]Failure, error) {
	c.ensureKeys(ctx)

	var failures []Failure
	consecutiveWrongKey := 0

	for _, rec := range session.Records() {
		if rec.DRMFree || rec.Skip || !c.cfg.IsValidFormat(rec.Format) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return failures, err
		}

		result, err := c.decryptor.Decrypt(ctx, rec.Path, c.cfg.Paths.LibraryDir)
		if err != nil && result.Outcome == OutcomeUnknown {
			failures = append(failures, Failure{Record: rec, Outcome: OutcomeUnknown, Err: err})
			consecutiveWrongKey = 0
			c.markNotDRMFree(ctx, rec)
			continue
		}

		switch result.Outcome {
		case OutcomeNone:
			rec.DRMFree = true
			c.markDRMFree(ctx, rec)
			consecutiveWrongKey = 0

		case OutcomeDecrypted:
			repl, replErr := c.adoptDecrypted(ctx, rec, result.OutputPath)
			if replErr != nil {
				failures = append(failures, Failure{Record: rec, Outcome: OutcomeDecrypted, Err: replErr})
				continue
			}
			session.Replace(rec, repl)
			consecutiveWrongKey = 0
			c.logger.Info("drm removed",
				slog.String("path", rec.Path),
				slog.String("output", repl.Path))

		case OutcomeWrongKey:
			c.markNotDRMFree(ctx, rec)
			failures = append(failures, Failure{Record: rec, Outcome: OutcomeWrongKey})
			consecutiveWrongKey++
			if consecutiveWrongKey > maxConsecutiveWrongKey {
				c.logger.Warn("aborting decrypt pass",
					slog.Int("consecutive_wrong_key", consecutiveWrongKey))
				return failures, ErrStaleKey
			}

		default:
			c.markNotDRMFree(ctx, rec)
			failures = append(failures, Failure{Record: rec, Outcome: result.Outcome})
			consecutiveWrongKey = 0
		}
	}
	return failures, nil
}

// ensureKeys regenerates kindle key material when none is on disk, e.g. on
// first run or after a stale key was removed. Extraction failure is not fatal;
// affected files surface as wrong_key results instead.
func (c *Coordinator) ensureKeys(ctx context.Context) {
	if KindleKeyExists(c.cfg) {
		return
	}
	extractor, ok := c.decryptor.(KeyExtractor)
	if !ok {
		return
	}
	if err := extractor.ExtractKeys(ctx, c.cfg.ConfigDir()); err != nil {
		c.logger.Warn("key extraction failed", slog.String("error", err.Error()))
		return
	}
	c.logger.Info("key material extracted", slog.String("dir", c.cfg.ConfigDir()))
}

// adoptDecrypted builds the session record for the decrypted output: fresh
// fingerprint, inherited metadata, DRM-removed marker written into the file's
// tags, cache rows updated for both new and original copies.
func (c *Coordinator) adoptDecrypted(ctx context.Context, orig *ebook.Record, outputPath string) (*ebook.Record, error) {
	repl := ebook.New(outputPath, "", orig.Source())
	for key, value := range orig.Meta {
		repl.Meta[key] = value
	}
	repl.Meta["source"] = orig.Source()
	repl.AuthorTitle = orig.AuthorTitle
	repl.EbookID = orig.EbookID
	repl.DRMFree = true

	if err := c.tagger.WriteTags(ctx, outputPath, repl.TagsWithDeDRM()); err != nil {
		return nil, err
	}
	if err := repl.ComputeFingerprint(); err != nil {
		return nil, err
	}

	if err := c.store.Store(ctx, repl); err != nil {
		var dup *cache.DuplicateIDError
		if !errors.As(err, &dup) {
			return nil, err
		}
		c.logger.Warn("catalog id collision while caching decrypted copy",
			slog.String("path", repl.Path),
			slog.String("ebook_id", dup.EbookID))
	}
	// The leftover DRM'd original must not be reprocessed on a future scan.
	skip := true
	if err := c.store.UpdateFields(ctx, orig.Path, cache.FieldUpdate{Skip: &skip}); err != nil {
		c.logger.Warn("could not tombstone original copy",
			slog.String("path", orig.Path),
			slog.String("error", err.Error()))
	}
	return repl, nil
}

func (c *Coordinator) markDRMFree(ctx context.Context, rec *ebook.Record) {
	drmfree := true
	if err := c.store.UpdateFields(ctx, rec.Path, cache.FieldUpdate{DRMFree: &drmfree}); err != nil {
		c.logger.Warn("cache update failed",
			slog.String("path", rec.Path),
			slog.String("error", err.Error()))
	}
}

func (c *Coordinator) markNotDRMFree(ctx context.Context, rec *ebook.Record) {
	drmfree := false
	if err := c.store.UpdateFields(ctx, rec.Path, cache.FieldUpdate{DRMFree: &drmfree}); err != nil {
		c.logger.Warn("cache update failed",
			slog.String("path", rec.Path),
			slog.String("error", err.Error()))
	}
}
