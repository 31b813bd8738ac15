// Package sync drives one end-to-end run: scan, DRM removal, catalog
// reconciliation, local metadata patching and upload, with one bounded
// restart when key material proves stale.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"ogreclient/internal/cache"
	"ogreclient/internal/config"
	"ogreclient/internal/dedrm"
	"ogreclient/internal/ebook"
	"ogreclient/internal/fileutil"
	"ogreclient/internal/ogreserver"
	"ogreclient/internal/providers"
	"ogreclient/internal/scanner"
	"ogreclient/internal/services"
)

// uploadAttempts bounds retries for one file before recording a per-file
// upload error.
const uploadAttempts = 3

// Remote is the catalog server surface the orchestrator depends on.
type Remote interface {
	Login(ctx context.Context, email, password string) error
	Post(ctx context.Context, books map[string]ebook.Payload) (*ogreserver.PostResponse, error)
	Confirm(ctx context.Context, oldHash, newHash string) (string, error)
	ToUpload(ctx context.Context) ([]string, error)
	Upload(ctx context.Context, rec *ebook.Record) error
	UploadErrord(ctx context.Context, rec *ebook.Record, filename string) error
	PostLogs(ctx context.Context, rawLogs string) error
	Definitions(ctx context.Context) ([]config.FormatDef, error)
}

// Scanner is the scan phase.
type Scanner interface {
	Scan(ctx context.Context, active []providers.Provider, skipCache bool) (*scanner.Result, error)
}

// Decrypter is the DRM-removal phase.
type Decrypter interface {
	Run(ctx context.Context, session *ebook.Session) ([]dedrm.Failure, error)
}

// MetaWriter patches identifiers into library files.
type MetaWriter interface {
	WriteTags(ctx context.Context, path, tags string) error
	WriteIdentifier(ctx context.Context, path, scheme, value string) error
}

// Options tune one run.
type Options struct {
	SkipCache bool
	NoDRM     bool
	// Debug gates log shipping after a run with errors.
	Debug bool
}

// Report summarizes one run.
type Report struct {
	Uploaded      int
	Skipped       int
	Total         int
	Messages      []string
	ScanErrors    []error
	DecryptErrors []error
	SyncErrors    []error
}

// HasErrors reports whether any phase recorded a per-file error.
func (r *Report) HasErrors() bool {
	return len(r.ScanErrors)+len(r.DecryptErrors)+len(r.SyncErrors) > 0
}

// LogSource exposes the session's captured log text for shipping.
type LogSource interface {
	String() string
}

// Orchestrator owns one sync invocation.
type Orchestrator struct {
	cfg        *config.Config
	store      *cache.Store
	remote     Remote
	scanner    Scanner
	decrypter  Decrypter
	metaWriter MetaWriter
	active     []providers.Provider
	logs       LogSource
	logger     *slog.Logger
}

// New wires an orchestrator.
func New(cfg *config.Config, store *cache.Store, remote Remote, scan Scanner, decrypter Decrypter, metaWriter MetaWriter, active []providers.Provider, logs LogSource, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		remote:     remote,
		scanner:    scan,
		decrypter:  decrypter,
		metaWriter: metaWriter,
		active:     active,
		logs:       logs,
		logger:     logger.With(slog.String("component", "sync")),
	}
}

// Run executes the full pipeline and returns the run report. Authentication
// and catalog transport failures are fatal; per-file problems aggregate into
// the report.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Report, error) {
	ctx = services.WithPhase(ctx, "sync")

	if err := o.remote.Login(ctx, o.cfg.Server.Username, o.cfg.Server.Password); err != nil {
		return nil, err
	}
	o.logger.Info("authenticated", slog.String("host", o.cfg.Server.Host))

	// The server owns the format ordering. Scanning with a stale local copy
	// would rank dedup tie-breaks differently from the catalog, so a failed
	// fetch aborts the run.
	defs, err := o.remote.Definitions(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrRequestFailed, "sync", "definitions",
			"could not fetch format definitions", err)
	}
	if len(defs) > 0 {
		o.cfg.Scan.Definitions = defs
	}

	report, err := o.attempt(ctx, opts, true)
	if err != nil {
		return report, err
	}
	o.shipLogs(ctx, opts, report)
	return report, nil
}

// attempt runs scan through upload. retryOnStaleKey permits exactly one
// restart after deleting kindle key material; the retry itself runs with the
// flag cleared, so a second stale-key signal proceeds without DRM removal.
func (o *Orchestrator) attempt(ctx context.Context, opts Options, retryOnStaleKey bool) (*Report, error) {
	report := &Report{}

	scanResult, err := o.scanner.Scan(ctx, o.active, opts.SkipCache)
	if err != nil {
		return report, err
	}
	session := scanResult.Session
	report.Skipped = scanResult.Skipped
	report.Total = scanResult.Total
	report.ScanErrors = scanResult.Errors

	if !opts.NoDRM && o.cfg.DeDRM.Enabled && o.decrypter != nil {
		failures, drmErr := o.decrypter.Run(ctx, session)
		if errors.Is(drmErr, dedrm.ErrStaleKey) {
			if retryOnStaleKey {
				o.logger.Warn("stale decryption key, removing key material and restarting sync")
				if rmErr := dedrm.RemoveKindleKey(o.cfg); rmErr != nil {
					return report, rmErr
				}
				return o.attempt(ctx, opts, false)
			}
			o.logger.Warn("decryption key still stale, continuing without drm removal")
		} else if drmErr != nil {
			return report, drmErr
		}
		for _, failure := range failures {
			report.DecryptErrors = append(report.DecryptErrors, failure)
			// A record that failed decryption is never synced this round.
			session.Remove(failure.Record)
		}
	}

	if session.Len() == 0 {
		o.logger.Info("nothing to sync", slog.Int("skipped", report.Skipped))
		return report, nil
	}

	postResp, err := o.submitCatalog(ctx, session)
	if err != nil {
		return report, err
	}
	report.Messages = append(report.Messages, postResp.Messages...)
	for _, msg := range postResp.Errors {
		report.SyncErrors = append(report.SyncErrors, fmt.Errorf("server: %s", msg))
	}

	o.patchMetadata(ctx, session, postResp.ToUpdate, report)

	if err := o.upload(ctx, session, report); err != nil {
		return report, err
	}
	return report, nil
}

// submitCatalog posts every valid-format record keyed by composite key.
func (o *Orchestrator) submitCatalog(ctx context.Context, session *ebook.Session) (*ogreserver.PostResponse, error) {
	books := map[string]ebook.Payload{}
	for key, rec := range session.ByAuthorTitle {
		if !o.cfg.IsValidFormat(rec.Format) {
			continue
		}
		books[key] = rec.Serialize()
	}
	o.logger.Info("submitting catalog", slog.Int("ebooks", len(books)))

	resp, err := o.remote.Post(ctx, books)
	if err != nil {
		return nil, services.Wrap(services.ErrRequestFailed, "sync", "post", "catalog submission failed", err)
	}
	return resp, nil
}

// patchMetadata writes server-assigned catalog ids into the flagged files,
// re-fingerprints them, and confirms the hash change. Failures here are
// per-file and never abort the run.
func (o *Orchestrator) patchMetadata(ctx context.Context, session *ebook.Session, toUpdate map[string]ogreserver.UpdateEntry, report *Report) {
	for hash, entry := range toUpdate {
		rec, ok := session.ByHash[hash]
		if !ok {
			report.SyncErrors = append(report.SyncErrors,
				fmt.Errorf("server flagged unknown hash %s for update", hash))
			continue
		}
		if err := o.patchOne(ctx, session, rec, entry.EbookID); err != nil {
			report.SyncErrors = append(report.SyncErrors, err)
		}
	}
}

func (o *Orchestrator) patchOne(ctx context.Context, session *ebook.Session, rec *ebook.Record, id string) error {
	oldHash := rec.FileHash

	// The write happens on a temp copy. The original file is only replaced
	// once the server has confirmed the new hash, so a rejected update leaves
	// the library untouched. The dot prefix keeps a concurrent scan from
	// picking the copy up.
	tmp := filepath.Join(filepath.Dir(rec.Path), "."+uuid.NewString()+filepath.Ext(rec.Path))
	if err := fileutil.CopyFile(rec.Path, tmp); err != nil {
		return fmt.Errorf("stage copy of %s: %w", rec.Path, err)
	}
	defer os.Remove(tmp)

	// epub carries real identifier metadata; other formats embed the id in
	// their tag list.
	var writeErr error
	if strings.EqualFold(rec.Format, "epub") {
		writeErr = o.metaWriter.WriteIdentifier(ctx, tmp, "ogre_id", id)
	} else {
		writeErr = o.metaWriter.WriteTags(ctx, tmp, rec.TagsWithID(id))
	}
	if writeErr != nil {
		return fmt.Errorf("write catalog id to %s: %w", rec.Path, writeErr)
	}

	newHash, newSize, err := ebook.Fingerprint(tmp)
	if err != nil {
		return fmt.Errorf("re-fingerprint %s: %w", rec.Path, err)
	}

	result, err := o.remote.Confirm(ctx, oldHash, newHash)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", rec.Path, err)
	}
	if result != "ok" {
		return fmt.Errorf("server rejected metadata update for %s: %s", rec.Path, result)
	}

	if err := fileutil.MoveFile(tmp, rec.Path); err != nil {
		return fmt.Errorf("replace %s with patched copy: %w", rec.Path, err)
	}
	rec.EbookID = id
	rec.FileHash = newHash
	rec.Size = newSize

	delete(session.ByHash, oldHash)
	session.ByHash[rec.FileHash] = rec
	if err := o.store.UpdateFields(ctx, rec.Path, cache.FieldUpdate{
		FileHash: &newHash,
		EbookID:  &id,
	}); err != nil {
		o.logger.Warn("cache update after metadata patch failed",
			slog.String("path", rec.Path),
			slog.String("error", err.Error()))
	}
	o.logger.Info("catalog id written",
		slog.String("path", rec.Path),
		slog.String("ebook_id", id))
	return nil
}

// upload pushes every hash the server still lacks, retrying each file a
// bounded number of times.
func (o *Orchestrator) upload(ctx context.Context, session *ebook.Session, report *Report) error {
	wanted, err := o.remote.ToUpload(ctx)
	if err != nil {
		return services.Wrap(services.ErrRequestFailed, "sync", "to_upload", "upload query failed", err)
	}
	if len(wanted) == 0 {
		o.logger.Info("server catalog already complete")
		return nil
	}

	for _, hash := range wanted {
		rec, ok := session.ByHash[hash]
		if !ok {
			continue
		}
		if err := o.uploadOne(ctx, rec); err != nil {
			report.SyncErrors = append(report.SyncErrors,
				fmt.Errorf("upload %s: %w", rec.Path, err))
			continue
		}
		report.Uploaded++
	}
	o.logger.Info("upload phase finished",
		slog.Int("requested", len(wanted)),
		slog.Int("uploaded", report.Uploaded))
	return nil
}

func (o *Orchestrator) uploadOne(ctx context.Context, rec *ebook.Record) error {
	var lastErr error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		lastErr = o.remote.Upload(ctx, rec)
		if lastErr == nil {
			return nil
		}
		var missing *ebook.MissingFileError
		if errors.As(lastErr, &missing) {
			return lastErr
		}
		o.logger.Warn("upload attempt failed",
			slog.String("path", rec.Path),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()))
	}
	return lastErr
}

// shipLogs posts the captured session log after a debug run with errors.
// Transport failure here never changes the run's outcome.
func (o *Orchestrator) shipLogs(ctx context.Context, opts Options, report *Report) {
	if !opts.Debug || !report.HasErrors() || o.logs == nil {
		return
	}
	if err := o.remote.PostLogs(ctx, o.logs.String()); err != nil {
		o.logger.Warn("log shipping failed", slog.String("error", err.Error()))
		return
	}
	// Attach every file behind a scan or decrypt failure so the server side
	// can reproduce it.
	errord := make([]error, 0, len(report.ScanErrors)+len(report.DecryptErrors))
	errord = append(errord, report.ScanErrors...)
	errord = append(errord, report.DecryptErrors...)
	for _, failure := range errord {
		rec := erroredRecord(failure)
		if rec == nil {
			continue
		}
		if err := o.remote.UploadErrord(ctx, rec, filepath.Base(rec.Path)); err != nil {
			o.logger.Warn("debug attachment upload failed",
				slog.String("path", rec.Path),
				slog.String("error", err.Error()))
		}
	}
}

// erroredRecord digs the affected record out of a per-file failure. Errors
// without one (duplicates, cache trouble) have nothing to attach.
func erroredRecord(err error) *ebook.Record {
	var df dedrm.Failure
	if errors.As(err, &df) && df.Record != nil {
		return df.Record
	}
	var fe *scanner.FileError
	if errors.As(err, &fe) && fe.Record != nil {
		return fe.Record
	}
	return nil
}
