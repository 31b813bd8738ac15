package dedrm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"ogreclient/internal/cache"
	"ogreclient/internal/config"
	"ogreclient/internal/dedrm"
	"ogreclient/internal/ebook"
)

type fakeDecryptor struct {
	results map[string]dedrm.Result
	calls   []string
}

func (f *fakeDecryptor) Decrypt(_ context.Context, path, _ string) (dedrm.Result, error) {
	f.calls = append(f.calls, path)
	if result, ok := f.results[path]; ok {
		return result, nil
	}
	return dedrm.Result{Outcome: dedrm.OutcomeNone}, nil
}

type fakeTagger struct {
	written map[string]string
}

func (f *fakeTagger) WriteTags(_ context.Context, path, tags string) error {
	if f.written == nil {
		f.written = map[string]string{}
	}
	f.written[path] = tags
	return nil
}

func newFixture(t *testing.T) (*config.Config, *cache.Store, *ebook.Session) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LibraryDir = dir
	cfg.SetConfigDir(dir)

	store, err := cache.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &cfg, store, ebook.NewSession()
}

func addRecord(t *testing.T, store *cache.Store, session *ebook.Session, dir, name, hash string) *ebook.Record {
	t.Helper()
	rec := ebook.New(filepath.Join(dir, name), "", "home")
	rec.FileHash = hash
	rec.Meta["firstname"] = "Lewis"
	rec.Meta["lastname"] = "Carroll"
	rec.Meta["title"] = name
	rec.BuildAuthorTitle()
	if err := store.Store(context.Background(), rec); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	session.Insert(rec)
	return rec
}

func TestRunMarksDRMFreeOnNone(t *testing.T) {
	cfg, store, session := newFixture(t)
	rec := addRecord(t, store, session, cfg.Paths.LibraryDir, "alice.epub", "h1")

	decryptor := &fakeDecryptor{results: map[string]dedrm.Result{}}
	coord := dedrm.NewCoordinator(cfg, decryptor, &fakeTagger{}, store, discard())

	failures, err := coord.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("failures = %v", failures)
	}
	if !rec.DRMFree {
		t.Error("record should be DRM-free after none outcome")
	}
	cached, err := store.Get(context.Background(), rec.Path)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !cached.DRMFree {
		t.Error("cache should record DRM-free")
	}
}

func TestRunSkipsIneligibleRecords(t *testing.T) {
	cfg, store, session := newFixture(t)
	free := addRecord(t, store, session, cfg.Paths.LibraryDir, "free.epub", "h1")
	free.DRMFree = true
	skipped := addRecord(t, store, session, cfg.Paths.LibraryDir, "skip.epub", "h2")
	skipped.Skip = true
	nonFiction := addRecord(t, store, session, cfg.Paths.LibraryDir, "paper.pdf", "h3")
	nonFiction.Format = "pdf"

	decryptor := &fakeDecryptor{}
	coord := dedrm.NewCoordinator(cfg, decryptor, &fakeTagger{}, store, discard())
	if _, err := coord.Run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(decryptor.calls) != 0 {
		t.Fatalf("decryptor called for ineligible records: %v", decryptor.calls)
	}
}

func TestRunReplacesDecryptedRecord(t *testing.T) {
	cfg, store, session := newFixture(t)
	rec := addRecord(t, store, session, cfg.Paths.LibraryDir, "locked.azw3", "oldhash")

	output := filepath.Join(cfg.Paths.LibraryDir, "locked-decrypted.epub")
	if err := os.WriteFile(output, []byte("decrypted bytes"), 0o644); err != nil {
		t.Fatalf("write output: %v", err)
	}

	decryptor := &fakeDecryptor{results: map[string]dedrm.Result{
		rec.Path: {Outcome: dedrm.OutcomeDecrypted, OutputPath: output},
	}}
	tagger := &fakeTagger{}
	coord := dedrm.NewCoordinator(cfg, decryptor, tagger, store, discard())

	failures, err := coord.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("failures = %v", failures)
	}

	if _, ok := session.ByHash["oldhash"]; ok {
		t.Error("old hash should be dropped from session")
	}
	repl, ok := session.ByAuthorTitle[rec.AuthorTitle]
	if !ok || repl.Path != output {
		t.Fatalf("replacement not indexed: %+v", repl)
	}
	if !repl.DRMFree || repl.FileHash == "" || repl.FileHash == "oldhash" {
		t.Errorf("replacement record: %+v", repl)
	}
	if tags := tagger.written[output]; tags != ebook.DeDRMTag {
		t.Errorf("tags written = %q", tags)
	}

	orig, err := store.Get(context.Background(), rec.Path)
	if err != nil {
		t.Fatalf("get original: %v", err)
	}
	if !orig.Skip {
		t.Error("original cache entry should be tombstoned")
	}
}

func TestRunCircuitBreaker(t *testing.T) {
	cfg, store, session := newFixture(t)
	results := map[string]dedrm.Result{}
	for _, name := range []string{"a.epub", "b.epub", "c.epub", "d.epub", "e.epub"} {
		rec := addRecord(t, store, session, cfg.Paths.LibraryDir, name, "hash-"+name)
		results[rec.Path] = dedrm.Result{Outcome: dedrm.OutcomeWrongKey}
	}

	decryptor := &fakeDecryptor{results: results}
	coord := dedrm.NewCoordinator(cfg, decryptor, &fakeTagger{}, store, discard())

	failures, err := coord.Run(context.Background(), session)
	if !errors.Is(err, dedrm.ErrStaleKey) {
		t.Fatalf("want ErrStaleKey, got %v", err)
	}
	// Breaker trips on the fourth consecutive wrong key.
	if len(decryptor.calls) != 4 {
		t.Errorf("decryptor calls = %d, want 4", len(decryptor.calls))
	}
	if len(failures) != 4 {
		t.Errorf("failures = %d, want 4", len(failures))
	}
}

func TestRunWrongKeyCounterResets(t *testing.T) {
	cfg, store, session := newFixture(t)
	results := map[string]dedrm.Result{}
	names := []string{"a.epub", "b.epub", "c.epub", "d.epub", "e.epub", "f.epub", "g.epub"}
	for i, name := range names {
		rec := addRecord(t, store, session, cfg.Paths.LibraryDir, name, "hash-"+name)
		if i == 3 {
			results[rec.Path] = dedrm.Result{Outcome: dedrm.OutcomeNone}
		} else {
			results[rec.Path] = dedrm.Result{Outcome: dedrm.OutcomeWrongKey}
		}
	}

	decryptor := &fakeDecryptor{results: results}
	coord := dedrm.NewCoordinator(cfg, decryptor, &fakeTagger{}, store, discard())

	_, err := coord.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("breaker should not trip when a success resets the streak: %v", err)
	}
	if len(decryptor.calls) != len(names) {
		t.Errorf("decryptor calls = %d, want %d", len(decryptor.calls), len(names))
	}
}

func TestRunRecordsFailureOutcomes(t *testing.T) {
	cfg, store, session := newFixture(t)
	corrupt := addRecord(t, store, session, cfg.Paths.LibraryDir, "bad.mobi", "h1")
	results := map[string]dedrm.Result{
		corrupt.Path: {Outcome: dedrm.OutcomeCorrupt},
	}

	coord := dedrm.NewCoordinator(cfg, &fakeDecryptor{results: results}, &fakeTagger{}, store, discard())
	failures, err := coord.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(failures) != 1 || failures[0].Outcome != dedrm.OutcomeCorrupt {
		t.Fatalf("failures = %v", failures)
	}
	if _, ok := session.ByHash["h1"]; !ok {
		t.Error("failed record should stay in the session maps")
	}
}

type extractingDecryptor struct {
	fakeDecryptor
	extractedTo []string
	extractErr  error
}

func (f *extractingDecryptor) ExtractKeys(_ context.Context, keyDir string) error {
	f.extractedTo = append(f.extractedTo, keyDir)
	return f.extractErr
}

func TestRunExtractsKeysWhenMissing(t *testing.T) {
	cfg, store, session := newFixture(t)
	addRecord(t, store, session, cfg.Paths.LibraryDir, "alice.epub", "h1")

	decryptor := &extractingDecryptor{}
	coord := dedrm.NewCoordinator(cfg, decryptor, &fakeTagger{}, store, discard())
	if _, err := coord.Run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(decryptor.extractedTo) != 1 || decryptor.extractedTo[0] != cfg.ConfigDir() {
		t.Errorf("extract calls = %v", decryptor.extractedTo)
	}
}

func TestRunSkipsKeyExtractionWhenPresent(t *testing.T) {
	cfg, store, session := newFixture(t)
	addRecord(t, store, session, cfg.Paths.LibraryDir, "alice.epub", "h1")
	if err := os.WriteFile(cfg.KindleKeyPath(), []byte("key"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	decryptor := &extractingDecryptor{}
	coord := dedrm.NewCoordinator(cfg, decryptor, &fakeTagger{}, store, discard())
	if _, err := coord.Run(context.Background(), session); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(decryptor.extractedTo) != 0 {
		t.Errorf("extraction should be skipped, calls = %v", decryptor.extractedTo)
	}
}

func TestRunExtractionFailureIsNotFatal(t *testing.T) {
	cfg, store, session := newFixture(t)
	rec := addRecord(t, store, session, cfg.Paths.LibraryDir, "alice.epub", "h1")

	decryptor := &extractingDecryptor{extractErr: errors.New("no vendor app found")}
	coord := dedrm.NewCoordinator(cfg, decryptor, &fakeTagger{}, store, discard())
	failures, err := coord.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("failures = %v", failures)
	}
	if !rec.DRMFree {
		t.Error("decrypt pass should still run after failed extraction")
	}
}

func TestRemoveKindleKey(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SetConfigDir(dir)

	if dedrm.KindleKeyExists(&cfg) {
		t.Fatal("no key should exist yet")
	}
	if err := dedrm.RemoveKindleKey(&cfg); err != nil {
		t.Fatalf("removing absent key should succeed: %v", err)
	}

	if err := os.WriteFile(cfg.KindleKeyPath(), []byte("key"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	if !dedrm.KindleKeyExists(&cfg) {
		t.Fatal("key should exist")
	}
	if err := dedrm.RemoveKindleKey(&cfg); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if dedrm.KindleKeyExists(&cfg) {
		t.Fatal("key should be gone")
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
