package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"ogreclient/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, path, exists, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing config")
	}
	if path == "" {
		t.Fatal("expected resolved path")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if len(cfg.Scan.Definitions) == 0 {
		t.Fatal("expected default definitions")
	}
	if cfg.Scan.Definitions[0].Format != "mobi" {
		t.Fatalf("expected mobi ranked first, got %q", cfg.Scan.Definitions[0].Format)
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[server]
host = "https://ogre.example.com/"

[paths]
library_dir = "` + dir + `"

[[scan.definitions]]
format = ".MOBI"
valid_format = true

[[scan.definitions]]
format = "epub"
valid_format = true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Server.Host != "ogre.example.com" {
		t.Fatalf("host not normalized: %q", cfg.Server.Host)
	}
	if !cfg.Server.UseSSL {
		t.Fatal("https host should force use_ssl")
	}
	if cfg.Scan.Definitions[0].Format != "mobi" {
		t.Fatalf("definition format not normalized: %q", cfg.Scan.Definitions[0].Format)
	}
	if rank, ok := cfg.FormatRank("epub"); !ok || rank != 1 {
		t.Fatalf("unexpected epub rank: %d %v", rank, ok)
	}
	if cfg.IsValidFormat("azw") {
		t.Fatal("azw is not in this config's definitions")
	}
}

func TestLoadRejectsDuplicateDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[[scan.definitions]]
format = "epub"

[[scan.definitions]]
format = "epub"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected duplicate definition error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := config.Default()
	cfg.Server.Host = "ogre.example.com"
	cfg.Scan.KindleLibPath = filepath.Join(dir, "kindle")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists {
		t.Fatal("expected saved config to exist")
	}
	if loaded.Server.Host != "ogre.example.com" {
		t.Fatalf("host did not round-trip: %q", loaded.Server.Host)
	}
	if loaded.Scan.KindleLibPath != cfg.Scan.KindleLibPath {
		t.Fatalf("kindle libpath did not round-trip: %q", loaded.Scan.KindleLibPath)
	}
}

func TestCachePathDefaultsToConfigDir(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.SetConfigDir(dir)
	if got := cfg.CachePath(); got != filepath.Join(dir, "ebook_cache.db") {
		t.Fatalf("unexpected cache path: %q", got)
	}
}
