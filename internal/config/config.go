package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server contains connection and credential settings for the remote catalog.
type Server struct {
	Host            string `toml:"host"`
	Username        string `toml:"username"`
	Password        string `toml:"password"`
	UseSSL          bool   `toml:"use_ssl"`
	IgnoreSSLErrors bool   `toml:"ignore_ssl_errors"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// Paths contains directory configuration.
type Paths struct {
	LibraryDir string `toml:"library_dir"`
	LogDir     string `toml:"log_dir"`
	CachePath  string `toml:"cache_path"`
}

// FormatDef is one entry in the server-supplied format preference ordering.
// Position in the list is the format's rank; lower ranks win dedup tie-breaks.
type FormatDef struct {
	Format      string `toml:"format"`
	ValidFormat bool   `toml:"valid_format"`
	NonFiction  bool   `toml:"non_fiction"`
}

// Scan contains scanner configuration, including the persisted definitions
// ordering fetched from the server on a previous run.
type Scan struct {
	Definitions     []FormatDef `toml:"definitions"`
	KindleLibPath   string      `toml:"kindle_libpath"`
	IgnoreProviders []string    `toml:"ignore_providers"`
	Workers         int         `toml:"workers"`
}

// Calibre contains settings for the external metadata tool.
type Calibre struct {
	EbookMetaBin   string `toml:"ebook_meta_bin"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DeDRM contains settings for the external decryption tool.
type DeDRM struct {
	Enabled        bool   `toml:"enabled"`
	Binary         string `toml:"binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for ogreclient.
//
// Configuration sections by subsystem:
//   - Server: remote host and credentials
//   - Paths: ebook library, logs, and scan cache locations
//   - Scan: format definitions ordering and provider settings
//   - Calibre: metadata extraction tool
//   - DeDRM: decryption tool
//   - Logging: log format and level
type Config struct {
	Server  Server  `toml:"server"`
	Paths   Paths   `toml:"paths"`
	Scan    Scan    `toml:"scan"`
	Calibre Calibre `toml:"calibre"`
	DeDRM   DeDRM   `toml:"dedrm"`
	Logging Logging `toml:"logging"`

	configDir string
}

// DefaultConfigDir resolves the per-user configuration directory using the
// XDG override chain.
func DefaultConfigDir() (string, error) {
	if base, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "ogre"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ogre"), nil
}

// DefaultConfigPath returns the absolute path to the default configuration file.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.configDir = filepath.Dir(resolvedPath)

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// Save writes the config back to path so definitions and discovered provider
// paths survive into the next run.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ConfigDir returns the directory holding the config file, scan cache, and
// decryption key material.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// SetConfigDir overrides the resolved config directory. Used by tests.
func (c *Config) SetConfigDir(dir string) {
	c.configDir = dir
}

// CachePath returns the scan cache location, defaulting to the config dir.
func (c *Config) CachePath() string {
	if strings.TrimSpace(c.Paths.CachePath) != "" {
		return c.Paths.CachePath
	}
	return filepath.Join(c.configDir, "ebook_cache.db")
}

// KindleKeyPath returns the location of the extracted Kindle key material.
func (c *Config) KindleKeyPath() string {
	return filepath.Join(c.configDir, "kindlekey.k4i")
}

// AdobeKeyPath returns the location of the extracted Adobe DE key material.
func (c *Config) AdobeKeyPath() string {
	return filepath.Join(c.configDir, "adeptkey.der")
}

// EnsureDirectories creates required directories for a sync run.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.configDir, c.Paths.LibraryDir, c.Paths.LogDir}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FormatRank returns the position of a format in the definitions ordering.
// Lower rank wins dedup tie-breaks.
func (c *Config) FormatRank(format string) (int, bool) {
	for i, def := range c.Scan.Definitions {
		if def.Format == format {
			return i, true
		}
	}
	return 0, false
}

// IsValidFormat reports whether a format should be submitted to the server
// and considered for decryption.
func (c *Config) IsValidFormat(format string) bool {
	for _, def := range c.Scan.Definitions {
		if def.Format == format {
			return def.ValidFormat
		}
	}
	return false
}

// Formats returns the ordered list of scannable file extensions.
func (c *Config) Formats() []string {
	out := make([]string, 0, len(c.Scan.Definitions))
	for _, def := range c.Scan.Definitions {
		out = append(out, def.Format)
	}
	return out
}

// HasFormat reports whether an extension is in the definitions set.
func (c *Config) HasFormat(format string) bool {
	_, ok := c.FormatRank(format)
	return ok
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
