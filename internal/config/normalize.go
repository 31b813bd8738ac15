package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeScan()
	c.normalizeTools()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.LibraryDir, err = expandPath(c.Paths.LibraryDir); err != nil {
		return fmt.Errorf("paths.library_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.CachePath) != "" {
		if c.Paths.CachePath, err = expandPath(c.Paths.CachePath); err != nil {
			return fmt.Errorf("paths.cache_path: %w", err)
		}
	}
	return nil
}

// normalizeServer applies environment overrides, matching the original CLI
// precedence: flags override env, env overrides the saved config.
func (c *Config) normalizeServer() {
	if value, ok := os.LookupEnv("OGRE_HOST"); ok && strings.TrimSpace(value) != "" {
		c.Server.Host = value
	}
	if value, ok := os.LookupEnv("OGRE_USER"); ok && strings.TrimSpace(value) != "" {
		c.Server.Username = value
	}
	if value, ok := os.LookupEnv("OGRE_PASS"); ok && value != "" {
		c.Server.Password = value
	}
	c.Server.Host = strings.TrimSpace(c.Server.Host)
	if strings.HasPrefix(c.Server.Host, "https://") {
		c.Server.UseSSL = true
		c.Server.Host = strings.TrimPrefix(c.Server.Host, "https://")
	}
	c.Server.Host = strings.TrimPrefix(c.Server.Host, "http://")
	c.Server.Host = strings.TrimRight(c.Server.Host, "/")
	if c.Server.TimeoutSeconds <= 0 {
		c.Server.TimeoutSeconds = defaultServerTimeoutSeconds
	}
}

func (c *Config) normalizeScan() {
	if len(c.Scan.Definitions) == 0 {
		c.Scan.Definitions = DefaultDefinitions()
	}
	for i, def := range c.Scan.Definitions {
		c.Scan.Definitions[i].Format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(def.Format)), ".")
	}
	if c.Scan.Workers <= 0 {
		c.Scan.Workers = defaultScanWorkers
	}
	if value, ok := os.LookupEnv("OGRE_KINDLE_LIBPATH"); ok && strings.TrimSpace(value) != "" {
		c.Scan.KindleLibPath = value
	}
}

func (c *Config) normalizeTools() {
	c.Calibre.EbookMetaBin = strings.TrimSpace(c.Calibre.EbookMetaBin)
	if c.Calibre.TimeoutSeconds <= 0 {
		c.Calibre.TimeoutSeconds = defaultCalibreTimeoutSeconds
	}
	c.DeDRM.Binary = strings.TrimSpace(c.DeDRM.Binary)
	if c.DeDRM.TimeoutSeconds <= 0 {
		c.DeDRM.TimeoutSeconds = defaultDeDRMTimeoutSeconds
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
