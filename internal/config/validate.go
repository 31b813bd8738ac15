package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateScan(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.LibraryDir) == "" {
		return errors.New("paths.library_dir must be set")
	}
	return nil
}

func (c *Config) validateScan() error {
	seen := make(map[string]struct{}, len(c.Scan.Definitions))
	for _, def := range c.Scan.Definitions {
		if def.Format == "" {
			return errors.New("scan.definitions entries must name a format")
		}
		if _, ok := seen[def.Format]; ok {
			return fmt.Errorf("scan.definitions lists format %q twice", def.Format)
		}
		seen[def.Format] = struct{}{}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
