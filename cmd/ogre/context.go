package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"ogreclient/internal/config"
	"ogreclient/internal/logging"
)

type commandContext struct {
	configFlag  *string
	debugFlag   *bool
	verboseFlag *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string, debugFlag, verboseFlag *bool) *commandContext {
	return &commandContext{configFlag: configFlag, debugFlag: debugFlag, verboseFlag: verboseFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolvedPath, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		if c.debug() || c.verbose() {
			cfg.Logging.Level = "debug"
		}
		c.config = cfg
		c.configPath = resolvedPath
	})
	return c.config, c.configErr
}

func (c *commandContext) debug() bool {
	return c.debugFlag != nil && *c.debugFlag
}

func (c *commandContext) verbose() bool {
	return c.verboseFlag != nil && *c.verboseFlag
}

// buildLogger constructs the session logger plus the capture buffer used for
// log shipping.
func (c *commandContext) buildLogger(cfg *config.Config) (*slog.Logger, *logging.Capture, error) {
	return logging.NewFromConfig(cfg)
}

// acquireLock takes the single-instance lock; two syncs sharing one cache
// would race on the library files themselves.
func (c *commandContext) acquireLock(cfg *config.Config) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(cfg.ConfigDir(), "ogre.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another ogre instance is already running")
	}
	return lock, nil
}
