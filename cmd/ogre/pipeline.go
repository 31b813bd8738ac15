package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"ogreclient/internal/cache"
	"ogreclient/internal/calibre"
	"ogreclient/internal/config"
	"ogreclient/internal/logging"
	"ogreclient/internal/providers"
	"ogreclient/internal/scanner"
)

// pipeline bundles the components shared by the scan and sync commands.
type pipeline struct {
	cfg     *config.Config
	logger  *slog.Logger
	capture *logging.Capture
	store   *cache.Store
	meta    *calibre.Client
	active  []providers.Provider
	scanner *scanner.Scanner
	bar     *progressbar.ProgressBar
}

func buildPipeline(ctx *commandContext) (*pipeline, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, capture, err := ctx.buildLogger(cfg)
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(cfg.CachePath())
	if err != nil {
		return nil, err
	}
	if store.Verify() {
		fmt.Println("Fresh scan cache; the first scan will take a while.")
	}

	meta, err := calibre.NewClient(cfg.Calibre.EbookMetaBin,
		time.Duration(cfg.Calibre.TimeoutSeconds)*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	active, err := providers.Locate(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	p := &pipeline{
		cfg:     cfg,
		logger:  logger,
		capture: capture,
		store:   store,
		meta:    meta,
		active:  active,
		scanner: scanner.New(cfg, store, meta, logger),
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		p.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("scanning"),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		)
		p.scanner.Progress = func() { _ = p.bar.Add(1) }
	}
	return p, nil
}

func (p *pipeline) close() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
	_ = p.store.Close()
}
