package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ogreclient/internal/dedrm"
	"ogreclient/internal/ogreserver"
	"ogreclient/internal/services"
	"ogreclient/internal/sync"
)

type syncFlags struct {
	skipCache bool
	noDRM     bool
	host      string
	username  string
	password  string
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var flags syncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Scan the library and synchronize it with the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(ctx, cmd, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.skipCache, "skip-cache", false, "Ignore the scan cache and re-extract everything")
	cmd.Flags().BoolVar(&flags.noDRM, "no-drm", false, "Skip the DRM removal pass")
	cmd.Flags().StringVar(&flags.host, "host", "", "Server host, overriding config and OGRE_HOST")
	cmd.Flags().StringVar(&flags.username, "username", "", "Server username, overriding config and OGRE_USER")
	cmd.Flags().StringVar(&flags.password, "password", "", "Server password, overriding config and OGRE_PASS")
	return cmd
}

func runSync(ctx *commandContext, cmd *cobra.Command, flags syncFlags) error {
	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.close()

	// Flag overrides apply to this run only; the write-back below must not
	// persist credentials given on the command line.
	savedServer := p.cfg.Server
	if flags.host != "" {
		p.cfg.Server.Host = flags.host
	}
	if flags.username != "" {
		p.cfg.Server.Username = flags.username
	}
	if flags.password != "" {
		p.cfg.Server.Password = flags.password
	}

	lock, err := ctx.acquireLock(p.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	remote, err := ogreserver.New(p.cfg, p.logger)
	if err != nil {
		return err
	}

	var decrypter sync.Decrypter
	if p.cfg.DeDRM.Enabled && p.cfg.DeDRM.Binary != "" {
		decryptor := dedrm.NewToolDecryptor(p.cfg.DeDRM.Binary, p.cfg.ConfigDir(),
			time.Duration(p.cfg.DeDRM.TimeoutSeconds)*time.Second)
		decrypter = dedrm.NewCoordinator(p.cfg, decryptor, p.meta, p.store, p.logger)
	}

	orchestrator := sync.New(p.cfg, p.store, remote, p.scanner, decrypter, p.meta,
		p.active, p.capture, p.logger)

	runCtx := services.WithRequestID(cmd.Context(), uuid.NewString())
	report, err := orchestrator.Run(runCtx, sync.Options{
		SkipCache: flags.skipCache,
		NoDRM:     flags.noDRM,
		Debug:     ctx.debug(),
	})
	if err != nil {
		return err
	}

	// Definitions may have been refreshed from the server; keep them for the
	// next run.
	if ctx.configPath != "" {
		p.cfg.Server = savedServer
		if saveErr := p.cfg.Save(ctx.configPath); saveErr != nil {
			p.logger.Warn("could not write config back", "error", saveErr.Error())
		}
	}

	printReport(cmd, report)
	return nil
}

func printReport(cmd *cobra.Command, report *sync.Report) {
	for _, msg := range report.Messages {
		cmd.Println(msg)
	}
	for _, err := range report.ScanErrors {
		cmd.Printf("scan: %v\n", err)
	}
	for _, err := range report.DecryptErrors {
		cmd.Printf("dedrm: %v\n", err)
	}
	for _, err := range report.SyncErrors {
		cmd.Printf("sync: %v\n", err)
	}
	cmd.Println(fmt.Sprintf("Uploaded %d ebook(s); %d skipped of %d found.",
		report.Uploaded, report.Skipped, report.Total))
}
