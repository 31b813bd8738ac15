package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ogreclient/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the ogre configuration file",
	}
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool
	var pathFlag string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented sample config to the default location",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pathFlag
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}
			if !force {
				if _, _, exists, loadErr := config.Load(path); loadErr == nil && exists {
					return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
				}
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			cmd.Printf("Wrote sample config to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	cmd.Flags().StringVar(&pathFlag, "path", "", "Write the sample config to this path instead")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			rows := [][]string{
				{"config file", ctx.configPath},
				{"server host", cfg.Server.Host},
				{"username", cfg.Server.Username},
				{"password", maskSecret(cfg.Server.Password)},
				{"use ssl", fmt.Sprintf("%t", cfg.Server.UseSSL)},
				{"library dir", cfg.Paths.LibraryDir},
				{"log dir", cfg.Paths.LogDir},
				{"cache path", cfg.CachePath()},
				{"formats", strings.Join(cfg.Formats(), ", ")},
				{"dedrm enabled", fmt.Sprintf("%t", cfg.DeDRM.Enabled)},
				{"scan workers", fmt.Sprintf("%d", cfg.Scan.Workers)},
			}
			cmd.Println(renderTable([]string{"Setting", "Value"}, rows, nil))
			return nil
		},
	}
}

func maskSecret(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return strings.Repeat("*", 8)
}
