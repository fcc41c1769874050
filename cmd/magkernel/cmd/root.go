// Package cmd implements the magkernel command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/magkernel/config"
	"github.com/GoCodeAlone/magkernel/logging"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("magkernel v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

// NewRootCommand creates the root command for the magkernel binary.
func NewRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "magkernel",
		Short: "magkernel - pluggable application kernel",
		Long: `magkernel boots the components listed in its configuration, keeps their
lifecycle state on disk and exposes migration and state tooling.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetVersionTemplate(PrintVersion() + "\n")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "magkernel.yaml", "path to the configuration file (yaml, toml or json)")

	cmd.AddCommand(NewRunCommand(&configPath))
	cmd.AddCommand(NewMigrateCommand(&configPath))
	cmd.AddCommand(NewStateCommand(&configPath))

	return cmd
}

// loadConfig loads the file and builds the configured logger.
func loadConfig(path string) (*config.Config, *logging.ZapLogger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	logger, err := logging.NewZap(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
