package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/magkernel/state"
)

// NewStateCommand creates the state command group.
func NewStateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the persisted kernel state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	show := &cobra.Command{
		Use:   "show [key]",
		Short: "Print the state document, or one key path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			m := state.NewManager(cfg.StatePath, state.WithLogger(logger))
			if err := m.Load(); err != nil {
				return err
			}

			var value any = m.Snapshot()
			if len(args) == 1 {
				if value, err = m.Get(args[0]); err != nil {
					return err
				}
			}
			out, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				return fmt.Errorf("encode state: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.AddCommand(show)
	return cmd
}
