package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/magkernel/modules/magmigrate"
)

// NewMigrateCommand creates the migrate command group. It works from the
// magmigrate section of the configuration without booting the kernel.
func NewMigrateCommand(configPath *string) *cobra.Command {
	var store string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect and apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVarP(&store, "store", "s", "", "store to operate on (default: every configured store)")

	withEngine := func(fn func(ctx context.Context, e *magmigrate.Engine, stores []string, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			mcfg, err := magmigrate.DecodeConfig(cfg.Section(magmigrate.ModuleName))
			if err != nil {
				return err
			}
			engine, closeStores, err := magmigrate.Open(cmd.Context(), mcfg, magmigrate.WithLogger(logger))
			if err != nil {
				return err
			}
			defer func() { _ = closeStores() }()

			stores := engine.Stores()
			if store != "" {
				stores = []string{store}
			}
			return fn(cmd.Context(), engine, stores, cmd.OutOrStdout())
		}
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(ctx context.Context, e *magmigrate.Engine, stores []string, out io.Writer) error {
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STORE\tMIGRATION\tAPPLIED\tAPPLIED AT")
			for _, s := range stores {
				statuses, err := e.Status(ctx, s)
				if err != nil {
					return err
				}
				for _, st := range statuses {
					at := "-"
					if st.Applied {
						at = st.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", s, st.ID, st.Applied, at)
				}
			}
			return w.Flush()
		}),
	}

	var limit int
	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(ctx context.Context, e *magmigrate.Engine, stores []string, out io.Writer) error {
			for _, s := range stores {
				applied, err := e.MigrateUp(ctx, s, limit)
				report(out, s, "applied", applied)
				if err != nil {
					return err
				}
			}
			return nil
		}),
	}
	up.Flags().IntVar(&limit, "limit", 0, "apply at most this many migrations per store (0 = all)")

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert the most recently applied migrations",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(ctx context.Context, e *magmigrate.Engine, stores []string, out io.Writer) error {
			for _, s := range stores {
				reverted, err := e.MigrateDown(ctx, s, steps)
				report(out, s, "reverted", reverted)
				if err != nil {
					return err
				}
			}
			return nil
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert per store")

	baseline := &cobra.Command{
		Use:   "baseline <migration-id>",
		Short: "Record migrations up to an id as applied without running them",
		Args:  cobra.ExactArgs(1),
	}
	baseline.RunE = func(cmd *cobra.Command, args []string) error {
		return withEngine(func(ctx context.Context, e *magmigrate.Engine, stores []string, out io.Writer) error {
			for _, s := range stores {
				recorded, err := e.Baseline(ctx, s, args[0])
				report(out, s, "baselined", recorded)
				if err != nil {
					return err
				}
			}
			return nil
		})(cmd, args)
	}

	cmd.AddCommand(status, up, down, baseline)
	return cmd
}

func report(out io.Writer, store, verb string, migrations []magmigrate.Migration) {
	if len(migrations) == 0 {
		fmt.Fprintf(out, "%s: nothing %s\n", store, verb)
		return
	}
	for _, m := range migrations {
		fmt.Fprintf(out, "%s: %s %s\n", store, verb, m.ID)
	}
}
