package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/ppsec-gateway/internal/infra/db/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the snapshot archive schema",
	}
	cmd.AddCommand(
		migrateSub("up", "Apply pending migrations", func(cmd *cobra.Command, r migrations.Runner) error {
			return r.Ensure(cmd.Context())
		}),
		migrateSub("down", "Roll back the latest migration", func(cmd *cobra.Command, r migrations.Runner) error {
			return r.Down(cmd.Context())
		}),
		migrateSub("status", "List applied and pending migrations", func(cmd *cobra.Command, r migrations.Runner) error {
			states, err := r.Status(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
			for _, st := range states {
				state, at := "pending", "-"
				if st.Applied {
					state = "applied"
					at = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.Version, state, at, st.Path)
			}
			return tw.Flush()
		}),
	)
	return cmd
}

func migrateSub(use, short string, run func(*cobra.Command, migrations.Runner) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Archive.Driver == "" {
				return errors.New("archive.driver is not configured")
			}
			_, conn, err := openArchive(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer conn.Close()
			runner, err := migrations.New(conn, cfg.Archive.Driver, log)
			if err != nil {
				return err
			}
			return run(cmd, runner)
		},
	}
}
