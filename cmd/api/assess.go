package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/ppsec-gateway/internal/application/query"
	"github.com/bryanwahyu/ppsec-gateway/internal/config"
	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
	"github.com/bryanwahyu/ppsec-gateway/internal/infra/export"
)

func newAssessCmd() *cobra.Command {
	var (
		fromFile    string
		outDir      string
		environment string
		archive     bool
	)
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Run one assessment and export the result",
		Long: `Runs the assessment engine once, prints the summary as JSON and, with --out,
writes the export bundle (snapshot.json, summary.json and CSV files) to a directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			eng, err := buildEngine(cfg, fromFile)
			if err != nil {
				return err
			}
			if environment == "" {
				environment = cfg.Engine.EnvironmentFilter
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.EngineTimeout())
			defer cancel()
			snap, err := eng.Assess(ctx, environment)
			if err != nil {
				return fmt.Errorf("assessment failed: %w", err)
			}
			snap.Seal()

			if advisor := buildAdvisor(cfg); advisor != nil {
				advice, err := advisor.Advise(ctx, snap)
				if err != nil {
					log.Warn("advisor failed", "error", err)
				} else {
					snap.Advice = advice
				}
			}

			if outDir != "" {
				exporters, err := export.ForFormats(cfg.Export.Formats)
				if err != nil {
					return err
				}
				paths, err := export.WriteDir(outDir, snap, exporters)
				if err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				log.Info("export written", "dir", outDir, "files", len(paths))
			}

			if archive {
				if err := archiveSnapshot(cmd.Context(), cfg, log, snap); err != nil {
					return err
				}
			}
			return printJSON(cmd, query.Summary(snap, time.Now()))
		},
	}
	cmd.Flags().StringVar(&fromFile, "from-file", "", "read a saved report instead of running the engine")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory for the export bundle")
	cmd.Flags().StringVar(&environment, "environment", "", "restrict the assessment to one environment")
	cmd.Flags().BoolVar(&archive, "archive", false, "store the snapshot in the configured archive")
	return cmd
}

func archiveSnapshot(ctx context.Context, cfg *config.Config, log *slog.Logger, snap *domain.Snapshot) error {
	archive, conn, err := openArchive(ctx, cfg, log, cfg.Archive.Migrate)
	if err != nil {
		return err
	}
	if archive == nil {
		return fmt.Errorf("no archive configured")
	}
	defer conn.Close()
	return archive.Save(ctx, snap, time.Now())
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

