package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agenteval/agenteval/pkg/export"
)

var exportRunID uint

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run with its results and telemetry",
	Long: `Write one evaluation run, its per-agent summary, result rows and
telemetry events as a JSON document to the configured export backend.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().UintVar(&exportRunID, "run-id", 0, "run to export (required)")
	_ = exportCmd.MarkFlagRequired("run-id")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	exporter, err := export.New(log, &cfg.Export)
	if err != nil {
		return fmt.Errorf("creating exporter: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := exporter.Preflight(ctx); err != nil {
		return fmt.Errorf("export preflight: %w", err)
	}

	st, err := startStore(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Store stop error")
		}
	}()

	doc, err := export.Build(ctx, st, exportRunID)
	if err != nil {
		return err
	}

	location, err := exporter.Export(ctx, doc)
	if err != nil {
		return fmt.Errorf("exporting run %d: %w", exportRunID, err)
	}

	fmt.Println(location)

	return nil
}
