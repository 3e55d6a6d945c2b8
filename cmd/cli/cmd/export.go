package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memtrace/memexport/pkg/compression"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/export"
	"github.com/memtrace/memexport/pkg/snapshot"
)

var (
	// Export command flags
	exportInput    string
	exportOutput   string
	exportPreset   string
	exportFormat   string
	exportComp     string
	exportMode     string
	exportWorkers  int
	exportValidate bool
	exportStrict   bool
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a JSON snapshot to a binary artifact",
	Long: `Export reads a memory snapshot in JSON form and writes a compact
binary artifact.

The snapshot file holds allocation records, a call-stack table keyed by
content hash, and optional analysis results. Flags override the config
file; unset flags fall back to the selected preset.

Presets:
  balanced : chunked layout, zstd, streaming (default)
  fast     : chunked layout, lz4, parallel workers
  memory   : small windows, maximum compression, 64MiB ceiling`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportInput, "input", "i", "", "Input JSON snapshot file (required)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output artifact path (required)")
	exportCmd.Flags().StringVar(&exportPreset, "preset", "", "Preset: balanced, fast, memory")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "Artifact layout: tagged, interchange, chunked")
	exportCmd.Flags().StringVar(&exportComp, "compression", "", "Compression: none, lz4, zstd, gzip, auto")
	exportCmd.Flags().StringVar(&exportMode, "mode", "", "Processing mode: batch, streaming, parallel")
	exportCmd.Flags().IntVar(&exportWorkers, "workers", 0, "Worker count for parallel mode")
	exportCmd.Flags().BoolVar(&exportValidate, "validate", false, "Re-read and verify the artifact after writing")
	exportCmd.Flags().BoolVar(&exportStrict, "strict", false, "Fail on dangling call-stack references instead of repairing")
	exportCmd.MarkFlagRequired("input")
	exportCmd.MarkFlagRequired("output")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := buildExportConfig()
	if err != nil {
		return err
	}

	snap, err := snapshot.ReadFile(exportInput)
	if err != nil {
		return err
	}
	logger.Info("loaded snapshot: %d records, %d stacks", len(snap.Records), len(snap.Stacks))

	res, err := export.WithConfig(cmd.Context(), export.NewSnapshotSource(snap), cfg, exportOutput)
	if err != nil {
		return err
	}

	logger.Info("wrote %s: %d records, %d bytes in %s",
		res.Path, res.RecordCount, res.BytesWritten, res.Duration)
	if ratio := res.Stats.CompressionRatio(); ratio > 0 {
		logger.Info("compression ratio: %.2fx (%d -> %d bytes)",
			ratio, res.Stats.UncompressedSize, res.Stats.CompressedSize)
	}
	for _, w := range res.Warnings {
		logger.Warn("%s", w)
	}
	return nil
}

// buildExportConfig layers preset, config file, and flags.
func buildExportConfig() (config.ExportConfig, error) {
	var cfg config.ExportConfig
	switch exportPreset {
	case "", "balanced":
		var err error
		if cfg, err = fileCfg.ExportConfig(); err != nil {
			return cfg, err
		}
	case "fast":
		cfg = config.HighPerformance()
	case "memory":
		cfg = config.MemoryEfficient()
	default:
		return cfg, fmt.Errorf("unknown preset %q (valid: balanced, fast, memory)", exportPreset)
	}

	if exportFormat != "" {
		f, err := config.ParseFormat(exportFormat)
		if err != nil {
			return cfg, err
		}
		cfg.Format = f
	}
	if exportComp != "" {
		a, err := compression.ParseAlgorithm(exportComp)
		if err != nil {
			return cfg, err
		}
		cfg.Compression = a
	}
	if exportMode != "" {
		m, err := config.ParseProcessingMode(exportMode)
		if err != nil {
			return cfg, err
		}
		cfg.Mode = m
	}
	if exportWorkers > 0 {
		cfg.Workers = exportWorkers
	}
	if exportValidate {
		cfg.ValidateOutput = true
	}
	if exportStrict {
		cfg.StrictCollection = true
	}
	return cfg, cfg.Validate()
}
