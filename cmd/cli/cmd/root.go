package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/telemetry"
	"github.com/memtrace/memexport/pkg/utils"
)

var (
	// Global flags
	verbose    bool
	configPath string

	logger   utils.Logger
	fileCfg  *config.FileConfig
	shutdown telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "memexport",
	Short: "Export memory-telemetry snapshots to binary artifacts",
	Long: `memexport packages allocation records, call stacks, and analysis
results into compact binary artifacts.

It supports three artifact layouts (tagged, interchange, chunked), four
compression algorithms, and batch, streaming, and parallel processing
modes. Artifacts are written atomically: the destination path never
holds a partial file.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := utils.LevelInfo
		if verbose {
			logLevel = utils.LevelDebug
		}
		logger = utils.NewDefaultLogger(logLevel, os.Stderr)
		utils.SetGlobalLogger(logger)

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		fileCfg = cfg

		sd, err := telemetry.Init(cmd.Context())
		if err != nil {
			logger.Warn("telemetry init failed, continuing without tracing: %v", err)
			sd = func(context.Context) error { return nil }
		}
		shutdown = sd
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdown != nil {
			return shutdown(cmd.Context())
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ./memexport.yaml)")

	binName := BinName()
	rootCmd.Example = `  # Export a JSON snapshot with the balanced preset
  ` + binName + ` export -i ./snapshot.json -o ./snapshot.mexp

  # Export with the memory-efficient preset and validation
  ` + binName + ` export -i ./snapshot.json -o ./snapshot.mexp --preset memory --validate

  # Inspect an artifact's header and contents
  ` + binName + ` inspect ./snapshot.mexp

  # Verify an artifact end to end
  ` + binName + ` validate ./snapshot.mexp

  # Convert an artifact to the interchange layout
  ` + binName + ` convert ./snapshot.mexp ./snapshot-interchange.mexp --to interchange`
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}
