package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/export"
)

var (
	convertTo     string
	convertOutput string
)

// convertCmd represents the convert command
var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Convert an artifact to a different layout",
	Long: `Convert decodes an artifact and re-encodes it in another layout,
keeping the source compression algorithm. Analysis results survive the
round trip.`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)
	convertCmd.Flags().StringVar(&convertTo, "to", "", "Target layout: tagged, interchange, chunked (required)")
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "Output path (required)")
	convertCmd.MarkFlagRequired("to")
	convertCmd.MarkFlagRequired("output")
}

func runConvert(cmd *cobra.Command, args []string) error {
	target, err := config.ParseFormat(convertTo)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	converted, err := export.ConvertFormat(data, target)
	if err != nil {
		return err
	}
	if err := os.WriteFile(convertOutput, converted, 0o644); err != nil {
		return err
	}

	logger.Info("converted %s -> %s (%s, %d bytes)",
		args[0], convertOutput, target, len(converted))
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", convertOutput)
	return nil
}
