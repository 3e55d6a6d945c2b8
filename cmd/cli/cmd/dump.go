package cmd

import (
	"github.com/spf13/cobra"

	"github.com/memtrace/memexport/pkg/export"
	"github.com/memtrace/memexport/pkg/snapshot"
)

var (
	dumpOutput string
	dumpPretty bool
)

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Decode an artifact back into a JSON snapshot",
	Long: `Dump decodes a binary artifact and writes it as a JSON snapshot,
the inverse of export. Output paths ending in ".gz" are gzip
compressed. Without --output the snapshot goes to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "Output snapshot path (default stdout)")
	dumpCmd.Flags().BoolVar(&dumpPretty, "pretty", false, "Pretty-print the JSON output")
}

func runDump(cmd *cobra.Command, args []string) error {
	u, err := export.Load(args[0])
	if err != nil {
		return err
	}

	w := snapshot.NewWriter()
	if dumpPretty {
		w = snapshot.NewPrettyWriter()
	}
	if dumpOutput == "" {
		return w.Write(u, cmd.OutOrStdout())
	}
	if err := w.WriteFile(u, dumpOutput); err != nil {
		return err
	}
	logger.Info("dumped %d records to %s", len(u.Records), dumpOutput)
	return nil
}
