package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/memtrace/memexport/internal/format"
	"github.com/memtrace/memexport/pkg/export"
)

var inspectFull bool

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Print artifact header and content summary",
	Long: `Inspect prints the header of a binary artifact: layout, version,
and compression. With --full it decodes the whole file and summarizes
records, call stacks, and analysis results.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectFull, "full", false, "Decode the whole artifact, not just the header")
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	prefix := make([]byte, format.HeaderSize)
	_, err = io.ReadFull(f, prefix)
	f.Close()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	hdr, err := export.Detect(prefix)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "File:        %s\n", path)
	fmt.Fprintf(out, "Version:     %d\n", hdr.Version)
	fmt.Fprintf(out, "Format:      %s\n", hdr.Format)
	fmt.Fprintf(out, "Compression: %s\n", hdr.Compression)
	fmt.Fprintf(out, "Analysis:    %v\n", hdr.Flags&format.FlagHasAnalysis != 0)

	if !inspectFull {
		return nil
	}

	u, err := export.Load(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Records:     %d\n", len(u.Records))
	fmt.Fprintf(out, "Stacks:      %d\n", len(u.Stacks))
	if !u.Analysis.IsEmpty() {
		fmt.Fprintf(out, "Leak candidates:     %d\n", len(u.Analysis.LeakCandidates))
		fmt.Fprintf(out, "Type aggregates:     %d\n", len(u.Analysis.TypeAggregates))
		fmt.Fprintf(out, "Fragmentation score: %.3f\n", u.Analysis.FragmentationScore)
	}
	return nil
}
