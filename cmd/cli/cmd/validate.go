package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memtrace/memexport/pkg/export"
)

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Verify the integrity of a binary artifact",
	Long: `Validate re-reads an artifact independently of the export path and
checks its framing, checksums, record counts, and call-stack references.
It exits non-zero when the artifact does not pass.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	report, err := export.ValidateFile(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "File:     %s\n", report.Path)
	fmt.Fprintf(out, "Records:  %d\n", report.RecordCount)
	fmt.Fprintf(out, "Stacks:   %d\n", report.StackCount)
	fmt.Fprintf(out, "Checksum: %v\n", report.ChecksumOK)

	if report.Valid {
		fmt.Fprintln(out, "Result:   OK")
		return nil
	}
	for _, e := range report.Errors {
		fmt.Fprintf(out, "  error: %s\n", e)
	}
	return fmt.Errorf("%s failed validation with %d error(s)", report.Path, len(report.Errors))
}
