package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ydmw74/sepa-xml-converter/internal/xlsxparser"
)

var sampleForce bool

// sampleCmd writes a workbook with the expected columns and two debits.
var sampleCmd = &cobra.Command{
	Use:   "sample [path]",
	Short: "Write a sample input workbook",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "sample.xlsx"
		if len(args) == 1 {
			path = args[0]
		}

		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if !sampleForce {
			flags |= os.O_EXCL
		}

		file, err := os.OpenFile(path, flags, 0o644)
		if err != nil {
			return fmt.Errorf("cannot create %s: %w (use --force to overwrite)", path, err)
		}

		if err := xlsxparser.WriteSample(file); err != nil {
			file.Close()
			return err
		}
		if err := file.Close(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sampleCmd)
	sampleCmd.Flags().BoolVar(&sampleForce, "force", false, "Overwrite an existing file")
}
