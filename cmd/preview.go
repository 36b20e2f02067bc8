// =============================================================================
// SEPA XML Converter - Preview Command
// =============================================================================
//
// This file defines the 'preview' command, which shows what the converter
// will read from a file before converting it.
//
// COMMAND USAGE:
//   sepa-converter preview <file> [--sheet NAME] [--rows N]
//
// OUTPUT:
//   Sheets:    Debits, Notes
//   Sheet:     Debits
//   Rows:      42
//   Separator: ,
//
//   IBAN                    BIC          Name      Amount  ...
//   DE89370400440532013000  DEUTDEBBXXX  John Doe  100,50  ...
//
// =============================================================================

package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ydmw74/sepa-xml-converter/internal/config"
	"github.com/ydmw74/sepa-xml-converter/internal/converter"
	"github.com/ydmw74/sepa-xml-converter/internal/normalize"
)

var previewFlags struct {
	sheet string
	rows  int
}

var previewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Show the sheets, headers and first rows of an input file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPreview(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(previewCmd)

	previewCmd.Flags().StringVar(&previewFlags.sheet, "sheet", "", "Worksheet to read")
	previewCmd.Flags().IntVar(&previewFlags.rows, "rows", 0, "Number of rows to show (default: preview_rows)")
}

func runPreview(out io.Writer, path string) error {
	profiles, err := config.LoadProfiles(appConfig.ProfilesDir)
	if err != nil {
		return fmt.Errorf("failed to load creditor profiles: %w", err)
	}

	conv, err := converter.New(appConfig.WithProfile(config.MatchProfile(path, profiles)), converter.WithLogger(appLog))
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	preview, err := conv.Preview(file, filepath.Base(path), previewFlags.sheet, previewFlags.rows)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Sheets:    %s\n", strings.Join(preview.Sheets, ", "))
	fmt.Fprintf(out, "Sheet:     %s\n", preview.Sheet)
	fmt.Fprintf(out, "Rows:      %d\n", preview.TotalRows)
	fmt.Fprintf(out, "Separator: %s\n", preview.DetectedSeparator)
	if len(preview.Missing) > 0 {
		fmt.Fprintf(out, "Missing:   %s\n", color.YellowString(strings.Join(preview.Missing, ", ")))
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(preview.Headers, "\t"))
	for _, row := range preview.Rows {
		cells := make([]string, len(preview.Headers))
		for i, header := range preview.Headers {
			cells[i] = displayCell(row[header])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}

	return tw.Flush()
}

// displayCell shows numeric cells the way the normalizer reads them.
func displayCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case float64:
		if amount, err := normalize.Amount(v, normalize.Point); err == nil {
			return amount.String()
		}
	}
	return normalize.Text(value)
}
