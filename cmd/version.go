// =============================================================================
// SEPA XML Converter - Version Command
// =============================================================================
//
// COMMAND USAGE:
//   sepa-converter version
//
// OUTPUT:
//   SEPA XML Converter
//   Version:    1.0.0
//   Build Date: 2024-01-01
//   Schema:     pain.008.001.02.xsd
//   Go Version: go1.24.0
//
// =============================================================================

package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ydmw74/sepa-xml-converter/internal/sepa"
)

// These variables are set at build time using ldflags:
//   go build -ldflags "-X 'github.com/ydmw74/sepa-xml-converter/cmd.Version=1.0.0'"

// Version is the application version.
var Version = "1.0.0"

// BuildDate is the date the application was built.
var BuildDate = "unknown"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the application version",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "SEPA XML Converter")
		fmt.Fprintf(out, "Version:    %s\n", Version)
		fmt.Fprintf(out, "Build Date: %s\n", BuildDate)
		fmt.Fprintf(out, "Schema:     %s\n", sepa.SchemaFile)
		fmt.Fprintf(out, "Go Version: %s\n", runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
