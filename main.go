// =============================================================================
// SEPA XML Converter - Main Entry Point
// =============================================================================
//
// USAGE:
//   sepa-converter convert     - Convert debit lists to pain.008 XML
//   sepa-converter preview     - Show what will be read from a file
//   sepa-converter sample      - Write a sample input workbook
//   sepa-converter serve       - Start the HTTP API
//   sepa-converter version     - Display the application version
//
// ARCHITECTURE:
//   - cmd/                : CLI command definitions (Cobra)
//   - internal/normalize  : amount, date and text normalization
//   - internal/validation : row validation
//   - internal/sepa       : creditor profile and pain.008 message
//   - internal/converter  : the conversion pipeline
//   - internal/server     : HTTP API
//   - pkg/utils           : file handling around a conversion run
//
// =============================================================================

package main

import (
	"github.com/ydmw74/sepa-xml-converter/cmd"
)

func main() {
	cmd.Execute()
}
