// =============================================================================
// SEPA XML Converter - CSV Parser Module
// =============================================================================
//
// This module reads payment rows from CSV exports. It handles:
//   - Different delimiters (semicolon, comma, pipe, tab)
//   - Multi-line headers
//   - Custom data start rows
//   - Legacy encodings (ISO-8859-1, ISO-8859-15, Windows-1252)
//   - A UTF-8 byte order mark
//
// Every cell is returned as a trimmed string. Amounts and dates are left to
// the normalizer, which understands the locale-specific spellings.
//
// =============================================================================

package csvparser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ydmw74/sepa-xml-converter/internal/config"
	"github.com/ydmw74/sepa-xml-converter/internal/types"
)

// ErrNoHeader is returned when the input has fewer rows than header rows.
var ErrNoHeader = errors.New("csv input has no header row")

// =============================================================================
// MAIN PARSING FUNCTION
// =============================================================================

// ParseFile opens and parses a CSV file.
func ParseFile(filePath string, settings config.CSVSettings) (*types.Table, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return Parse(file, filepath.Base(filePath), settings)
}

// Parse reads a CSV stream into a table.
//
// PARAMETERS:
//   - r: The CSV input.
//   - name: Used as the table's sheet name.
//   - settings: The CSV parsing settings.
//
// RETURNS:
//   - The headers and non-blank data rows.
//   - An error if decoding or CSV parsing fails.
func Parse(r io.Reader, name string, settings config.CSVSettings) (*types.Table, error) {
	decoder, err := getDecoder(settings.Encoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(transform.NewReader(r, decoder))
	configureReader(reader, settings)

	allRows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	headers, err := extractHeaders(allRows, settings)
	if err != nil {
		return nil, err
	}

	return &types.Table{
		Sheet:   name,
		Headers: headers,
		Rows:    extractDataRows(allRows, headers, settings),
	}, nil
}

// =============================================================================
// READER CONFIGURATION
// =============================================================================

// Delimiter returns the rune for a configured delimiter. Names such as
// "tab" and "semicolon" are accepted besides the character itself.
func Delimiter(value string) rune {
	switch strings.ToLower(value) {
	case "\\t", "\t", "tab":
		return '\t'
	case "|", "pipe":
		return '|'
	case ";", "semicolon":
		return ';'
	case ",", "comma":
		return ','
	case "":
		return ';'
	}
	return []rune(value)[0]
}

// configureReader applies the settings to a csv.Reader.
func configureReader(reader *csv.Reader, settings config.CSVSettings) {
	reader.Comma = Delimiter(settings.Delimiter)

	// Rows in hand-edited exports often have trailing empty cells missing.
	reader.FieldsPerRecord = -1

	reader.LazyQuotes = true

	// A whitespace delimiter would be swallowed together with empty fields.
	reader.TrimLeadingSpace = reader.Comma != '\t' && reader.Comma != ' '
}

// getDecoder maps an encoding name to a decoder.
func getDecoder(name string) (*encoding.Decoder, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "_", "-")) {
	case "", "UTF-8", "UTF8":
		return &encoding.Decoder{Transformer: unicode.BOMOverride(unicode.UTF8.NewDecoder())}, nil
	case "ISO-8859-1", "LATIN1", "LATIN-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "ISO-8859-15", "LATIN9", "LATIN-9":
		return charmap.ISO8859_15.NewDecoder(), nil
	case "WINDOWS-1252", "CP1252":
		return charmap.Windows1252.NewDecoder(), nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", name)
}

// =============================================================================
// HEADERS AND ROWS
// =============================================================================

// extractHeaders merges the header rows column by column.
//
// MULTI-LINE HEADER HANDLING:
//   Row 1: "Mandate", "",     "Debtor"
//   Row 2: "ID",      "Date", "Name"
//   Result: "Mandate ID", "Date", "Debtor Name"
func extractHeaders(allRows [][]string, settings config.CSVSettings) ([]string, error) {
	headerRows := settings.HeaderRows
	if headerRows <= 0 {
		headerRows = 1
	}

	if len(allRows) < headerRows {
		return nil, ErrNoHeader
	}

	if headerRows == 1 {
		return types.CleanHeaders(allRows[0]), nil
	}

	maxCols := 0
	for i := 0; i < headerRows; i++ {
		if len(allRows[i]) > maxCols {
			maxCols = len(allRows[i])
		}
	}

	headers := make([]string, maxCols)
	for col := 0; col < maxCols; col++ {
		var parts []string

		for row := 0; row < headerRows; row++ {
			if col < len(allRows[row]) {
				if value := strings.TrimSpace(allRows[row][col]); value != "" {
					parts = append(parts, value)
				}
			}
		}

		headers[col] = strings.Join(parts, " ")
	}

	return types.CleanHeaders(headers), nil
}

// extractDataRows converts the data rows to RawRows, skipping blank lines.
func extractDataRows(allRows [][]string, headers []string, settings config.CSVSettings) []types.RawRow {
	startIndex := settings.DataStartRow - 1
	if startIndex < settings.HeaderRows {
		startIndex = settings.HeaderRows
	}
	if startIndex < 1 {
		startIndex = 1
	}

	if startIndex >= len(allRows) {
		return []types.RawRow{}
	}

	rows := make([]types.RawRow, 0, len(allRows)-startIndex)

	for _, record := range allRows[startIndex:] {
		if isRowEmpty(record) {
			continue
		}

		row := make(types.RawRow, len(headers))
		for col, header := range headers {
			if col < len(record) {
				row[header] = strings.TrimSpace(record[col])
			} else {
				row[header] = ""
			}
		}

		rows = append(rows, row)
	}

	return rows
}

// isRowEmpty checks if a row contains only empty values.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
