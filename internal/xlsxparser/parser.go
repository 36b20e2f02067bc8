// =============================================================================
// SEPA XML Converter - XLSX Parser Module
// =============================================================================
//
// This module reads payment rows from Excel workbooks.
//
// SHEET LAYOUT:
//   Row 1 holds the column headers, every following non-blank row is one
//   debit. Column order does not matter.
//
//   | IBAN | BIC | Name | Amount | Mandate ID | Mandate Date | Description |
//
// CELL VALUES:
//   Numeric and date cells are returned as float64 (dates as serial day
//   numbers), everything else as trimmed text. This keeps the cell's real
//   type visible to the normalizer: a typed 100.5 needs no separator
//   guessing, a typed "100,50" does.
//
// =============================================================================

package xlsxparser

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ydmw74/sepa-xml-converter/internal/types"
)

var (
	// ErrNoSheets is returned for a workbook without worksheets.
	ErrNoSheets = errors.New("workbook contains no sheets")

	// ErrUnknownSheet is returned when a requested sheet does not exist.
	ErrUnknownSheet = errors.New("sheet not found")
)

// =============================================================================
// WORKBOOK
// =============================================================================

// Workbook is an open spreadsheet.
type Workbook struct {
	file *excelize.File
}

// OpenFile opens a workbook from disk.
func OpenFile(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	return &Workbook{file: f}, nil
}

// Open reads a workbook from a stream, e.g. an uploaded file.
func Open(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	return &Workbook{file: f}, nil
}

// Close releases the workbook.
func (w *Workbook) Close() error {
	return w.file.Close()
}

// Sheets returns the worksheet names in workbook order.
func (w *Workbook) Sheets() []string {
	return w.file.GetSheetList()
}

// ResolveSheet returns name when it exists, or the first sheet when name is
// empty.
func (w *Workbook) ResolveSheet(name string) (string, error) {
	sheets := w.Sheets()
	if len(sheets) == 0 {
		return "", ErrNoSheets
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return sheets[0], nil
	}

	for _, sheet := range sheets {
		if sheet == name {
			return sheet, nil
		}
	}

	return "", fmt.Errorf("%w: %q (available: %s)", ErrUnknownSheet, name, strings.Join(sheets, ", "))
}

// =============================================================================
// ROW EXTRACTION
// =============================================================================

// ReadTable reads the header row and all non-blank data rows of a sheet.
// An empty sheet name selects the first sheet.
//
// PARAMETERS:
//   - sheet: The worksheet name, or "".
//
// RETURNS:
//   - The table, with an empty row set for a sheet holding only headers.
//   - ErrNoSheets or ErrUnknownSheet for a bad selection.
func (w *Workbook) ReadTable(sheet string) (*types.Table, error) {
	name, err := w.ResolveSheet(sheet)
	if err != nil {
		return nil, err
	}

	rows, err := w.file.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
	}

	table := &types.Table{Sheet: name, Rows: []types.RawRow{}}
	if len(rows) == 0 {
		return table, nil
	}

	// Trailing empty cells are cut per row, so the header row can be shorter
	// than the data below it.
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	header := make([]string, width)
	copy(header, rows[0])
	table.Headers = types.CleanHeaders(header)

	for r := 1; r < len(rows); r++ {
		if isRowEmpty(rows[r]) {
			continue
		}

		row, err := w.parseRow(name, table.Headers, rows[r], r+1)
		if err != nil {
			return nil, err
		}

		table.Rows = append(table.Rows, row)
	}

	return table, nil
}

// parseRow maps one sheet row to a RawRow. rowNumber is the 1-based sheet row.
func (w *Workbook) parseRow(sheet string, headers []string, cells []string, rowNumber int) (types.RawRow, error) {
	row := make(types.RawRow, len(headers))

	for col, header := range headers {
		if col >= len(cells) {
			continue
		}

		value := strings.TrimSpace(cells[col])
		if value == "" {
			continue
		}

		axis, err := excelize.CoordinatesToCellName(col+1, rowNumber)
		if err != nil {
			return nil, err
		}

		cellType, err := w.file.GetCellType(sheet, axis)
		if err != nil {
			return nil, fmt.Errorf("failed to read cell %s: %w", axis, err)
		}

		row[header] = cellValue(cellType, value)
	}

	return row, nil
}

// cellValue returns a float64 for numeric cells and the text otherwise.
func cellValue(cellType excelize.CellType, raw string) any {
	switch cellType {
	case excelize.CellTypeUnset, excelize.CellTypeNumber, excelize.CellTypeDate:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

// isRowEmpty checks if a row contains only empty cells.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// =============================================================================
// SAMPLE WORKBOOK
// =============================================================================

// SampleSheet is the sheet name used by WriteSample.
const SampleSheet = "Sheet1"

// SampleHeaders is the column layout of the sample workbook.
var SampleHeaders = []string{
	types.FieldIBAN,
	types.FieldBIC,
	types.FieldName,
	types.FieldAmount,
	types.FieldMandateID,
	types.FieldMandateDate,
	types.FieldDescription,
}

// SampleRows are the debits written by WriteSample.
var SampleRows = [][]interface{}{
	{"DE89370400440532013000", "DEUTDEBBXXX", "John Doe", 100.50, "MANDATE123", "2023-01-01", "Invoice 123"},
	{"DE27100777770209299700", "DEUTDEBBXXX", "Jane Smith", 75.25, "MANDATE124", "2023-01-02", "Invoice 124"},
}

// WriteSample writes a small workbook in the expected input layout.
func WriteSample(w io.Writer) error {
	return WriteRows(w, SampleSheet, SampleHeaders, SampleRows)
}

// WriteRows writes a single-sheet workbook with a header row.
func WriteRows(w io.Writer, sheet string, headers []string, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheet != SampleSheet {
		if err := f.SetSheetName(SampleSheet, sheet); err != nil {
			return err
		}
	}

	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, row := range rows {
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, axis, &values); err != nil {
			return err
		}
	}

	return f.Write(w)
}
