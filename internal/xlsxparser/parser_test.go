package xlsxparser

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func openSample(t *testing.T) *Workbook {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, WriteSample(&buf))

	wb, err := Open(&buf)
	require.NoError(t, err)
	t.Cleanup(func() { wb.Close() })

	return wb
}

func TestReadTableSample(t *testing.T) {
	wb := openSample(t)

	assert.Equal(t, []string{"Sheet1"}, wb.Sheets())

	table, err := wb.ReadTable("")
	require.NoError(t, err)

	assert.Equal(t, "Sheet1", table.Sheet)
	assert.Equal(t, SampleHeaders, table.Headers)
	require.Len(t, table.Rows, 2)

	first := table.Rows[0]
	assert.Equal(t, "DE89370400440532013000", first["IBAN"])
	assert.Equal(t, 100.5, first["Amount"])
	assert.Equal(t, "MANDATE123", first["Mandate ID"])
	assert.Equal(t, "2023-01-01", first["Mandate Date"])
	assert.Equal(t, 75.25, table.Rows[1]["Amount"])
}

func TestReadTableUnknownSheet(t *testing.T) {
	wb := openSample(t)

	_, err := wb.ReadTable("Missing")
	assert.ErrorIs(t, err, ErrUnknownSheet)
	assert.Contains(t, err.Error(), "Sheet1")
}

func TestReadTableTypedCells(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "Debits"))
	_, err := f.NewSheet("Notes")
	require.NoError(t, err)

	require.NoError(t, f.SetSheetRow("Debits", "A1", &[]interface{}{"Name", "Amount", "Mandate Date", "Mandate ID", ""}))
	require.NoError(t, f.SetSheetRow("Debits", "A2", &[]interface{}{"  Max  ", "1.234,56", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), 4711, "x"}))
	// Row 3 stays blank and is skipped.
	require.NoError(t, f.SetSheetRow("Debits", "A4", &[]interface{}{"Erika", 12}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	wb, err := Open(&buf)
	require.NoError(t, err)
	defer wb.Close()

	assert.Equal(t, []string{"Debits", "Notes"}, wb.Sheets())

	table, err := wb.ReadTable("Debits")
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Amount", "Mandate Date", "Mandate ID", "Column_5"}, table.Headers)
	require.Len(t, table.Rows, 2)

	row := table.Rows[0]
	assert.Equal(t, "Max", row["Name"])
	assert.Equal(t, "1.234,56", row["Amount"])
	assert.Equal(t, 44927.0, row["Mandate Date"])
	assert.Equal(t, 4711.0, row["Mandate ID"])

	assert.Equal(t, 12.0, table.Rows[1]["Amount"])
	_, present := table.Rows[1]["Mandate ID"]
	assert.False(t, present)

	notes, err := wb.ReadTable("Notes")
	require.NoError(t, err)
	assert.Empty(t, notes.Headers)
	assert.Empty(t, notes.Rows)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.xlsx")

	file, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteSample(file))
	require.NoError(t, file.Close())

	wb, err := OpenFile(path)
	require.NoError(t, err)
	defer wb.Close()

	sheet, err := wb.ResolveSheet("Sheet1")
	require.NoError(t, err)
	assert.Equal(t, "Sheet1", sheet)

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.Error(t, err)
}

func TestOpenGarbage(t *testing.T) {
	_, err := Open(bytes.NewReader([]byte("not a workbook")))
	assert.Error(t, err)
}

func TestCellValue(t *testing.T) {
	assert.Equal(t, 3.5, cellValue(excelize.CellTypeNumber, "3.5"))
	assert.Equal(t, 3.5, cellValue(excelize.CellTypeUnset, "3.5"))
	assert.Equal(t, "3.5", cellValue(excelize.CellTypeSharedString, "3.5"))
	assert.Equal(t, "n/a", cellValue(excelize.CellTypeNumber, "n/a"))
}
