package csvparser

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/ydmw74/sepa-xml-converter/internal/config"
)

func defaultSettings() config.CSVSettings {
	return config.Default().CSVSettings
}

func TestParse(t *testing.T) {
	input := "IBAN;BIC;Name;Amount;Mandate ID;Mandate Date;Description\n" +
		"DE89370400440532013000;DEUTDEBBXXX;John Doe;100,50;MANDATE123;01.01.2023;Invoice 123\n" +
		"\n" +
		"DE27100777770209299700;DEUTDEBBXXX; Jane Smith ;75,25;MANDATE124;02.01.2023;Invoice 124\n"

	table, err := Parse(strings.NewReader(input), "debits.csv", defaultSettings())
	require.NoError(t, err)

	assert.Equal(t, "debits.csv", table.Sheet)
	assert.Equal(t, []string{"IBAN", "BIC", "Name", "Amount", "Mandate ID", "Mandate Date", "Description"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "100,50", table.Rows[0]["Amount"])
	assert.Equal(t, "Jane Smith", table.Rows[1]["Name"])
}

func TestParseLatin1(t *testing.T) {
	encoded, err := charmap.ISO8859_1.NewEncoder().String("Name,Amount\nJ\u00fcrgen M\u00fcller,10.00\n")
	require.NoError(t, err)

	settings := defaultSettings()
	settings.Delimiter = "comma"
	settings.Encoding = "ISO-8859-1"

	table, err := Parse(strings.NewReader(encoded), "x.csv", settings)
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "J\u00fcrgen M\u00fcller", table.Rows[0]["Name"])
}

func TestParseStripsBOM(t *testing.T) {
	table, err := Parse(strings.NewReader("\ufeffIBAN;Name\nDE1;A\n"), "x.csv", defaultSettings())
	require.NoError(t, err)
	assert.Equal(t, "IBAN", table.Headers[0])
}

func TestParseMultiLineHeader(t *testing.T) {
	settings := defaultSettings()
	settings.Delimiter = "tab"
	settings.HeaderRows = 2
	settings.DataStartRow = 3

	input := "Mandate\t\tDebtor\t\nID\tDate\tName\t\nM1\t2023-01-01\tJohn\textra\n"

	table, err := Parse(strings.NewReader(input), "x.tsv", settings)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mandate ID", "Date", "Debtor Name", "Column_4"}, table.Headers)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "M1", table.Rows[0]["Mandate ID"])
}

func TestParseShortRowsAndDuplicates(t *testing.T) {
	table, err := Parse(strings.NewReader("Name;Name;Amount\nA;B\n"), "x.csv", defaultSettings())
	require.NoError(t, err)
	assert.Equal(t, []string{"Name", "Name_1", "Amount"}, table.Headers)
	assert.Equal(t, "", table.Rows[0]["Amount"])
	assert.Equal(t, "B", table.Rows[0]["Name_1"])
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(strings.NewReader(""), "x.csv", defaultSettings())
	assert.ErrorIs(t, err, ErrNoHeader)

	settings := defaultSettings()
	settings.Encoding = "EBCDIC"
	_, err = Parse(strings.NewReader("a;b\n"), "x.csv", settings)
	assert.Error(t, err)
}

func TestParseHeaderOnly(t *testing.T) {
	table, err := Parse(strings.NewReader("IBAN;Name\n"), "x.csv", defaultSettings())
	require.NoError(t, err)
	assert.Empty(t, table.Rows)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debits.csv")
	require.NoError(t, os.WriteFile(path, []byte("Name;Amount\nA;1\n"), 0o644))

	table, err := ParseFile(path, defaultSettings())
	require.NoError(t, err)
	assert.Equal(t, "debits.csv", table.Sheet)
	assert.Len(t, table.Rows, 1)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.csv"), defaultSettings())
	assert.Error(t, err)
}

func TestDelimiter(t *testing.T) {
	assert.Equal(t, '\t', Delimiter("tab"))
	assert.Equal(t, ';', Delimiter(""))
	assert.Equal(t, ',', Delimiter("comma"))
	assert.Equal(t, '#', Delimiter("#"))
}
