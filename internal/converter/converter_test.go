package converter

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ydmw74/sepa-xml-converter/internal/config"
	"github.com/ydmw74/sepa-xml-converter/internal/metrics"
	"github.com/ydmw74/sepa-xml-converter/internal/sepa"
	"github.com/ydmw74/sepa-xml-converter/internal/types"
	"github.com/ydmw74/sepa-xml-converter/internal/validation"
	"github.com/ydmw74/sepa-xml-converter/internal/xlsxparser"
	"github.com/ydmw74/sepa-xml-converter/pkg/utils"
)

func fixedBuilder() *sepa.Builder {
	return &sepa.Builder{
		Now:   func() time.Time { return time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC) },
		NewID: func(prefix string) (string, error) { return prefix + "0001", nil },
	}
}

func newTestConverter(t *testing.T, cfg *config.MainConfig, opts ...Option) *Converter {
	t.Helper()

	if cfg == nil {
		cfg = config.Default()
	}
	c, err := New(cfg, append([]Option{WithBuilder(fixedBuilder())}, opts...)...)
	require.NoError(t, err)
	return c
}

func sampleRows() []types.RawRow {
	return []types.RawRow{
		{
			"IBAN": "DE89370400440532013000", "BIC": "DEUTDEBBXXX", "Name": "John Doe",
			"Amount": 100.50, "Mandate ID": "MANDATE123", "Mandate Date": "2023-01-01", "Description": "Invoice 123",
		},
		{
			"IBAN": "DE27100777770209299700", "BIC": "DEUTDEBBXXX", "Name": "Jane Smith",
			"Amount": 75.25, "Mandate ID": "MANDATE124", "Mandate Date": "2023-01-02", "Description": "Invoice 124",
		},
	}
}

func sampleWorkbook(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, xlsxparser.WriteSample(&buf))
	return buf.Bytes()
}

func TestConvertSampleRows(t *testing.T) {
	reg := metrics.NewRegistry()
	c := newTestConverter(t, nil, WithMetrics(reg))

	result, err := c.Convert(context.Background(), sampleRows(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TransactionCount)
	assert.Equal(t, "175.75", result.TotalAmount)
	assert.Equal(t, "MSG0001", result.MessageID)
	assert.Equal(t, ".", result.Separator)
	assert.Empty(t, result.Warnings)

	doc := string(result.XML)
	assert.True(t, strings.HasPrefix(doc, `<?xml version="1.0" encoding="UTF-8"?>`))
	for _, want := range []string{
		`<NbOfTxs>2</NbOfTxs>`,
		`<CtrlSum>175.75</CtrlSum>`,
		`<InstdAmt Ccy="EUR">100.50</InstdAmt>`,
		`<InstdAmt Ccy="EUR">75.25</InstdAmt>`,
		`<MndtId>MANDATE123</MndtId>`,
		`<DtOfSgntr>2023-01-02</DtOfSgntr>`,
		`<ReqdColltnDt>2024-03-02</ReqdColltnDt>`,
		`<Nm>Your Company Name</Nm>`,
		`<SeqTp>FRST</SeqTp>`,
	} {
		assert.Contains(t, doc, want)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Conversions.WithLabelValues(metrics.OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.Transactions))
}

func TestConvertOutputIsWellFormed(t *testing.T) {
	c := newTestConverter(t, nil)

	rows := sampleRows()
	rows[0]["Name"] = "Müller & Söhne <GmbH>"
	rows[1]["Description"] = "Beitrag \"Q1\"\nRate 2"

	result, err := c.Convert(context.Background(), rows, Options{})
	require.NoError(t, err)

	decoder := xml.NewDecoder(bytes.NewReader(result.XML))
	for {
		_, err := decoder.Token()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
	}
	assert.Contains(t, string(result.XML), "<Nm>Müller &amp; Söhne &lt;GmbH&gt;</Nm>")
}

func TestConvertRejectsControlCharacters(t *testing.T) {
	c := newTestConverter(t, nil)

	rows := sampleRows()
	rows[0]["Description"] = "Invoice\x0b123\x01"

	_, err := c.Convert(context.Background(), rows, Options{})
	var validationErr *validation.Error
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"Row 1: Invalid Description, contains control characters"}, validationErr.Messages())
}

func TestConvertNoRows(t *testing.T) {
	c := newTestConverter(t, nil)

	_, err := c.Convert(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoRows)
	assert.Equal(t, KindInput, Classify(err))
}

func TestConvertCanceledContext(t *testing.T) {
	c := newTestConverter(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Convert(ctx, sampleRows(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConvertValidationFailure(t *testing.T) {
	reg := metrics.NewRegistry()
	c := newTestConverter(t, nil, WithMetrics(reg))

	rows := sampleRows()
	rows[0]["IBAN"] = "DE00"
	rows[1]["Amount"] = "abc"

	result, err := c.Convert(context.Background(), rows, Options{})
	assert.Nil(t, result)

	var validationErr *validation.Error
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, []string{
		"Row 1: Invalid IBAN",
		"Row 2: Invalid Amount, not a number",
	}, validationErr.Messages())
	assert.Equal(t, KindValidation, Classify(err))

	assert.Equal(t, 1.0, testutil.ToFloat64(reg.Conversions.WithLabelValues(metrics.OutcomeInvalid)))
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.RowsRejected))
}

func TestConvertCommaSeparator(t *testing.T) {
	c := newTestConverter(t, nil)

	rows := sampleRows()
	rows[0]["Amount"] = "1.234,56"
	rows[1]["Amount"] = "0,44"

	result, err := c.Convert(context.Background(), rows, Options{})
	require.NoError(t, err)
	assert.Equal(t, ",", result.Separator)
	assert.Equal(t, "1235.00", result.TotalAmount)

	// Forcing the point reads "0,44" as 44.
	_, err = c.Convert(context.Background(), rows, Options{Separator: "."})
	require.NoError(t, err)

	_, err = c.Convert(context.Background(), rows, Options{Separator: ";"})
	assert.Equal(t, KindInput, Classify(err))
}

func TestConvertCreditorOverrides(t *testing.T) {
	c := newTestConverter(t, nil)

	rows := sampleRows()
	rows[0][types.FieldCreditorName] = "Sportverein e.V."
	rows[1][types.FieldCreditorName] = "Someone Else"

	result, err := c.Convert(context.Background(), rows, Options{SequenceType: "rcur"})
	require.NoError(t, err)

	assert.Contains(t, string(result.XML), "<Nm>Sportverein e.V.</Nm>")
	assert.Contains(t, string(result.XML), "<SeqTp>RCUR</SeqTp>")
	assert.Equal(t, []string{`Row 2: Creditor Name "Someone Else" differs from row 1 and is ignored`}, result.Warnings)
}

func TestConvertConfigError(t *testing.T) {
	cfg := config.Default()
	cfg.Creditor.IBAN = ""

	c := newTestConverter(t, cfg)

	_, err := c.Convert(context.Background(), sampleRows(), Options{})

	var configErr *sepa.ConfigError
	require.True(t, errors.As(err, &configErr))
	assert.Equal(t, KindConfig, Classify(err))
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.TransformationRules = []config.TransformationRule{
		{Field: "IBAN", Actions: []config.TransformationAction{{Type: "explode"}}},
	}
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, KindConfig, Classify(err))

	cfg = config.Default()
	cfg.DecimalSeparator = "x"
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConvertAppliesAliasesAndRules(t *testing.T) {
	cfg := config.Default()
	cfg.HeaderAliases = map[string]string{"Kontoinhaber": types.FieldName, "Betrag": types.FieldAmount}
	cfg.TransformationRules = []config.TransformationRule{
		{Field: types.FieldIBAN, Actions: []config.TransformationAction{{Type: "remove_whitespace"}, {Type: "uppercase"}}},
		{Field: types.FieldDescription, Actions: []config.TransformationAction{{Type: "if_empty_use_default", Value: "Beitrag"}}},
	}
	c := newTestConverter(t, cfg)

	table := &types.Table{
		Sheet:   "Mitglieder",
		Headers: []string{"iban", "BIC", "Kontoinhaber", "Betrag", "Mandate ID", "Mandate Date"},
		Rows: []types.RawRow{{
			"iban": "de89 3704 0044 0532 0130 00", "BIC": "DEUTDEBBXXX", "Kontoinhaber": "Max",
			"Betrag": "12,00", "Mandate ID": "M1", "Mandate Date": "15.03.2023",
		}},
	}

	result, err := c.ConvertTable(context.Background(), table, Options{})
	require.NoError(t, err)

	doc := string(result.XML)
	assert.Contains(t, doc, "<IBAN>DE89370400440532013000</IBAN>")
	assert.Contains(t, doc, "<Ustrd>Beitrag</Ustrd>")
	assert.Contains(t, doc, "<DtOfSgntr>2023-03-15</DtOfSgntr>")
	assert.Equal(t, "Mitglieder", result.Sheet)
	assert.Equal(t, "12.00", result.TotalAmount)
}

func TestConvertReaderWorkbook(t *testing.T) {
	c := newTestConverter(t, nil)

	result, err := c.ConvertReader(context.Background(), bytes.NewReader(sampleWorkbook(t)), "debits.xlsx", Options{})
	require.NoError(t, err)
	assert.Equal(t, "175.75", result.TotalAmount)
	assert.Equal(t, xlsxparser.SampleSheet, result.Sheet)

	_, err = c.ConvertReader(context.Background(), bytes.NewReader(sampleWorkbook(t)), "debits.xlsx", Options{Sheet: "Missing"})
	assert.ErrorIs(t, err, xlsxparser.ErrUnknownSheet)
	assert.Equal(t, KindInput, Classify(err))
}

func TestConvertReaderCSV(t *testing.T) {
	c := newTestConverter(t, nil)

	input := "IBAN;BIC;Name;Amount;Mandate ID;Mandate Date;Description\n" +
		"DE89370400440532013000;DEUTDEBBXXX;John Doe;100,50;MANDATE123;01.01.2023;Invoice 123\n"

	result, err := c.ConvertReader(context.Background(), strings.NewReader(input), "debits.csv", Options{})
	require.NoError(t, err)
	assert.Equal(t, "100.50", result.TotalAmount)
	assert.Equal(t, ",", result.Separator)

	_, err = c.ConvertReader(context.Background(), strings.NewReader("IBAN;Name\n"), "empty.csv", Options{})
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestConvertReaderErrors(t *testing.T) {
	c := newTestConverter(t, nil)

	_, err := c.ConvertReader(context.Background(), strings.NewReader("x"), "debits.pdf", Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = c.ConvertReader(context.Background(), strings.NewReader("garbage"), "debits.xlsx", Options{})
	assert.ErrorIs(t, err, ErrUnreadableInput)
	assert.Equal(t, KindInput, Classify(err))

	_, err = c.ConvertFile(context.Background(), filepath.Join(t.TempDir(), "missing.xlsx"), Options{})
	assert.ErrorIs(t, err, ErrUnreadableInput)
}

func TestPreview(t *testing.T) {
	c := newTestConverter(t, nil)

	preview, err := c.Preview(bytes.NewReader(sampleWorkbook(t)), "debits.xlsx", "", 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"Sheet1"}, preview.Sheets)
	assert.Equal(t, "Sheet1", preview.Sheet)
	assert.Equal(t, xlsxparser.SampleHeaders, preview.Headers)
	assert.Len(t, preview.Rows, 1)
	assert.Equal(t, 2, preview.TotalRows)
	assert.Equal(t, ".", preview.DetectedSeparator)
	assert.Empty(t, preview.Missing)

	csvPreview, err := c.Preview(strings.NewReader("Name;Amount\nA;1,5\n"), "x.csv", "", 0)
	require.NoError(t, err)
	assert.Equal(t, ",", csvPreview.DetectedSeparator)
	assert.Equal(t, []string{"IBAN", "BIC", "Mandate ID", "Mandate Date", "Description"}, csvPreview.Missing)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindInternal, Classify(errors.New("boom")))
	assert.Equal(t, "configuration", KindConfig.String())
	assert.Equal(t, "internal", KindInternal.String())
}

func newRunManager(t *testing.T) *utils.FileManager {
	t.Helper()
	root := t.TempDir()
	fm := utils.NewFileManager(
		filepath.Join(root, "input"),
		filepath.Join(root, "output"),
		filepath.Join(root, "archive"),
		filepath.Join(root, "errors"),
	)
	require.NoError(t, fm.EnsureDirectories())
	return fm
}

func TestRunWritesAndArchives(t *testing.T) {
	c := newTestConverter(t, nil)
	fm := newRunManager(t)

	input := filepath.Join(fm.InputDir, "members.xlsx")
	require.NoError(t, os.WriteFile(input, sampleWorkbook(t), 0o644))

	result := c.Run(context.Background(), input, fm, RunOptions{OutputName: "{original}_{msgid}.xml"})
	require.NoError(t, result.Error)
	assert.True(t, result.Success)

	assert.Equal(t, filepath.Join(fm.OutputDir, "members_MSG0001.xml"), result.OutputFile)
	assert.FileExists(t, result.OutputFile)
	assert.Equal(t, filepath.Join(fm.InputArchiveDir, "members.xlsx"), result.ArchivePath)
	assert.NoFileExists(t, input)
	assert.Equal(t, 2, result.Stats.RowsProcessed)
	assert.Equal(t, 2, result.Stats.TransactionsCreated)
}

func TestRunRejectedFile(t *testing.T) {
	c := newTestConverter(t, nil)
	fm := newRunManager(t)

	input := filepath.Join(fm.InputDir, "members.csv")
	content := "IBAN;BIC;Name;Amount;Mandate ID;Mandate Date;Description\n" +
		"DE00;DEUTDEBBXXX;John Doe;100,50;MANDATE123;01.01.2023;Invoice 123\n"
	require.NoError(t, os.WriteFile(input, []byte(content), 0o644))

	result := c.Run(context.Background(), input, fm, RunOptions{})
	assert.False(t, result.Success)
	assert.Equal(t, KindValidation, Classify(result.Error))
	assert.Equal(t, 1, result.Stats.ValidationErrors)
	assert.FileExists(t, input)
	assert.Empty(t, result.OutputFile)

	require.NotEmpty(t, result.ErrorLog)
	data, err := os.ReadFile(result.ErrorLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[validation] Row 1: Invalid IBAN")

	outputs, err := os.ReadDir(fm.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestRunDryRun(t *testing.T) {
	c := newTestConverter(t, nil)
	fm := newRunManager(t)

	input := filepath.Join(fm.InputDir, "members.xlsx")
	require.NoError(t, os.WriteFile(input, sampleWorkbook(t), 0o644))

	result := c.Run(context.Background(), input, fm, RunOptions{DryRun: true})
	require.NoError(t, result.Error)
	assert.True(t, result.Success)
	assert.Empty(t, result.OutputFile)
	assert.FileExists(t, input)
	require.NotNil(t, result.Result)
	assert.Equal(t, "175.75", result.Result.TotalAmount)
}
