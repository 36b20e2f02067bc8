// =============================================================================
// SEPA XML Converter - Converter Module
// =============================================================================
//
// This module contains the core conversion logic. It orchestrates one
// conversion, from the tabular source to the pain.008 document.
//
// CONVERSION PIPELINE:
//   1. Read the rows of the selected sheet (XLSX) or the CSV export
//   2. Rename the columns through the header aliases
//   3. Apply the transformation rules
//   4. Choose the decimal separator (configured or detected)
//   5. Normalize and validate every row
//   6. Resolve the creditor profile
//   7. Build and serialize the message
//
// The file pipeline in Run adds writing the output, archiving the input and
// writing an error log for rejected files.
//
// CONCURRENCY:
//   A Converter holds no per-conversion state and can be shared by
//   goroutines. Each file of a CLI run and each HTTP request is converted
//   independently.
//
// =============================================================================

package converter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ydmw74/sepa-xml-converter/internal/config"
	"github.com/ydmw74/sepa-xml-converter/internal/csvparser"
	"github.com/ydmw74/sepa-xml-converter/internal/logger"
	"github.com/ydmw74/sepa-xml-converter/internal/metrics"
	"github.com/ydmw74/sepa-xml-converter/internal/normalize"
	"github.com/ydmw74/sepa-xml-converter/internal/sepa"
	"github.com/ydmw74/sepa-xml-converter/internal/types"
	"github.com/ydmw74/sepa-xml-converter/internal/validation"
	"github.com/ydmw74/sepa-xml-converter/internal/xlsxparser"
	"github.com/ydmw74/sepa-xml-converter/pkg/utils"
)

var (
	// ErrNoRows is returned for an input without data rows.
	ErrNoRows = errors.New("no data rows found")

	// ErrUnsupportedFile is returned for file types other than XLSX and CSV.
	ErrUnsupportedFile = errors.New("unsupported file type")

	// ErrUnreadableInput wraps failures to open or parse the source.
	ErrUnreadableInput = errors.New("unreadable input")

	// ErrInvalidConfig wraps configuration problems found at construction.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// Kind groups conversion errors by who has to act on them.
type Kind int

const (
	// KindInternal is an unexpected failure.
	KindInternal Kind = iota
	// KindInput means the uploaded or discovered file cannot be used.
	KindInput
	// KindValidation means one or more rows were rejected.
	KindValidation
	// KindConfig means the creditor or converter configuration is incomplete.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindValidation:
		return "validation"
	case KindConfig:
		return "configuration"
	}
	return "internal"
}

// Classify returns the kind of a conversion error.
func Classify(err error) Kind {
	var validationErr *validation.Error
	var configErr *sepa.ConfigError

	switch {
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &configErr), errors.Is(err, ErrInvalidConfig):
		return KindConfig
	case errors.Is(err, ErrNoRows),
		errors.Is(err, ErrUnsupportedFile),
		errors.Is(err, ErrUnreadableInput),
		errors.Is(err, xlsxparser.ErrNoSheets),
		errors.Is(err, xlsxparser.ErrUnknownSheet),
		errors.Is(err, csvparser.ErrNoHeader),
		errors.Is(err, normalize.ErrInvalidSeparator):
		return KindInput
	}
	return KindInternal
}

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Options select how one input is read.
type Options struct {
	// Sheet is the worksheet to convert. Empty means the configured sheet,
	// then the first sheet.
	Sheet string

	// Separator overrides the configured decimal separator ("auto", ".", ",").
	Separator string

	// SequenceType overrides the creditor's sequence type.
	SequenceType string
}

// Result is a successful conversion.
type Result struct {
	// XML is the serialized pain.008 document.
	XML []byte

	// TransactionCount is the number of DrctDbtTxInf entries.
	TransactionCount int

	// TotalAmount is the control sum with two decimals.
	TotalAmount string

	// MessageID is the GrpHdr/MsgId.
	MessageID string

	// Sheet is the sheet (or CSV file name) the rows came from.
	Sheet string

	// Separator is the decimal separator used for text amounts.
	Separator string

	// Warnings lists ignored creditor overrides.
	Warnings []string

	// Message is the built message.
	Message *sepa.Message
}

// =============================================================================
// CONVERTER STRUCTURE
// =============================================================================

// Converter converts tabular debit lists into pain.008 messages.
type Converter struct {
	cfg         *config.MainConfig
	log         zerolog.Logger
	builder     *sepa.Builder
	metrics     *metrics.Registry
	transformer *Transformer
	mapper      *ColumnMapper
	separator   normalize.Separator
}

// Option customizes a Converter.
type Option func(*Converter)

// WithLogger sets the logger used when the context carries none.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Converter) { c.log = log }
}

// WithBuilder replaces the message builder, e.g. with a fixed clock.
func WithBuilder(b *sepa.Builder) Option {
	return func(c *Converter) { c.builder = b }
}

// WithMetrics records every conversion in reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(c *Converter) { c.metrics = reg }
}

// New creates a converter for cfg.
//
// RETURNS:
//   - An error wrapping ErrInvalidConfig for bad transformation rules or
//     an unknown decimal separator.
func New(cfg *config.MainConfig, opts ...Option) (*Converter, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	transformer, err := NewTransformer(cfg.TransformationRules)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	separator, err := normalize.ParseSeparator(cfg.DecimalSeparator)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	c := &Converter{
		cfg:         cfg,
		log:         zerolog.Nop(),
		builder:     sepa.NewBuilder(),
		transformer: transformer,
		mapper:      NewColumnMapper(cfg.HeaderAliases),
		separator:   separator,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Config returns the configuration the converter was built with.
func (c *Converter) Config() *config.MainConfig {
	return c.cfg
}

// loggerFor prefers the request logger carried by ctx.
func (c *Converter) loggerFor(ctx context.Context) zerolog.Logger {
	if l := logger.FromContext(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return c.log
}

// =============================================================================
// CONVERSION
// =============================================================================

// Convert converts rows keyed by column header. Keys are matched against
// the field names and header aliases.
func (c *Converter) Convert(ctx context.Context, rows []types.RawRow, opts Options) (*Result, error) {
	return c.ConvertTable(ctx, &types.Table{Rows: rows}, opts)
}

// ConvertTable converts a table read from a source.
//
// RETURNS:
//   - The result, or exactly one error: ErrNoRows, a *validation.Error with
//     every row message, a *sepa.ConfigError or an input error.
func (c *Converter) ConvertTable(ctx context.Context, table *types.Table, opts Options) (*Result, error) {
	start := time.Now()
	log := c.loggerFor(ctx).With().Str("sheet", table.Sheet).Logger()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// =========================================================================
	// STEP 1: CHECK FOR DATA
	// =========================================================================

	if len(table.Rows) == 0 {
		c.metrics.Observe(metrics.OutcomeError, 0, 0, 0, 0, time.Since(start))
		return nil, ErrNoRows
	}

	// =========================================================================
	// STEP 2: MAP COLUMNS AND APPLY TRANSFORMATION RULES
	// =========================================================================

	rows := make([]types.RawRow, len(table.Rows))
	for i, row := range table.Rows {
		rows[i] = c.transformer.TransformRow(c.mapper.Row(row, table.Headers))
	}

	// =========================================================================
	// STEP 3: CHOOSE THE DECIMAL SEPARATOR
	// =========================================================================

	separator := c.separator
	if opts.Separator != "" {
		parsed, err := normalize.ParseSeparator(opts.Separator)
		if err != nil {
			c.metrics.Observe(metrics.OutcomeError, len(rows), 0, 0, 0, time.Since(start))
			return nil, err
		}
		separator = parsed
	}
	if separator == normalize.Auto {
		separator = normalize.DetectSeparator(rows)
		log.Debug().Str("separator", separator.String()).Msg("detected decimal separator")
	}

	// =========================================================================
	// STEP 4: NORMALIZE AND VALIDATE
	// =========================================================================

	transactions, err := validation.NewValidator(c.cfg.MaxConcurrency).ValidateAll(rows, separator)
	if err != nil {
		var validationErr *validation.Error
		if errors.As(err, &validationErr) {
			for _, message := range validationErr.Messages() {
				log.Warn().Msg(message)
			}
			c.metrics.Observe(metrics.OutcomeInvalid, len(rows), len(validationErr.FaultyRows()), 0, 0, time.Since(start))
		}
		return nil, err
	}

	// =========================================================================
	// STEP 5: RESOLVE THE CREDITOR
	// =========================================================================

	defaults := sepa.Profile{
		Name:         c.cfg.Creditor.Name,
		IBAN:         normalize.CompactIBAN(c.cfg.Creditor.IBAN),
		BIC:          c.cfg.Creditor.BIC,
		SchemeID:     c.cfg.Creditor.SchemeID,
		SequenceType: strings.ToUpper(c.cfg.Creditor.SequenceType),
	}
	profile, warnings := sepa.ResolveProfile(defaults, rows)
	if opts.SequenceType != "" {
		profile.SequenceType = strings.ToUpper(strings.TrimSpace(opts.SequenceType))
	}
	for _, warning := range warnings {
		log.Warn().Msg(warning)
	}

	// =========================================================================
	// STEP 6: BUILD AND SERIALIZE
	// =========================================================================

	message, err := c.builder.Build(transactions, profile)
	if err != nil {
		c.metrics.Observe(metrics.OutcomeError, len(rows), 0, 0, 0, time.Since(start))
		return nil, err
	}

	document, err := message.XML()
	if err != nil {
		c.metrics.Observe(metrics.OutcomeError, len(rows), 0, 0, 0, time.Since(start))
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	took := time.Since(start)
	c.metrics.Observe(metrics.OutcomeSuccess, len(rows), 0, message.NbOfTxs(), message.ControlSum.InexactFloat64(), took)

	log.Info().
		Int("rows", len(rows)).
		Str("separator", separator.String()).
		Int("transactions", message.NbOfTxs()).
		Str("total", message.CtrlSum()).
		Str("msg_id", message.MessageID).
		Dur("took", took).
		Msg("conversion complete")

	return &Result{
		XML:              document,
		TransactionCount: message.NbOfTxs(),
		TotalAmount:      message.CtrlSum(),
		MessageID:        message.MessageID,
		Sheet:            table.Sheet,
		Separator:        separator.String(),
		Warnings:         warnings,
		Message:          message,
	}, nil
}

// ConvertFile reads path and converts it. The source is chosen by the file
// extension.
func (c *Converter) ConvertFile(ctx context.Context, path string, opts Options) (*Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableInput, err)
	}
	defer file.Close()

	return c.ConvertReader(ctx, file, filepath.Base(path), opts)
}

// ConvertReader converts an uploaded file. fileName selects the source.
func (c *Converter) ConvertReader(ctx context.Context, r io.Reader, fileName string, opts Options) (*Result, error) {
	table, _, err := c.ReadTable(r, fileName, opts.Sheet)
	if err != nil {
		return nil, err
	}
	return c.ConvertTable(ctx, table, opts)
}

// =============================================================================
// SOURCES
// =============================================================================

// ReadTable reads one sheet of a workbook, or a CSV export.
//
// RETURNS:
//   - The table with the source's own headers.
//   - The sheet names of a workbook, or the file name for CSV.
//   - An input error for unknown types, unreadable files and bad sheets.
func (c *Converter) ReadTable(r io.Reader, fileName, sheet string) (*types.Table, []string, error) {
	if sheet == "" {
		sheet = c.cfg.Sheet
	}

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		workbook, err := xlsxparser.Open(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrUnreadableInput, err)
		}
		defer workbook.Close()

		table, err := workbook.ReadTable(sheet)
		if err != nil {
			return nil, nil, err
		}
		return table, workbook.Sheets(), nil

	case ".csv", ".txt", ".tsv":
		table, err := csvparser.Parse(r, fileName, c.cfg.CSVSettings)
		if err != nil {
			if errors.Is(err, csvparser.ErrNoHeader) {
				return nil, nil, err
			}
			return nil, nil, fmt.Errorf("%w: %w", ErrUnreadableInput, err)
		}
		return table, []string{table.Sheet}, nil
	}

	return nil, nil, fmt.Errorf("%w: %q (expected .xlsx or .csv)", ErrUnsupportedFile, fileName)
}

// =============================================================================
// PREVIEW
// =============================================================================

// Preview describes an input before conversion.
type Preview struct {
	Sheets            []string       `json:"sheets"`
	Sheet             string         `json:"sheet"`
	Headers           []string       `json:"headers"`
	Rows              []types.RawRow `json:"rows"`
	TotalRows         int            `json:"totalRows"`
	DetectedSeparator string         `json:"detectedSeparator"`
	Missing           []string       `json:"missing,omitempty"`
}

// Preview reads an input and returns its first n rows, the separator that
// detection would pick and the required columns that are not present.
// n <= 0 uses the configured preview_rows.
func (c *Converter) Preview(r io.Reader, fileName, sheet string, n int) (*Preview, error) {
	table, sheets, err := c.ReadTable(r, fileName, sheet)
	if err != nil {
		return nil, err
	}

	if n <= 0 {
		n = c.cfg.PreviewRows
	}
	if n > len(table.Rows) {
		n = len(table.Rows)
	}

	mapped := c.mapper.Table(table)

	return &Preview{
		Sheets:            sheets,
		Sheet:             table.Sheet,
		Headers:           table.Headers,
		Rows:              table.Rows[:n],
		TotalRows:         len(table.Rows),
		DetectedSeparator: normalize.DetectSeparator(mapped.Rows).String(),
		Missing:           Missing(mapped.Headers),
	}, nil
}

// =============================================================================
// FILE PIPELINE
// =============================================================================

// FileResult represents the outcome of processing a single file.
type FileResult struct {
	// FilePath is the path to the input file that was processed.
	FilePath string

	// OutputFile is the path to the generated XML file. Empty on failure
	// and for dry runs.
	OutputFile string

	// ArchivePath is where the input was moved to.
	ArchivePath string

	// ErrorLog is the path to the error log of a rejected file.
	ErrorLog string

	// Success indicates whether the conversion was successful.
	Success bool

	// Error contains the error if processing failed.
	Error error

	// Result is the conversion result on success.
	Result *Result

	// Stats contains processing statistics.
	Stats ProcessingStats
}

// ProcessingStats contains statistics about the processing of a file.
type ProcessingStats struct {
	RowsProcessed       int
	TransactionsCreated int
	ValidationErrors    int
	ProcessingTime      time.Duration
}

// RunOptions configure the file pipeline.
type RunOptions struct {
	Options

	// Profile is the matched creditor profile name, used in output names.
	Profile string

	// OutputName overrides the configured output file name format.
	OutputName string

	// DryRun converts without writing or archiving anything.
	DryRun bool
}

// Run executes the conversion pipeline for one file.
//
// PROCESSING STEPS:
//   1. Read the source
//   2. Convert
//   3. Write the output file
//   4. Archive the input
//
// A rejected file gets an error log and is left in place.
func (c *Converter) Run(ctx context.Context, inputPath string, fm *utils.FileManager, opts RunOptions) FileResult {
	startTime := time.Now()
	result := FileResult{FilePath: inputPath}
	log := c.loggerFor(ctx).With().Str("file", filepath.Base(inputPath)).Logger()
	ctx = logger.WithContext(ctx, log)

	fail := func(err error) FileResult {
		result.Error = err
		result.Stats.ProcessingTime = time.Since(startTime)

		var validationErr *validation.Error
		if errors.As(err, &validationErr) {
			result.Stats.ValidationErrors = len(validationErr.Faults)
		}

		if !opts.DryRun && fm != nil {
			logPath, logErr := fm.WriteErrorLog(inputPath, errorLogEntries(inputPath, err))
			if logErr != nil {
				log.Warn().Err(logErr).Msg("failed to write error log")
			}
			result.ErrorLog = logPath
		}

		log.Error().Str("kind", Classify(err).String()).Err(err).Msg("conversion failed")
		return result
	}

	// =========================================================================
	// STEP 1: READ THE SOURCE
	// =========================================================================

	log.Info().Msg("processing file")

	file, err := os.Open(inputPath)
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrUnreadableInput, err))
	}
	table, _, err := c.ReadTable(file, filepath.Base(inputPath), opts.Sheet)
	file.Close()
	if err != nil {
		return fail(err)
	}

	result.Stats.RowsProcessed = len(table.Rows)
	log.Debug().Int("rows", len(table.Rows)).Str("sheet", table.Sheet).Msg("read source")

	// =========================================================================
	// STEP 2: CONVERT
	// =========================================================================

	converted, err := c.ConvertTable(ctx, table, opts.Options)
	if err != nil {
		return fail(err)
	}

	result.Result = converted
	result.Stats.TransactionsCreated = converted.TransactionCount

	if opts.DryRun || fm == nil {
		result.Success = true
		result.Stats.ProcessingTime = time.Since(startTime)
		return result
	}

	// =========================================================================
	// STEP 3: WRITE OUTPUT FILE
	// =========================================================================

	format := opts.OutputName
	if format == "" {
		format = c.cfg.OutputFormat
	}
	name := utils.GenerateOutputFileName(format, time.Now(), map[string]string{
		"original": utils.BaseName(inputPath),
		"msgid":    converted.MessageID,
		"profile":  opts.Profile,
	})

	outputPath, err := fm.WriteOutput(name, converted.XML)
	if err != nil {
		return fail(err)
	}

	result.OutputFile = outputPath
	log.Info().Str("output", outputPath).Msg("wrote output")

	// =========================================================================
	// STEP 4: ARCHIVE INPUT
	// =========================================================================

	archived, err := fm.ArchiveInputFile(inputPath)
	if err != nil {
		// The XML is already written; a failed move is not a failed conversion.
		log.Warn().Err(err).Msg("failed to archive input")
	} else {
		result.ArchivePath = archived
	}

	result.Success = true
	result.Stats.ProcessingTime = time.Since(startTime)

	return result
}

// errorLogEntries turns a conversion error into error log lines.
func errorLogEntries(inputPath string, err error) []utils.ErrorLogEntry {
	now := time.Now()
	kind := Classify(err).String()

	messages := []string{err.Error()}
	var validationErr *validation.Error
	if errors.As(err, &validationErr) {
		messages = validationErr.Messages()
	}

	entries := make([]utils.ErrorLogEntry, len(messages))
	for i, message := range messages {
		entries[i] = utils.ErrorLogEntry{
			Timestamp: now,
			FileName:  filepath.Base(inputPath),
			ErrorType: kind,
			Message:   message,
		}
	}
	return entries
}
