// =============================================================================
// SEPA XML Converter - Convert Command
// =============================================================================
//
// This file defines the 'convert' command, the main command for turning
// debit lists into pain.008 files.
//
// COMMAND USAGE:
//   sepa-converter convert [files...] [flags]
//
// FLAGS:
//   --sheet          : Worksheet to read (default: configured sheet, then first)
//   --separator      : Decimal separator: auto, "." or ","
//   --sequence-type  : FRST, RCUR, OOFF or FNAL, overriding the creditor's
//   --output         : Output directory (default: output_dir)
//   --dry-run        : Convert and report without writing or archiving
//   --summary        : Write a processing summary to the output directory
//
// PROCESSING PIPELINE:
//   1. Load creditor profiles
//   2. Collect the files named on the command line, or discover them in the
//      input directory
//   3. Convert each file concurrently (bounded by max_concurrency) with the
//      configuration of its matching profile
//   4. Print one line per file and the totals
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ydmw74/sepa-xml-converter/internal/config"
	"github.com/ydmw74/sepa-xml-converter/internal/converter"
	"github.com/ydmw74/sepa-xml-converter/internal/validation"
	"github.com/ydmw74/sepa-xml-converter/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var convertFlags struct {
	sheet        string
	separator    string
	sequenceType string
	output       string
	dryRun       bool
	summary      bool
}

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgHiRed).SprintFunc()
	skipMark = color.New(color.FgYellow).SprintFunc()
)

// =============================================================================
// CONVERT COMMAND DEFINITION
// =============================================================================

var convertCmd = &cobra.Command{
	Use:   "convert [files...]",
	Short: "Convert debit lists to pain.008 XML files",
	Long: `The convert command reads each named file, or every .xlsx and .csv file in
the input directory, and writes one pain.008.001.02 message per file.

Files are converted concurrently and independently. A file is converted only
when every row is valid.

On success:
  - The XML is placed in the output directory
  - The input is moved to the input archive

On error:
  - An error log listing every rejected row is written to the error directory
  - The input stays where it is`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runConvert(cmd.Context(), cmd.OutOrStdout(), args)
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)

	f := convertCmd.Flags()
	f.StringVar(&convertFlags.sheet, "sheet", "", "Worksheet to read")
	f.StringVar(&convertFlags.separator, "separator", "", `Decimal separator: auto, "." or ","`)
	f.StringVar(&convertFlags.sequenceType, "sequence-type", "", "Sequence type: FRST, RCUR, OOFF or FNAL")
	f.StringVar(&convertFlags.output, "output", "", "Output directory (default: output_dir from the configuration)")
	f.BoolVar(&convertFlags.dryRun, "dry-run", false, "Convert without writing output or archiving inputs")
	f.BoolVar(&convertFlags.summary, "summary", false, "Write a processing summary file")
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// fileJob pairs an input with its position so that results print in order.
type fileJob struct {
	index int
	path  string
}

// runConvert converts the given files, or the input directory.
func runConvert(ctx context.Context, out io.Writer, files []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	startTime := time.Now()
	cfg := appConfig

	// =========================================================================
	// STEP 1: LOAD PROFILES AND PREPARE DIRECTORIES
	// =========================================================================

	profiles, err := config.LoadProfiles(cfg.ProfilesDir)
	if err != nil {
		return fmt.Errorf("failed to load creditor profiles: %w", err)
	}
	appLog.Debug().Int("profiles", len(profiles)).Msg("loaded creditor profiles")

	outputDir := cfg.OutputDir
	if convertFlags.output != "" {
		outputDir = convertFlags.output
	}

	fm := utils.NewFileManager(cfg.InputDir, outputDir, cfg.InputArchiveDir, cfg.ErrorDir)
	fm.ArchiveOnSuccess = cfg.ArchiveInput
	if !convertFlags.dryRun {
		if err := fm.EnsureDirectories(); err != nil {
			return err
		}
	}

	// =========================================================================
	// STEP 2: COLLECT INPUT FILES
	// =========================================================================

	if len(files) == 0 {
		files, err = fm.DiscoverInputFiles()
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Fprintf(out, "No .xlsx or .csv files found in %s\n", cfg.InputDir)
			return nil
		}
	}

	fmt.Fprintf(out, "Converting %d file(s)...\n", len(files))

	// =========================================================================
	// STEP 3: CONVERT FILES CONCURRENTLY
	// =========================================================================
	// With continue_on_error off, the first failure stops files that have not
	// started yet.

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*converter.FileResult, len(files))
	jobs := make(chan fileJob)

	workers := cfg.MaxConcurrency
	if workers > len(files) {
		workers = len(files)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if runCtx.Err() != nil {
					continue
				}
				result := convertOne(runCtx, cfg, profiles, fm, job.path)
				results[job.index] = &result
				if !result.Success && !*cfg.ContinueOnError {
					cancel()
				}
			}
		}()
	}

	for i, path := range files {
		jobs <- fileJob{index: i, path: path}
	}
	close(jobs)
	wg.Wait()

	// =========================================================================
	// STEP 4: REPORT
	// =========================================================================

	summary := utils.ProcessingSummary{StartTime: startTime, TotalFiles: len(files)}
	total := decimal.Zero

	for i, result := range results {
		name := filepath.Base(files[i])

		if result == nil {
			fmt.Fprintf(out, "  %s %s: skipped\n", skipMark("-"), name)
			continue
		}

		summary.TotalRows += result.Stats.RowsProcessed
		summary.ValidationErrors += result.Stats.ValidationErrors

		if !result.Success {
			summary.FailedFiles++
			summary.FailedFilesList = append(summary.FailedFilesList, utils.FailedFileInfo{
				InputFile:    files[i],
				ErrorMessage: result.Error.Error(),
				ErrorType:    converter.Classify(result.Error).String(),
				ErrorLog:     result.ErrorLog,
			})
			printFailure(out, name, result)
			continue
		}

		converted := result.Result
		summary.SuccessfulFiles++
		summary.TotalTransactions += converted.TransactionCount
		summary.ProcessedFiles = append(summary.ProcessedFiles, utils.ProcessedFileInfo{
			InputFile:    files[i],
			OutputFile:   result.OutputFile,
			MessageID:    converted.MessageID,
			Rows:         result.Stats.RowsProcessed,
			Transactions: converted.TransactionCount,
			TotalAmount:  converted.TotalAmount,
			ProcessTime:  result.Stats.ProcessingTime,
		})
		total = total.Add(converted.Message.ControlSum)

		target := result.OutputFile
		if convertFlags.dryRun {
			target = "(dry run)"
		}
		fmt.Fprintf(out, "  %s %s -> %s (%d transactions, %s EUR)\n",
			okMark("✓"), name, target, converted.TransactionCount, converted.TotalAmount)
		for _, warning := range converted.Warnings {
			fmt.Fprintf(out, "      %s %s\n", skipMark("!"), warning)
		}
	}

	summary.EndTime = time.Now()

	fmt.Fprintln(out, "\n=== Conversion Complete ===")
	fmt.Fprintf(out, "Total files:     %d\n", summary.TotalFiles)
	fmt.Fprintf(out, "Successful:      %d\n", summary.SuccessfulFiles)
	fmt.Fprintf(out, "Errors:          %d\n", summary.FailedFiles)
	fmt.Fprintf(out, "Transactions:    %d\n", summary.TotalTransactions)
	fmt.Fprintf(out, "Total amount:    %s EUR\n", total.StringFixed(2))
	fmt.Fprintf(out, "Time elapsed:    %s\n", summary.EndTime.Sub(startTime).Round(time.Millisecond))

	if convertFlags.summary && !convertFlags.dryRun {
		path, err := fm.WriteSummaryLog(summary)
		if err != nil {
			appLog.Warn().Err(err).Msg("failed to write summary")
		} else {
			fmt.Fprintf(out, "Summary:         %s\n", path)
		}
	}

	if summary.FailedFiles > 0 {
		return fmt.Errorf("%d of %d file(s) failed", summary.FailedFiles, summary.TotalFiles)
	}
	return nil
}

// convertOne converts a single file with the configuration of its profile.
func convertOne(ctx context.Context, cfg *config.MainConfig, profiles []*config.ProfileConfig, fm *utils.FileManager, path string) converter.FileResult {
	profile := config.MatchProfile(path, profiles)
	profileName := "default"
	if profile != nil {
		profileName = profile.ProfileName
		appLog.Debug().Str("file", filepath.Base(path)).Str("profile", profileName).Msg("matched creditor profile")
	}

	conv, err := converter.New(cfg.WithProfile(profile), converter.WithLogger(appLog))
	if err != nil {
		return converter.FileResult{FilePath: path, Error: err}
	}

	return conv.Run(ctx, path, fm, converter.RunOptions{
		Options: converter.Options{
			Sheet:        convertFlags.sheet,
			Separator:    convertFlags.separator,
			SequenceType: convertFlags.sequenceType,
		},
		Profile: profileName,
		DryRun:  convertFlags.dryRun,
	})
}

// printFailure prints a failed file with every row message.
func printFailure(out io.Writer, name string, result *converter.FileResult) {
	var validationErr *validation.Error
	if !errors.As(result.Error, &validationErr) {
		fmt.Fprintf(out, "  %s %s: %v\n", failMark("✗"), name, result.Error)
		return
	}

	fmt.Fprintf(out, "  %s %s: %d error(s) in %d of %d row(s)\n",
		failMark("✗"), name, len(validationErr.Faults), len(validationErr.FaultyRows()), validationErr.Rows)
	for _, message := range validationErr.Messages() {
		fmt.Fprintf(out, "      %s\n", message)
	}
	if result.ErrorLog != "" {
		fmt.Fprintf(out, "      see %s\n", result.ErrorLog)
	}
}
