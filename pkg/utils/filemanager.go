// =============================================================================
// SEPA XML Converter - File Manager Utility
// =============================================================================
//
// This module provides the file handling around a conversion run:
//   - Discovering spreadsheets and CSV exports in the input directory
//   - Writing generated XML without leaving partial files behind
//   - Archiving inputs after a successful conversion
//   - Writing error logs for rejected files and a run summary
//
// ARCHIVAL STRATEGY:
//   - Input files are moved to the input archive after a successful conversion
//   - Rejected files stay where they are, next to an error log in the error
//     directory, so they can be fixed and converted again
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SupportedExtensions are the input file types picked up by discovery.
var SupportedExtensions = []string{".xlsx", ".xlsm", ".csv", ".txt", ".tsv"}

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for the converter.
type FileManager struct {
	// InputDir is the directory scanned for input files.
	InputDir string

	// OutputDir receives the generated XML files.
	OutputDir string

	// InputArchiveDir receives converted input files.
	InputArchiveDir string

	// ErrorDir receives the error logs of rejected files.
	ErrorDir string

	// UseDateSubdirs files archived inputs under year/month/day.
	// Example: input_archive/2024/01/15/debits.xlsx
	UseDateSubdirs bool

	// ArchiveOnSuccess moves inputs to the archive after conversion.
	ArchiveOnSuccess bool

	// Now is the clock used for archive folders and log names.
	Now func() time.Time
}

// NewFileManager creates a FileManager with the specified directories.
func NewFileManager(inputDir, outputDir, inputArchiveDir, errorDir string) *FileManager {
	return &FileManager{
		InputDir:         inputDir,
		OutputDir:        outputDir,
		InputArchiveDir:  inputArchiveDir,
		ErrorDir:         errorDir,
		ArchiveOnSuccess: true,
		Now:              time.Now,
	}
}

func (fm *FileManager) now() time.Time {
	if fm.Now == nil {
		return time.Now()
	}
	return fm.Now()
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectories creates all configured directories if they don't exist.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.InputDir, fm.OutputDir, fm.InputArchiveDir, fm.ErrorDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// IsSupported reports whether path has one of the supported extensions.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}

// DiscoverInputFiles lists the supported files directly inside the input
// directory, sorted by name. Office lock files ("~$debits.xlsx") are skipped.
//
// RETURNS:
//   - A slice of file paths.
//   - An error if the directory cannot be read.
func (fm *FileManager) DiscoverInputFiles() ([]string, error) {
	entries, err := os.ReadDir(fm.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), "~$") {
			continue
		}
		if IsSupported(entry.Name()) {
			files = append(files, filepath.Join(fm.InputDir, entry.Name()))
		}
	}

	sort.Strings(files)
	return files, nil
}

// =============================================================================
// OUTPUT
// =============================================================================

// WriteOutput writes data to name inside the output directory. The content
// goes to a temporary file first and is renamed into place, so a failed
// write never leaves a truncated XML file.
//
// RETURNS:
//   - The path of the written file.
func (fm *FileManager) WriteOutput(name string, data []byte) (string, error) {
	if err := os.MkdirAll(fm.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	target := filepath.Join(fm.OutputDir, name)

	tmp, err := os.CreateTemp(fm.OutputDir, ".tmp-*.xml")
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write output file: %w", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("failed to move output file into place: %w", err)
	}

	return target, nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves an input file to the archive directory.
//
// RETURNS:
//   - The path to the archived file, or filePath when archiving is off.
//   - An error if archival fails.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	if !fm.ArchiveOnSuccess || fm.InputArchiveDir == "" {
		return filePath, nil
	}

	archivePath := fm.getArchivePath(fm.InputArchiveDir, filePath)

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	if err := os.Rename(filePath, archivePath); err != nil {
		// Cross-device moves fall back to copy and delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", fmt.Errorf("failed to copy file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("failed to remove original file: %w", err)
		}
	}

	return archivePath, nil
}

// getArchivePath constructs the archive path for a file. An existing archive
// entry of the same name is never overwritten; a time suffix is added.
func (fm *FileManager) getArchivePath(archiveDir, filePath string) string {
	now := fm.now()
	dir := archiveDir

	if fm.UseDateSubdirs {
		dir = filepath.Join(archiveDir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
		)
	}

	path := filepath.Join(dir, filepath.Base(filePath))
	if _, err := os.Stat(path); err == nil {
		ext := filepath.Ext(path)
		path = strings.TrimSuffix(path, ext) + "_" + now.Format("20060102_150405") + ext
	}

	return path
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

// GenerateOutputFileName fills in an output file name format.
//
// PARAMETERS:
//   - format: The format string for the file name.
//             Placeholders:
//               {uuid}      - A random UUID
//               {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//               {date}      - Current date (YYYYMMDD)
//               {time}      - Current time (HHMMSS)
//             plus every key of params, e.g. {original}, {msgid}, {profile}.
//   - now: The time used for the time placeholders.
//   - params: A map of placeholder values.
//
// EXAMPLE:
//   format: "{original}_{msgid}.xml"
//   params: {"original": "members", "msgid": "MSG0190..."}
//   output: "members_MSG0190....xml"
func GenerateOutputFileName(format string, now time.Time, params map[string]string) string {
	replacements := map[string]string{
		"{uuid}":      uuid.New().String(),
		"{timestamp}": now.Format("20060102_150405"),
		"{date}":      now.Format("20060102"),
		"{time}":      now.Format("150405"),
	}

	for key, value := range params {
		replacements["{"+key+"}"] = value
	}

	result := format
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}

	// Values come from file names and spreadsheet cells.
	result = strings.NewReplacer("/", "_", "\\", "_").Replace(result)

	if !strings.HasSuffix(strings.ToLower(result), ".xml") {
		result += ".xml"
	}

	return result
}

// BaseName returns the file name of path without directory and extension.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// =============================================================================
// ERROR LOG GENERATION
// =============================================================================

// ErrorLogEntry is one problem found in an input file.
type ErrorLogEntry struct {
	Timestamp time.Time
	FileName  string
	ErrorType string
	Message   string
}

// WriteErrorLog writes the problems of one input file to
// <ErrorDir>/<input name>_errors_<timestamp>.txt.
//
// RETURNS:
//   - The path to the error log file, or "" when entries is empty.
//   - An error if writing fails.
func (fm *FileManager) WriteErrorLog(inputPath string, entries []ErrorLogEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	dir := fm.ErrorDir
	if dir == "" {
		dir = fm.OutputDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create error directory: %w", err)
	}

	now := fm.now()
	logPath := filepath.Join(dir, fmt.Sprintf("%s_errors_%s.txt", BaseName(inputPath), now.Format("20060102_150405")))

	file, err := os.Create(logPath)
	if err != nil {
		return "", fmt.Errorf("failed to create error log: %w", err)
	}
	defer file.Close()

	if err := writeErrorLog(file, inputPath, now, entries); err != nil {
		return "", err
	}

	return logPath, nil
}

func writeErrorLog(w io.Writer, inputPath string, now time.Time, entries []ErrorLogEntry) error {
	writer := bufio.NewWriter(w)

	fmt.Fprintf(writer, "SEPA XML Converter - Error Log\n"+
		"File:         %s\n"+
		"Generated:    %s\n"+
		"Total Errors: %d\n"+
		"================================================================================\n\n",
		filepath.Base(inputPath),
		now.Format("2006-01-02 15:04:05"),
		len(entries))

	for _, entry := range entries {
		fmt.Fprintf(writer, "[%s] %s\n", entry.ErrorType, entry.Message)
	}

	writer.WriteString("\n================================================================================\n" +
		"No XML was written for this file.\n")

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush error log: %w", err)
	}
	return nil
}

// =============================================================================
// PROCESSING SUMMARY
// =============================================================================

// ProcessingSummary contains summary information about a processing run.
type ProcessingSummary struct {
	StartTime         time.Time
	EndTime           time.Time
	TotalFiles        int
	SuccessfulFiles   int
	FailedFiles       int
	TotalRows         int
	TotalTransactions int
	ValidationErrors  int
	ProcessedFiles    []ProcessedFileInfo
	FailedFilesList   []FailedFileInfo
}

// ProcessedFileInfo contains information about a converted file.
type ProcessedFileInfo struct {
	InputFile    string
	OutputFile   string
	MessageID    string
	Rows         int
	Transactions int
	TotalAmount  string
	ProcessTime  time.Duration
}

// FailedFileInfo contains information about a rejected file.
type FailedFileInfo struct {
	InputFile    string
	ErrorMessage string
	ErrorType    string
	ErrorLog     string
}

// WriteSummaryLog writes a processing summary to
// <OutputDir>/processing_summary_<timestamp>.txt.
func (fm *FileManager) WriteSummaryLog(summary ProcessingSummary) (string, error) {
	if err := os.MkdirAll(fm.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	summaryPath := filepath.Join(fm.OutputDir,
		fmt.Sprintf("processing_summary_%s.txt", summary.StartTime.Format("20060102_150405")))

	file, err := os.Create(summaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	fmt.Fprintf(writer, "SEPA XML Converter - Processing Summary\n"+
		"================================================================================\n\n"+
		"Run Information:\n"+
		"  Start Time:     %s\n"+
		"  End Time:       %s\n"+
		"  Duration:       %s\n\n"+
		"Statistics:\n"+
		"  Total Files:        %d\n"+
		"  Successful:         %d\n"+
		"  Failed:             %d\n"+
		"  Total Rows:         %d\n"+
		"  Total Transactions: %d\n"+
		"  Validation Errors:  %d\n\n",
		summary.StartTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Sub(summary.StartTime).String(),
		summary.TotalFiles,
		summary.SuccessfulFiles,
		summary.FailedFiles,
		summary.TotalRows,
		summary.TotalTransactions,
		summary.ValidationErrors)

	if len(summary.ProcessedFiles) > 0 {
		writer.WriteString("Successful Files:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		for _, pf := range summary.ProcessedFiles {
			fmt.Fprintf(writer, "  Input:        %s\n", pf.InputFile)
			fmt.Fprintf(writer, "  Output:       %s\n", pf.OutputFile)
			fmt.Fprintf(writer, "  Message ID:   %s\n", pf.MessageID)
			fmt.Fprintf(writer, "  Transactions: %d of %d rows\n", pf.Transactions, pf.Rows)
			fmt.Fprintf(writer, "  Total:        %s EUR\n", pf.TotalAmount)
			fmt.Fprintf(writer, "  Process Time: %s\n\n", pf.ProcessTime.String())
		}
	}

	if len(summary.FailedFilesList) > 0 {
		writer.WriteString("Failed Files:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		for _, ff := range summary.FailedFilesList {
			fmt.Fprintf(writer, "  File:  %s\n", ff.InputFile)
			fmt.Fprintf(writer, "  Type:  %s\n", ff.ErrorType)
			fmt.Fprintf(writer, "  Error: %s\n", ff.ErrorMessage)
			if ff.ErrorLog != "" {
				fmt.Fprintf(writer, "  Log:   %s\n", ff.ErrorLog)
			}
			writer.WriteString("\n")
		}
	}

	writer.WriteString("================================================================================\n" +
		"End of Summary\n")

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}

	return summaryPath, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	return destFile.Sync()
}
