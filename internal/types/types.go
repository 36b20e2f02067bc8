// =============================================================================
// SEPA XML Converter - Shared Types
// =============================================================================
//
// This package contains shared types used across multiple modules to avoid
// import cycles. Types defined here are used by:
//   - xlsxparser / csvparser (RawRow producers)
//   - normalize / validation (RawRow consumers)
//   - sepa (Transaction consumer)
//   - converter
//
// =============================================================================

package types

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// =============================================================================
// FIELD NAMES
// =============================================================================

// Recognized column headers.
const (
	FieldIBAN        = "IBAN"
	FieldBIC         = "BIC"
	FieldName        = "Name"
	FieldAmount      = "Amount"
	FieldMandateID   = "Mandate ID"
	FieldMandateDate = "Mandate Date"
	FieldDescription = "Description"

	// Optional creditor overrides, read from the first row only.
	FieldCreditorIBAN = "Creditor IBAN"
	FieldCreditorBIC  = "Creditor BIC"
	FieldCreditorName = "Creditor Name"
	FieldCreditorID   = "Creditor ID"
	FieldSequenceType = "Sequence Type"
)

// TransactionFields lists the per-row fields in validation order.
var TransactionFields = []string{
	FieldIBAN,
	FieldBIC,
	FieldName,
	FieldAmount,
	FieldMandateID,
	FieldMandateDate,
	FieldDescription,
}

// CreditorFields lists the optional creditor override fields.
var CreditorFields = []string{
	FieldCreditorIBAN,
	FieldCreditorBIC,
	FieldCreditorName,
	FieldCreditorID,
	FieldSequenceType,
}

// =============================================================================
// ROW TYPES
// =============================================================================

// RawRow maps a column header to an untyped cell value. Spreadsheet readers
// put float64 values for numeric and date cells and strings for everything
// else. A RawRow is never modified after it was read.
type RawRow map[string]any

// Get returns the value for field, or nil.
func (r RawRow) Get(field string) any {
	if r == nil {
		return nil
	}
	return r[field]
}

// Clone returns a shallow copy of the row.
func (r RawRow) Clone() RawRow {
	out := make(RawRow, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Transaction is a validated, normalized debit instruction.
type Transaction struct {
	// Row is the 1-based position of the source row.
	Row int

	IBAN        string
	BIC         string
	Name        string
	Amount      decimal.Decimal
	MandateID   string
	MandateDate civil.Date
	Description string
}

// Table is one sheet of input: the header row and the data rows in order.
type Table struct {
	// Sheet is the worksheet name, or the file name for CSV input.
	Sheet string

	// Headers are the column names after cleaning and aliasing.
	Headers []string

	// Rows are the non-blank data rows.
	Rows []RawRow
}

// CleanHeaders trims header cells, names empty ones "Column_N" (1-based)
// and makes duplicates unique by appending "_1", "_2" and so on.
func CleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	seen := make(map[string]int, len(headers))

	for i, header := range headers {
		header = strings.TrimSpace(header)
		if header == "" {
			header = fmt.Sprintf("Column_%d", i+1)
		}

		if n, dup := seen[header]; dup {
			seen[header] = n + 1
			header = fmt.Sprintf("%s_%d", header, n+1)
		} else {
			seen[header] = 0
		}

		cleaned[i] = header
	}

	return cleaned
}
