// =============================================================================
// SEPA XML Converter - Validation Engine
// =============================================================================
//
// This module checks every input row against the SEPA field rules and turns
// valid rows into normalized transactions.
//
// RULES:
//   IBAN          ^[A-Z]{2}[0-9]{2}[A-Z0-9]{12,30}$ after removing whitespace
//   BIC           ^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$
//   Name          required, max 70 characters
//   Amount        a number, 0 < amount <= 999999999.99
//   Mandate ID    required, max 35 characters
//   Mandate Date  a recognizable date
//   Description   required, max 140 characters
//
// ERROR HANDLING:
//   - Every rule runs for every row; a row can report several faults
//   - Messages read "Row {n}: Invalid {Field}[, reason]" with 1-based rows
//   - A batch is all-or-nothing: one faulty row rejects every row
//
// =============================================================================

package validation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ydmw74/sepa-xml-converter/internal/normalize"
	"github.com/ydmw74/sepa-xml-converter/internal/types"
	"github.com/ydmw74/sepa-xml-converter/internal/xmlwriter"
)

// =============================================================================
// LIMITS
// =============================================================================

const (
	MaxNameLength        = 70
	MaxMandateIDLength   = 35
	MaxDescriptionLength = 140
)

var (
	ibanPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{12,30}$`)
	bicPattern  = regexp.MustCompile(`^[A-Z]{6}[A-Z0-9]{2}([A-Z0-9]{3})?$`)

	// MaxAmount is the largest amount a single transaction may carry.
	MaxAmount = decimal.RequireFromString("999999999.99")
)

// ValidIBAN reports whether s, with whitespace removed, is a well-formed IBAN.
func ValidIBAN(s string) bool {
	return ibanPattern.MatchString(normalize.CompactIBAN(s))
}

// ValidBIC reports whether s is a well-formed BIC.
func ValidBIC(s string) bool {
	return bicPattern.MatchString(s)
}

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// FieldError is a single rule violation.
type FieldError struct {
	// Row is the 1-based row position.
	Row int

	// Field is the recognized field name, e.g. "Mandate Date".
	Field string

	// Value is the raw cell as text.
	Value string

	// Reason is optional detail appended to the message.
	Reason string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("Row %d: Invalid %s", e.Row, e.Field)
	}
	return fmt.Sprintf("Row %d: Invalid %s, %s", e.Row, e.Field, e.Reason)
}

// Error rejects a whole batch. It lists every violation in row order.
type Error struct {
	// Rows is the number of rows that were validated.
	Rows int

	// Faults holds every violation, ordered by row and then by rule.
	Faults []*FieldError
}

// Messages returns the violation messages in row order.
func (e *Error) Messages() []string {
	messages := make([]string, len(e.Faults))
	for i, fault := range e.Faults {
		messages[i] = fault.Error()
	}
	return messages
}

// FaultyRows returns the distinct 1-based rows that failed.
func (e *Error) FaultyRows() []int {
	var rows []int
	for _, fault := range e.Faults {
		if len(rows) == 0 || rows[len(rows)-1] != fault.Row {
			rows = append(rows, fault.Row)
		}
	}
	return rows
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("validation failed with %d error(s) in %d of %d row(s):\n%s",
		len(e.Faults), len(e.FaultyRows()), e.Rows, strings.Join(e.Messages(), "\n"))
}

// =============================================================================
// ROW VALIDATION
// =============================================================================

// ValidateRow checks one row and returns its violation messages. An empty
// result means the row is valid. index is 0-based.
func ValidateRow(row types.RawRow, index int, sep normalize.Separator) []string {
	_, faults := checkRow(row, index, sep)

	messages := make([]string, len(faults))
	for i, fault := range faults {
		messages[i] = fault.Error()
	}
	return messages
}

// NormalizeRow checks one row and, when it is valid, returns the normalized
// transaction. index is 0-based.
func NormalizeRow(row types.RawRow, index int, sep normalize.Separator) (types.Transaction, []*FieldError) {
	tx, faults := checkRow(row, index, sep)
	if len(faults) > 0 {
		return types.Transaction{}, faults
	}
	return tx, nil
}

// checkRow runs every rule without stopping at the first failure.
func checkRow(row types.RawRow, index int, sep normalize.Separator) (types.Transaction, []*FieldError) {
	n := index + 1
	var faults []*FieldError

	fail := func(field, reason string) {
		faults = append(faults, &FieldError{
			Row:    n,
			Field:  field,
			Value:  normalize.Text(row.Get(field)),
			Reason: reason,
		})
	}

	tx := types.Transaction{Row: n}

	// IBAN
	tx.IBAN = normalize.CompactIBAN(row.Get(types.FieldIBAN))
	if !ibanPattern.MatchString(tx.IBAN) {
		fail(types.FieldIBAN, "")
	}

	// BIC
	tx.BIC = normalize.Text(row.Get(types.FieldBIC))
	if !bicPattern.MatchString(tx.BIC) {
		fail(types.FieldBIC, "")
	}

	// Name
	tx.Name = normalize.Text(row.Get(types.FieldName))
	if reason := checkText(tx.Name, MaxNameLength); reason != "" {
		fail(types.FieldName, reason)
	}

	// Amount
	amount, err := normalize.Amount(row.Get(types.FieldAmount), sep)
	switch {
	case err != nil:
		fail(types.FieldAmount, "not a number")
	default:
		// The upper bound applies to the value as written, the lower bound
		// to the cents that end up in the message.
		rounded := amount.Round(2)
		if !rounded.IsPositive() {
			fail(types.FieldAmount, "must be greater than 0")
		} else if amount.GreaterThan(MaxAmount) {
			fail(types.FieldAmount, "must not exceed "+MaxAmount.StringFixed(2))
		}
		tx.Amount = rounded
	}

	// Mandate ID. A numeric cell loses leading zeros, so only text is taken.
	mandateID := row.Get(types.FieldMandateID)
	tx.MandateID = normalize.Text(mandateID)
	if _, isText := mandateID.(string); mandateID != nil && !isText {
		fail(types.FieldMandateID, "must be text")
	} else if reason := checkText(tx.MandateID, MaxMandateIDLength); reason != "" {
		fail(types.FieldMandateID, reason)
	}

	// Mandate Date
	date, err := normalize.Date(row.Get(types.FieldMandateDate))
	if err != nil {
		fail(types.FieldMandateDate, "unrecognized date")
	} else {
		tx.MandateDate = date
	}

	// Description
	tx.Description = normalize.Text(row.Get(types.FieldDescription))
	if reason := checkText(tx.Description, MaxDescriptionLength); reason != "" {
		fail(types.FieldDescription, reason)
	}

	return tx, faults
}

func checkText(value string, max int) string {
	if value == "" {
		return "required"
	}
	if normalize.Length(value) > max {
		return fmt.Sprintf("max %d characters", max)
	}
	if !xmlwriter.ValidText(value) {
		return "contains control characters"
	}
	return ""
}

// =============================================================================
// BATCH VALIDATION
// =============================================================================

// Validator validates batches of rows on a bounded worker pool.
type Validator struct {
	// Workers is the number of concurrent row workers. Values below 1 mean 1.
	Workers int
}

// NewValidator creates a Validator with the given worker count.
func NewValidator(workers int) *Validator {
	return &Validator{Workers: workers}
}

// rowResult is the outcome for one row, stored at the row's index.
type rowResult struct {
	tx     types.Transaction
	faults []*FieldError
}

// ValidateAll validates every row and returns the transactions in input
// order. If any row fails, it returns an *Error listing all violations and
// no transactions.
//
// PROCESS:
//   1. Fan row indices out to the workers
//   2. Each worker writes its result into the slot for that row
//   3. Wait for all workers, then gather faults in row order
func (v *Validator) ValidateAll(rows []types.RawRow, sep normalize.Separator) ([]types.Transaction, error) {
	workers := v.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(rows) {
		workers = len(rows)
	}

	results := make([]rowResult, len(rows))
	indices := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				tx, faults := checkRow(rows[i], i, sep)
				results[i] = rowResult{tx: tx, faults: faults}
			}
		}()
	}

	for i := range rows {
		indices <- i
	}
	close(indices)
	wg.Wait()

	var faults []*FieldError
	for _, result := range results {
		faults = append(faults, result.faults...)
	}
	if len(faults) > 0 {
		return nil, &Error{Rows: len(rows), Faults: faults}
	}

	transactions := make([]types.Transaction, len(results))
	for i, result := range results {
		transactions[i] = result.tx
	}

	return transactions, nil
}

// ValidateAll is shorthand for NewValidator(workers).ValidateAll(rows, sep).
func ValidateAll(rows []types.RawRow, sep normalize.Separator, workers int) ([]types.Transaction, error) {
	return NewValidator(workers).ValidateAll(rows, sep)
}

// =============================================================================
// ERROR FORMATTING
// =============================================================================

// FormatErrors formats violations for display or logging.
func FormatErrors(faults []*FieldError) string {
	if len(faults) == 0 {
		return "No validation errors."
	}

	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("Validation completed with %d error(s):\n\n", len(faults)))

	for i, fault := range faults {
		builder.WriteString(fmt.Sprintf("%d. %s", i+1, fault.Error()))
		if fault.Value != "" {
			builder.WriteString(fmt.Sprintf(" (value: '%s')", fault.Value))
		}
		builder.WriteString("\n")
	}

	return builder.String()
}
