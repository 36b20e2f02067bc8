// =============================================================================
// SEPA XML Converter - Row Normalizer
// =============================================================================
//
// This module converts raw cell values into canonical typed values:
//
//   Amount: float64 | int | "1.234,56" | "EUR 1,234.56"  ->  decimal.Decimal
//   Date:   44927 | "2023-01-01" | "01.01.2023" | "01/01/2023"  ->  civil.Date
//
// Spreadsheet cells arrive either as numbers (already parsed by the reader)
// or as text typed by a human in whatever locale they use. The decimal
// separator for text amounts is chosen once per batch, either by the caller
// or by DetectSeparator.
//
// =============================================================================

package normalize

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/ydmw74/sepa-xml-converter/internal/types"
)

var (
	// ErrInvalidAmount is returned when a cell cannot be read as an amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidDate is returned when a cell cannot be read as a date.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidSeparator is returned by ParseSeparator.
	ErrInvalidSeparator = errors.New("invalid decimal separator")
)

// =============================================================================
// DECIMAL SEPARATOR
// =============================================================================

// Separator is the decimal separator used in text amounts.
type Separator rune

const (
	// Auto asks the caller to detect the separator from the data.
	Auto Separator = 0
	// Point is the decimal point, as in 1,234.56.
	Point Separator = '.'
	// Comma is the decimal comma, as in 1.234,56.
	Comma Separator = ','
)

// String returns the separator character, or "auto".
func (s Separator) String() string {
	if s == Auto {
		return "auto"
	}
	return string(rune(s))
}

// ParseSeparator reads a separator from configuration or user input.
// Accepted: "", "auto", ".", "point", "dot", ",", "comma".
func ParseSeparator(s string) (Separator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case ".", "point", "dot":
		return Point, nil
	case ",", "comma":
		return Comma, nil
	}
	return Auto, fmt.Errorf("%w: %q", ErrInvalidSeparator, s)
}

// DetectSeparator scans the Amount column and returns the separator used by
// the first text amount that contains one. When a value holds both
// characters the one that occurs last is the decimal separator. Numeric
// cells carry no separator and are skipped. The default is Point.
func DetectSeparator(rows []types.RawRow) Separator {
	for _, row := range rows {
		value, ok := row.Get(types.FieldAmount).(string)
		if !ok {
			continue
		}

		i := strings.LastIndexAny(value, ".,")
		if i < 0 {
			continue
		}

		if value[i] == ',' {
			return Comma
		}
		return Point
	}

	return Point
}

// =============================================================================
// AMOUNT
// =============================================================================

// Amount converts a raw cell into a decimal.
//
// Numeric cells are returned as they are. For text, every character other
// than digits, '.' and ',' is dropped (currency symbols, spaces, apostrophes),
// the last occurrence of sep becomes the decimal point and the remaining
// separators are treated as thousands groupers. A minus sign anywhere in the
// text ("-5,00", "EUR -5.00", "5-") makes the amount negative so that it
// fails the range check instead of turning positive.
func Amount(raw any, sep Separator) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, fmt.Errorf("%w: not a finite number", ErrInvalidAmount)
		}
		return decimal.NewFromFloat(v), nil
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return decimal.Zero, fmt.Errorf("%w: not a finite number", ErrInvalidAmount)
		}
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case string:
		return parseAmountText(v, sep)
	case nil:
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported value %v", ErrInvalidAmount, raw)
	}
}

func parseAmountText(text string, sep Separator) (decimal.Decimal, error) {
	if sep == Auto {
		sep = Point
	}

	trimmed := strings.TrimSpace(text)
	negative := strings.ContainsAny(trimmed, "-\u2212")

	var b strings.Builder
	for _, r := range trimmed {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	var canonical string
	if i := strings.LastIndexByte(cleaned, byte(sep)); i >= 0 {
		canonical = stripSeparators(cleaned[:i]) + "." + stripSeparators(cleaned[i+1:])
	} else {
		canonical = stripSeparators(cleaned)
	}

	if canonical == "" || canonical == "." {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}

	amount, err := decimal.NewFromString(canonical)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}

	if negative {
		amount = amount.Neg()
	}

	return amount, nil
}

func stripSeparators(s string) string {
	return strings.NewReplacer(".", "", ",", "").Replace(s)
}

// =============================================================================
// DATE
// =============================================================================

// serialEpoch is day zero of spreadsheet serial dates. Serial 25569 is
// 1970-01-01.
var serialEpoch = civil.Date{Year: 1899, Month: time.December, Day: 30}

// dateLayouts are tried in order for text dates before the day-first
// fallback. US month-first layouts are deliberately absent: "01/02/2023"
// is read as 1 February.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000",
	"2006/01/02",
	"20060102",
	"2 January 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"Mon, 02 Jan 2006",
}

var dayFirstSplit = regexp.MustCompile(`[./]`)

// Date converts a raw cell into a calendar date.
//
// PROCESS:
//   1. Numbers are spreadsheet serials counted from 1899-12-30. The time
//      of day (fractional part) is dropped.
//   2. Text is tried against the generic layouts in dateLayouts.
//   3. Text is split on '.' or '/' into day, month and four-digit year.
//   4. Anything else fails with ErrInvalidDate.
func Date(raw any) (civil.Date, error) {
	switch v := raw.(type) {
	case civil.Date:
		if !v.IsValid() {
			return civil.Date{}, fmt.Errorf("%w: %s", ErrInvalidDate, v)
		}
		return v, nil
	case time.Time:
		return civil.DateOf(v), nil
	case float64:
		return dateFromSerial(v)
	case float32:
		return dateFromSerial(float64(v))
	case int:
		return dateFromSerial(float64(v))
	case int64:
		return dateFromSerial(float64(v))
	case string:
		return parseDateText(v)
	case nil:
		return civil.Date{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	default:
		return civil.Date{}, fmt.Errorf("%w: unsupported value %v", ErrInvalidDate, raw)
	}
}

func dateFromSerial(serial float64) (civil.Date, error) {
	// 2958465 is 9999-12-31.
	if math.IsNaN(serial) || serial < 0 || serial > 2958465 {
		return civil.Date{}, fmt.Errorf("%w: serial %v out of range", ErrInvalidDate, serial)
	}
	return serialEpoch.AddDays(int(math.Floor(serial))), nil
}

func parseDateText(text string) (civil.Date, error) {
	value := strings.TrimSpace(text)
	if value == "" {
		return civil.Date{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return civil.DateOf(t), nil
		}
	}

	parts := dayFirstSplit.Split(value, -1)
	if len(parts) != 3 || len(strings.TrimSpace(parts[2])) != 4 {
		return civil.Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, text)
	}

	var numbers [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return civil.Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, text)
		}
		numbers[i] = n
	}

	date := civil.Date{Year: numbers[2], Month: time.Month(numbers[1]), Day: numbers[0]}
	if !date.IsValid() {
		return civil.Date{}, fmt.Errorf("%w: %q is not a calendar date", ErrInvalidDate, text)
	}

	return date, nil
}

// =============================================================================
// TEXT
// =============================================================================

// Text returns the canonical text of a cell: strings are trimmed and put in
// Unicode NFC form, numbers are printed without exponent or trailing zeros.
func Text(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return norm.NFC.String(strings.TrimSpace(v))
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case decimal.Decimal:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// CompactIBAN removes all whitespace from an account number.
func CompactIBAN(raw any) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, Text(raw))
}

// Length counts characters, not bytes.
func Length(s string) int {
	return len([]rune(s))
}
