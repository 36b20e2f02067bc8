// =============================================================================
// SEPA XML Converter - Transformation Engine
// =============================================================================
//
// This module cleans up cell values before validation, driven by the
// transformation_rules of the configuration. Typical uses:
//   - Uppercasing BICs typed in lower case
//   - Removing blanks from IBANs pasted in groups of four
//   - Filling a missing description with a fixed text
//   - Mapping internal codes to sequence types via a lookup table
//
// Rules only touch text cells. Numeric cells (amounts and dates typed as
// numbers) are passed through, except that if_empty_use_default fills a
// missing cell.
//
// =============================================================================

package converter

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/ydmw74/sepa-xml-converter/internal/config"
	"github.com/ydmw74/sepa-xml-converter/internal/types"
)

// =============================================================================
// TRANSFORMER
// =============================================================================

// Transformer applies configured rules to rows. It is safe for concurrent
// use once built.
type Transformer struct {
	rules map[string][]compiledAction
}

// compiledAction is an action with its regular expression prepared.
type compiledAction struct {
	config.TransformationAction
	pattern *regexp.Regexp
	length  int
}

// NewTransformer validates and compiles the rules.
//
// RETURNS:
//   - An error naming the first unknown action type, bad regular
//     expression or bad truncate length.
func NewTransformer(rules []config.TransformationRule) (*Transformer, error) {
	t := &Transformer{rules: make(map[string][]compiledAction)}

	for _, rule := range rules {
		for _, action := range rule.Actions {
			compiled := compiledAction{TransformationAction: action}

			switch action.Type {
			case "trim", "uppercase", "lowercase", "remove_whitespace", "normalize_whitespace",
				"prepend_string", "append_string", "replace", "lookup", "if_empty_use_default":
			case "regex_replace":
				pattern, err := regexp.Compile(action.Find)
				if err != nil {
					return nil, fmt.Errorf("field %q: invalid pattern %q: %w", rule.Field, action.Find, err)
				}
				compiled.pattern = pattern
			case "truncate":
				n, err := strconv.Atoi(action.Value)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("field %q: truncate needs a non-negative length, got %q", rule.Field, action.Value)
				}
				compiled.length = n
			default:
				return nil, fmt.Errorf("field %q: unknown transformation %q", rule.Field, action.Type)
			}

			t.rules[rule.Field] = append(t.rules[rule.Field], compiled)
		}
	}

	return t, nil
}

// Empty reports whether there are no rules.
func (t *Transformer) Empty() bool {
	return t == nil || len(t.rules) == 0
}

// TransformRow returns a copy of row with every rule applied. The input row
// is not modified.
func (t *Transformer) TransformRow(row types.RawRow) types.RawRow {
	if t.Empty() {
		return row
	}

	out := row.Clone()
	for field, actions := range t.rules {
		value, present := out[field]
		for _, action := range actions {
			value, present = action.apply(value, present)
		}
		if present {
			out[field] = value
		}
	}

	return out
}

// Transform applies the rules for field to a single text value.
func (t *Transformer) Transform(field, value string) string {
	if t.Empty() {
		return value
	}

	var current any = value
	present := true
	for _, action := range t.rules[field] {
		current, present = action.apply(current, present)
	}

	if s, ok := current.(string); ok && present {
		return s
	}
	return value
}

// =============================================================================
// TRANSFORMATION FUNCTIONS
// =============================================================================

// apply runs one action. Non-text values are only replaced by
// if_empty_use_default when missing.
func (a compiledAction) apply(value any, present bool) (any, bool) {
	text, isText := value.(string)

	if a.Type == "if_empty_use_default" {
		if !present || value == nil || (isText && strings.TrimSpace(text) == "") {
			return a.Value, true
		}
		return value, present
	}

	if !present || !isText {
		return value, present
	}

	return applyText(text, a), true
}

// applyText applies a single text transformation.
//
// SUPPORTED TRANSFORMATIONS:
//   trim                 "  DE89 "        -> "DE89"
//   uppercase            "deutdebbxxx"    -> "DEUTDEBBXXX"
//   lowercase            "ABC"            -> "abc"
//   remove_whitespace    "DE89 3704 0044" -> "DE8937040044"
//   normalize_whitespace "John   Doe"     -> "John Doe"
//   prepend_string       "123" + "MANDATE-" -> "MANDATE-123"
//   append_string        "Invoice" + " 2024" -> "Invoice 2024"
//   replace              Find "/" Value "-"
//   regex_replace        Find `\s*EUR$` Value ""
//   truncate             Value "35"
//   lookup               LookupTable {"first": "FRST"}
//   if_empty_use_default Value "Membership fee"
func applyText(value string, action compiledAction) string {
	switch action.Type {
	case "trim":
		return strings.TrimSpace(value)

	case "uppercase":
		return strings.ToUpper(value)

	case "lowercase":
		return strings.ToLower(value)

	case "remove_whitespace":
		return strings.Map(func(r rune) rune {
			if unicode.IsSpace(r) {
				return -1
			}
			return r
		}, value)

	case "normalize_whitespace":
		return strings.Join(strings.Fields(value), " ")

	case "prepend_string":
		return action.Value + value

	case "append_string":
		return value + action.Value

	case "replace":
		if action.Find == "" {
			return value
		}
		return strings.ReplaceAll(value, action.Find, action.Value)

	case "regex_replace":
		return action.pattern.ReplaceAllString(value, action.Value)

	case "truncate":
		runes := []rune(value)
		if len(runes) > action.length {
			return string(runes[:action.length])
		}
		return value

	case "lookup":
		if replacement, exists := action.LookupTable[value]; exists {
			return replacement
		}
		return value

	case "if_empty_use_default":
		if strings.TrimSpace(value) == "" {
			return action.Value
		}
		return value
	}

	return value
}

// =============================================================================
// COLUMN ALIASES
// =============================================================================

// recognizedFields are matched case-insensitively against source headers.
var recognizedFields = append(append([]string{}, types.TransactionFields...), types.CreditorFields...)

// ColumnMapper renames source headers to the recognized field names.
type ColumnMapper struct {
	aliases map[string]string
}

// NewColumnMapper builds a mapper from configured aliases. Recognized field
// names also match regardless of case and surrounding blanks.
func NewColumnMapper(aliases map[string]string) *ColumnMapper {
	m := &ColumnMapper{aliases: make(map[string]string)}

	for _, field := range recognizedFields {
		m.aliases[foldHeader(field)] = field
	}
	for from, to := range aliases {
		m.aliases[foldHeader(from)] = to
	}

	return m
}

// Header returns the field name for a source header.
func (m *ColumnMapper) Header(header string) string {
	if to, ok := m.aliases[foldHeader(header)]; ok {
		return to
	}
	return header
}

// Headers maps a header row.
func (m *ColumnMapper) Headers(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = m.Header(h)
	}
	return out
}

// Row returns a copy of row with renamed keys. When two source columns map
// to the same field, the first non-empty value in header order wins; keys
// not listed in headers follow in sorted order.
func (m *ColumnMapper) Row(row types.RawRow, headers []string) types.RawRow {
	keys := make([]string, 0, len(row))
	listed := make(map[string]bool, len(headers))
	for _, h := range headers {
		if _, ok := row[h]; ok && !listed[h] {
			keys = append(keys, h)
			listed[h] = true
		}
	}

	var rest []string
	for key := range row {
		if !listed[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	out := make(types.RawRow, len(row))
	for _, key := range keys {
		name := m.Header(key)
		if existing, ok := out[name]; ok && !isBlank(existing) {
			continue
		}
		out[name] = row[key]
	}
	return out
}

// Table maps the headers and every row of a table.
func (m *ColumnMapper) Table(table *types.Table) *types.Table {
	rows := make([]types.RawRow, len(table.Rows))
	for i, row := range table.Rows {
		rows[i] = m.Row(row, table.Headers)
	}
	return &types.Table{Sheet: table.Sheet, Headers: m.Headers(table.Headers), Rows: rows}
}

// Missing lists the transaction fields absent from a mapped header row.
func Missing(headers []string) []string {
	have := make(map[string]bool, len(headers))
	for _, h := range headers {
		have[h] = true
	}

	var missing []string
	for _, field := range types.TransactionFields {
		if !have[field] {
			missing = append(missing, field)
		}
	}
	return missing
}

func foldHeader(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
