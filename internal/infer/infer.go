// Package infer classifies collections of raw string values into semantic
// field types.
//
// Two inference policies exist because the pipeline historically ran two
// slightly different rule sets in different stages. They are kept as named,
// versioned values rather than merged: callers choose one explicitly per run.
package infer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cohortetl/pkg/records"
)

// Policy is a named set of thresholds and null-handling rules governing type
// inference. Use one of the package-level policies, or construct a custom one
// for a run.
type Policy struct {
	// Name identifies the policy in logs and config ("compile", "ingest").
	Name string

	// NumericThreshold is the minimum fraction of values that must coerce to
	// a number for the field to be numeric (exclusive bound).
	NumericThreshold float64

	// IntegerThreshold is the minimum fraction of coerced numeric values that
	// must be whole for the field to be integer rather than float (exclusive
	// bound). Only used when DateFirst is false.
	IntegerThreshold float64

	// DateThreshold is the minimum fraction of values that must parse as a
	// date (exclusive bound). Only used when DateFirst is true; the
	// numeric-first variant requires every value to match the literal
	// YYYY-MM-DD pattern instead.
	DateThreshold float64

	// DateFirst selects precedence. The date-first variant tests dates before
	// numbers and distinguishes integer from float by integer-literal
	// parsing; the numeric-first variant tests numbers before dates and uses
	// modular arithmetic on the coerced values.
	DateFirst bool

	// NullTokens are value strings treated as missing and removed before
	// inference. The empty string is always treated as missing.
	NullTokens []string
}

// PolicyCompile is the numeric-first policy used when compiling field
// definitions from the combined long table. The 0.8/0.95 thresholds are
// deliberately permissive: a minority of malformed entries (typos,
// annotations) must not disqualify an otherwise-numeric field.
var PolicyCompile = Policy{
	Name:             "compile",
	NumericThreshold: 0.8,
	IntegerThreshold: 0.95,
}

// PolicyIngest is the date-first policy used when re-deriving definitions at
// ingestion time. It applies a uniform 0.9 threshold to both checks and
// calls a value integer only when it parses as an integer literal.
var PolicyIngest = Policy{
	Name:             "ingest",
	NumericThreshold: 0.9,
	DateThreshold:    0.9,
	DateFirst:        true,
}

// isoDatePattern is the literal date shape accepted by the numeric-first
// policy: four digits, dash, two digits, dash, two digits.
var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// dateLayouts are the layouts the date-first policy accepts. ISO first; the
// others cover common export formats.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02.01.2006",
	"02/01/2006",
}

// ParseDate attempts to parse s against the accepted date layouts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, lay := range dateLayouts {
		if t, err := time.Parse(lay, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Infer classifies the value population into a field type.
//
// Values in the policy's null set (and blanks) are removed first; an empty
// remaining population is a string field. Boolean is a defined target type
// but is never produced by inference; that omission is intentional and
// mirrors the behavior the stored data was built with.
func (p Policy) Infer(values []string) records.FieldType {
	vals := p.dropMissing(values)
	if len(vals) == 0 {
		return records.FieldTypeString
	}

	if p.DateFirst {
		return p.inferDateFirst(vals)
	}
	return p.inferNumericFirst(vals)
}

func (p Policy) inferNumericFirst(vals []string) records.FieldType {
	numeric, whole, _ := countNumeric(vals)

	if ratio(numeric, len(vals)) > p.NumericThreshold {
		if ratio(whole, numeric) > p.IntegerThreshold {
			return records.FieldTypeInteger
		}
		return records.FieldTypeFloat
	}

	for _, v := range vals {
		if !isoDatePattern.MatchString(v) {
			return records.FieldTypeString
		}
	}
	return records.FieldTypeDate
}

func (p Policy) inferDateFirst(vals []string) records.FieldType {
	dates := 0
	for _, v := range vals {
		if _, ok := ParseDate(v); ok {
			dates++
		}
	}
	if ratio(dates, len(vals)) > p.DateThreshold {
		return records.FieldTypeDate
	}

	numeric, _, intLit := countNumeric(vals)
	if ratio(numeric, len(vals)) > p.NumericThreshold {
		if intLit == numeric {
			return records.FieldTypeInteger
		}
		return records.FieldTypeFloat
	}

	return records.FieldTypeString
}

// countNumeric coerces every value to a float and reports:
//   - numeric: how many coerced successfully
//   - whole:  how many of those are whole numbers (value mod 1 == 0)
//   - intLit: how many parse as integer literals (so "2.0" is numeric and
//     whole, but not an integer literal)
func countNumeric(vals []string) (numeric, whole, intLit int) {
	for _, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		numeric++
		if math.Mod(f, 1) == 0 {
			whole++
		}
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			intLit++
		}
	}
	return numeric, whole, intLit
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// dropMissing removes blank and null-token values. Comparison against the
// null set is exact after trimming; whitespace-only values count as blank.
func (p Policy) dropMissing(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		t := strings.TrimSpace(v)
		if t == "" {
			continue
		}
		if p.isNullToken(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (p Policy) isNullToken(trimmed string) bool {
	for _, tok := range p.NullTokens {
		if trimmed == tok {
			return true
		}
	}
	return false
}
