// Package sanitize normalizes raw attribute labels into canonical,
// database-safe field names.
package sanitize

import "strings"

// FieldName lower-cases the input, collapses every maximal run of characters
// outside [a-z0-9_] into a single underscore, and strips leading and trailing
// underscores.
//
// The function is total and idempotent: any string produces a string, and
// applying it twice is the same as applying it once.
//
// Edge cases:
//   - Underscores already present in the input are kept verbatim; only runs
//     of invalid characters collapse.
//   - Input with no alphanumerics at all sanitizes to "". Callers must treat
//     an empty result as an invalid field name and reject or flag it; see
//     Valid.
func FieldName(name string) string {
	lower := strings.ToLower(name)

	var b strings.Builder
	b.Grow(len(lower))

	inRun := false
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}

	return strings.Trim(b.String(), "_")
}

// Valid reports whether a sanitized name is usable as a field name.
// Only the empty result of FieldName is invalid.
func Valid(sanitized string) bool {
	return sanitized != ""
}
