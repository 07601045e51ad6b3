package sanitize

import (
	"testing"
)

// TestFieldName verifies the sanitization grammar: lowercase, invalid runs
// collapse to a single underscore, edge underscores stripped.
//
// This grammar defines the canonical field-name space of the whole pipeline,
// so the exact collapse/strip behavior matters downstream (collision
// detection keys on it).
func TestFieldName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase passthrough", "age", "age"},
		{"uppercase folded", "AGE", "age"},
		{"space becomes underscore", "Blood Pressure", "blood_pressure"},
		{"unit suffix", "Blood Pressure(mmHg)", "blood_pressure_mmhg"},
		{"invalid run collapses", "a---b", "a_b"},
		{"existing underscores kept", "a__b", "a__b"},
		{"mixed run does not merge across underscore", "a-_-b", "a___b"},
		{"edge underscores stripped", "_visit_", "visit"},
		{"edge junk stripped", "(age)", "age"},
		{"digits kept", "VISIT_2", "visit_2"},
		{"no alphanumerics", "***", ""},
		{"empty", "", ""},
		{"non-ascii replaced", "âge", "ge"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := FieldName(tt.in); got != tt.want {
				t.Fatalf("FieldName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestFieldNameIdempotent exercises the idempotence property over a grab-bag
// of inputs, including already-sanitized ones.
func TestFieldNameIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"", "AGE", "Blood Pressure(mmHg)", "a-_-b", "__x__", "ALREADY_ok_123",
		"SUMMARY_ENROLLMENT_AGE_1", "***", "Visit Date", "é é é",
	}
	for _, in := range inputs {
		once := FieldName(in)
		twice := FieldName(once)
		if once != twice {
			t.Fatalf("FieldName not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

// TestValid confirms that only the empty sanitized name is rejected.
func TestValid(t *testing.T) {
	t.Parallel()

	if Valid("") {
		t.Fatal("Valid(\"\") = true, want false")
	}
	if !Valid("a") {
		t.Fatal("Valid(\"a\") = false, want true")
	}
}
