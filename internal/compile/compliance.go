package compile

import (
	"fmt"
	"strings"

	"cohortetl/internal/sanitize"
	"cohortetl/pkg/records"
)

// NullPolicy decides which raw values count as null when filtering field
// values. The two variants exist because the pipeline stages historically
// disagreed; the choice is a deliberate per-run configuration, never a
// default picked silently.
type NullPolicy int

const (
	// NullKeepBlanks treats blank strings as valid data; nothing is dropped.
	NullKeepBlanks NullPolicy = iota

	// NullNATokens treats blanks, whitespace-only values, "NA" and "N/A" as
	// null.
	NullNATokens
)

// NullPolicyFromString parses a config string ("keep_blanks" | "na_tokens").
func NullPolicyFromString(s string) (NullPolicy, error) {
	switch s {
	case "keep_blanks":
		return NullKeepBlanks, nil
	case "na_tokens":
		return NullNATokens, nil
	default:
		return 0, fmt.Errorf("unknown null policy %q (want keep_blanks or na_tokens)", s)
	}
}

// IsNull reports whether a raw value is null under the policy.
func (p NullPolicy) IsNull(v string) bool {
	switch p {
	case NullNATokens:
		t := strings.TrimSpace(v)
		return t == "" || t == "NA" || t == "N/A"
	default:
		return false
	}
}

// CollisionMode selects what happens when two distinct raw field names
// sanitize to the same canonical name.
type CollisionMode int

const (
	// CollisionFail aborts the run on the first collision. Default: a silent
	// merge of two distinct fields corrupts the schema.
	CollisionFail CollisionMode = iota

	// CollisionSuffix disambiguates by appending _2, _3, ... to later names.
	CollisionSuffix
)

// CollisionModeFromString parses a config string ("fail" | "suffix").
func CollisionModeFromString(s string) (CollisionMode, error) {
	switch s {
	case "", "fail":
		return CollisionFail, nil
	case "suffix":
		return CollisionSuffix, nil
	default:
		return 0, fmt.Errorf("unknown collision mode %q (want fail or suffix)", s)
	}
}

// fieldTypeVocabulary maps inference labels onto the storage type
// vocabulary. Anything absent from the table maps to "string".
var fieldTypeVocabulary = map[string]string{
	"string":  "string",
	"date":    "date",
	"float":   "float",
	"integer": "int",
	"boolean": "boolean",
}

// MapFieldType projects an inference label through the fixed storage
// vocabulary; unrecognized labels default to string.
func MapFieldType(label string) string {
	if mapped, ok := fieldTypeVocabulary[label]; ok {
		return mapped
	}
	return "string"
}

// ComplianceOptions configure the storage-compliance pass.
type ComplianceOptions struct {
	Nulls      NullPolicy
	Collisions CollisionMode

	// Source is a static provenance tag stamped onto every value row
	// (e.g. "IBD_Plexus"). Empty leaves the column blank.
	Source string
}

// ComplianceResult carries the compliant tables plus cleaning counters.
type ComplianceResult struct {
	Values       []records.FieldValue
	Definitions  []records.FieldDefinition
	NullsDropped int
}

// nameMapper applies sanitization consistently across the value and
// definition tables, detecting collisions between distinct raw names.
type nameMapper struct {
	mode  CollisionMode
	byRaw map[string]string // raw -> assigned sanitized name
	taken map[string]string // sanitized -> first raw that claimed it
}

func newNameMapper(mode CollisionMode) *nameMapper {
	return &nameMapper{
		mode:  mode,
		byRaw: map[string]string{},
		taken: map[string]string{},
	}
}

func (m *nameMapper) lookup(raw string) (string, error) {
	if assigned, ok := m.byRaw[raw]; ok {
		return assigned, nil
	}

	name := sanitize.FieldName(raw)
	if !sanitize.Valid(name) {
		return "", fmt.Errorf("field name %q sanitizes to empty", raw)
	}

	if first, clash := m.taken[name]; clash {
		if m.mode == CollisionFail {
			return "", fmt.Errorf("sanitized name collision: %q and %q both map to %q", first, raw, name)
		}
		base := name
		for n := 2; ; n++ {
			cand := fmt.Sprintf("%s_%d", base, n)
			if _, used := m.taken[cand]; !used {
				name = cand
				break
			}
		}
	}

	m.byRaw[raw] = name
	m.taken[name] = raw
	return name, nil
}

// Compliant filters null values, sanitizes field names across both tables,
// maps types onto the storage vocabulary, and stamps the static source tag.
//
// The same raw->sanitized assignment is used for values and definitions so
// the two artifacts stay joinable. Definitions whose raw name never appears
// in the values table still get mapped, so coverage validation downstream
// remains meaningful.
func Compliant(rows []records.Observation, defs []records.FieldDefinition, opts ComplianceOptions) (ComplianceResult, error) {
	var res ComplianceResult
	mapper := newNameMapper(opts.Collisions)

	// Definitions first: their order defines name assignment for the suffix
	// mode, and every field seen in values must resolve identically.
	res.Definitions = make([]records.FieldDefinition, 0, len(defs))
	for _, d := range defs {
		name, err := mapper.lookup(d.FieldName)
		if err != nil {
			return ComplianceResult{}, fmt.Errorf("field definitions: %w", err)
		}
		res.Definitions = append(res.Definitions, records.FieldDefinition{
			FieldName:   name,
			DataType:    MapFieldType(d.DataType),
			Description: d.Description,
		})
	}

	res.Values = make([]records.FieldValue, 0, len(rows))
	for _, r := range rows {
		if opts.Nulls.IsNull(r.Value) {
			res.NullsDropped++
			continue
		}
		name, err := mapper.lookup(r.FieldName)
		if err != nil {
			return ComplianceResult{}, fmt.Errorf("field values: %w", err)
		}
		res.Values = append(res.Values, records.FieldValue{
			PatientID: r.PatientID,
			FieldName: name,
			RawValue:  r.Value,
			Source:    opts.Source,
		})
	}

	return res, nil
}
