// Package records defines the shared record shapes that flow between the
// pipeline stages and into storage backends.
//
// These types are deliberately plain: every stage owns its table exclusively
// until it hands the slice to the next stage, so no synchronization or
// copy-on-write is needed.
package records

// FieldType is the semantic type inferred for a field from its raw string
// values. It is the internal label vocabulary; the storage-facing vocabulary
// is produced by the compliance mapper.
type FieldType int

const (
	FieldTypeString FieldType = iota
	FieldTypeInteger
	FieldTypeFloat
	FieldTypeDate
	FieldTypeBoolean
)

// String returns the internal inference label ("string", "integer", ...).
//
// These labels are what the schema-compile stage writes into the
// field-definitions artifact; the compliance mapping to storage types
// (e.g. integer -> int) happens later and is a separate vocabulary.
func (t FieldType) String() string {
	switch t {
	case FieldTypeInteger:
		return "integer"
	case FieldTypeFloat:
		return "float"
	case FieldTypeDate:
		return "date"
	case FieldTypeBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// Observation is one long-format row: one value observed for one field of
// one patient. Value is the raw cell text; it may still be blank before the
// compliance filter runs.
type Observation struct {
	PatientID string
	FieldName string
	Value     string
}

// Patient is a create-record for the patient identifier table.
type Patient struct {
	ID string
}

// FieldDefinition is a create-record for the field-definition catalog.
//
// DataType holds a type label as a string because the definition travels
// through a CSV artifact between stages: before compliance mapping it is an
// inference label ("integer"), after mapping it is a storage type ("int").
type FieldDefinition struct {
	FieldName   string
	DataType    string
	Description string
	IsDelimited bool
	Delimiter   string
}

// FieldValue is a create-record for the field-value table. Source is a
// static provenance tag stamped onto every row of a run.
type FieldValue struct {
	PatientID string
	FieldName string
	RawValue  string
	Source    string
}
