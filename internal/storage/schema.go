package storage

// Table names shared by every backend. The DDL itself is backend-specific
// (type affinity, identity columns), but the logical model is fixed:
//
//	patients(id)
//	field_definitions(field_name, field_type, description, is_delimited, delimiter)
//	field_values(patient_id, field_name, raw_value, source)
const (
	TablePatients         = "patients"
	TableFieldDefinitions = "field_definitions"
	TableFieldValues      = "field_values"
)
