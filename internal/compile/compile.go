// Package compile aggregates a long-format observation table into the three
// storage-bound tables: patient identifiers, field definitions, and
// compliant field values.
package compile

import (
	"cohortetl/internal/infer"
	"cohortetl/pkg/records"
)

// Patients returns the deduplicated patient-identifier list, preserving
// first-seen order.
func Patients(rows []records.Observation) []records.Patient {
	seen := make(map[string]struct{}, len(rows))
	out := make([]records.Patient, 0, 64)
	for _, r := range rows {
		if _, ok := seen[r.PatientID]; ok {
			continue
		}
		seen[r.PatientID] = struct{}{}
		out = append(out, records.Patient{ID: r.PatientID})
	}
	return out
}

// FieldDefinitions produces one definition per distinct attribute name, in
// first-seen order, with the type inferred over every value recorded under
// that attribute across the whole dataset. The description defaults to the
// field name itself; there is no richer metadata source at this stage.
func FieldDefinitions(rows []records.Observation, policy infer.Policy) []records.FieldDefinition {
	order := make([]string, 0, 64)
	values := make(map[string][]string, 64)
	for _, r := range rows {
		if _, ok := values[r.FieldName]; !ok {
			order = append(order, r.FieldName)
		}
		values[r.FieldName] = append(values[r.FieldName], r.Value)
	}

	out := make([]records.FieldDefinition, 0, len(order))
	for _, name := range order {
		out = append(out, records.FieldDefinition{
			FieldName:   name,
			DataType:    policy.Infer(values[name]).String(),
			Description: name,
		})
	}
	return out
}
