// Package config defines the JSON configuration for the three pipeline
// stages and their validation.
//
// Each stage binary loads exactly one of Reshape, Compile, or Ingest from a
// JSON file. Validation returns a list of Issues rather than a single error
// so a user fixing a config sees every problem in one pass; only
// SeverityError issues block a run.
package config

import (
	"fmt"
	"os"
	"strings"

	"cohortetl/internal/dataset"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, addressed by a JSON-ish path such as
// "storage.dsn".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// HasError reports whether any issue is severe enough to block a run.
func HasError(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Reshape configures the wide-to-long reshaping stage.
type Reshape struct {
	Job string `json:"job"`

	// Workbook is the path to the source XLSX file.
	Workbook string `json:"workbook"`

	// Sheets selects worksheets by name. Empty means all sheets.
	Sheets []string `json:"sheets"`

	// KeyColumn is the patient identifier column header. Matched after
	// canonicalization, so "Deidentified Master Patient ID" and
	// "DEIDENTIFIED_MASTER_PATIENT_ID" are equivalent.
	KeyColumn string `json:"key_column"`

	// Output is the destination CSV path for the long-format table.
	Output string `json:"output"`
}

// Validate checks a Reshape config.
func (c Reshape) Validate() []Issue {
	var issues []Issue
	if c.Workbook == "" {
		issues = append(issues, Issue{SeverityError, "workbook", "workbook path is required"})
	} else if !strings.HasSuffix(strings.ToLower(c.Workbook), ".xlsx") {
		issues = append(issues, Issue{SeverityWarning, "workbook", "expected an .xlsx file"})
	}
	if c.KeyColumn == "" {
		issues = append(issues, Issue{SeverityError, "key_column", "key_column is required"})
	}
	if c.Output == "" {
		issues = append(issues, Issue{SeverityError, "output", "output path is required"})
	}
	for i, s := range c.Sheets {
		if strings.TrimSpace(s) == "" {
			issues = append(issues, Issue{SeverityError, "sheets", fmt.Sprintf("sheets[%d] is blank", i)})
		}
	}
	return issues
}

// Compile configures the artifact compilation stage: long-format CSV in,
// patients + field definitions + compliance-mapped field values out.
type Compile struct {
	Job string `json:"job"`

	// Input is the long-format CSV produced by the reshape stage.
	Input string `json:"input"`

	// Encoding names the input character encoding. Empty means UTF-8;
	// "latin1" and "windows-1252" are also accepted.
	Encoding string `json:"encoding"`

	// Output paths for the three artifacts.
	PatientsOutput    string `json:"patients_output"`
	DefinitionsOutput string `json:"definitions_output"`
	ValuesOutput      string `json:"values_output"`

	// NullPolicy is "keep_blanks" (default) or "na_tokens".
	NullPolicy string `json:"null_policy"`

	// CollisionMode is "fail" (default) or "suffix".
	CollisionMode string `json:"collision_mode"`

	// Source is stamped into every compliance-mapped value row.
	Source string `json:"source"`
}

var validNullPolicies = map[string]bool{"": true, "keep_blanks": true, "na_tokens": true}
var validCollisionModes = map[string]bool{"": true, "fail": true, "suffix": true}

// Validate checks a Compile config.
func (c Compile) Validate() []Issue {
	var issues []Issue
	if c.Input == "" {
		issues = append(issues, Issue{SeverityError, "input", "input path is required"})
	}
	if c.PatientsOutput == "" {
		issues = append(issues, Issue{SeverityError, "patients_output", "patients_output path is required"})
	}
	if c.DefinitionsOutput == "" {
		issues = append(issues, Issue{SeverityError, "definitions_output", "definitions_output path is required"})
	}
	if c.ValuesOutput == "" {
		issues = append(issues, Issue{SeverityError, "values_output", "values_output path is required"})
	}
	if !validNullPolicies[c.NullPolicy] {
		issues = append(issues, Issue{SeverityError, "null_policy", "must be \"keep_blanks\" or \"na_tokens\""})
	}
	if !validCollisionModes[c.CollisionMode] {
		issues = append(issues, Issue{SeverityError, "collision_mode", "must be \"fail\" or \"suffix\""})
	}
	if !dataset.SupportedEncoding(c.Encoding) {
		issues = append(issues, Issue{SeverityError, "encoding", fmt.Sprintf("unsupported encoding %q", c.Encoding)})
	}
	if c.Source == "" {
		issues = append(issues, Issue{SeverityWarning, "source", "source tag is empty; value rows will carry no provenance"})
	}
	return issues
}

// StorageConfig selects and addresses a storage backend.
type StorageConfig struct {
	// Kind is a registered backend: "postgres" | "mssql" | "sqlite".
	Kind string `json:"kind"`

	// DSN may reference environment variables as ${VAR}; they are expanded
	// at load time so secrets stay out of config files.
	DSN string `json:"dsn"`
}

// Ingest configures the database ingestion stage.
type Ingest struct {
	Job string `json:"job"`

	// ValuesInput is the compliance-mapped field values CSV.
	ValuesInput string `json:"values_input"`

	// DefinitionsInput is the field definitions CSV. Empty means definitions
	// are inferred from the values at ingest time.
	DefinitionsInput string `json:"definitions_input"`

	// Encoding names the input character encoding for both CSVs. Empty means
	// UTF-8; artifacts are normally UTF-8 but may be hand-edited in legacy
	// tools between stages.
	Encoding string `json:"encoding"`

	Storage StorageConfig `json:"storage"`

	// BatchSize is rows per insert batch. Zero means the default (5000).
	BatchSize int `json:"batch_size"`
}

var knownStorageKinds = map[string]bool{"postgres": true, "mssql": true, "sqlite": true}

// Validate checks an Ingest config.
func (c Ingest) Validate() []Issue {
	var issues []Issue
	if c.ValuesInput == "" {
		issues = append(issues, Issue{SeverityError, "values_input", "values_input path is required"})
	}
	if c.Storage.Kind == "" {
		issues = append(issues, Issue{SeverityError, "storage.kind", "storage.kind is required"})
	} else if !knownStorageKinds[c.Storage.Kind] {
		issues = append(issues, Issue{SeverityError, "storage.kind", fmt.Sprintf("unknown backend %q", c.Storage.Kind)})
	}
	if c.Storage.DSN == "" {
		issues = append(issues, Issue{SeverityError, "storage.dsn", "storage.dsn is required"})
	}
	if c.BatchSize < 0 {
		issues = append(issues, Issue{SeverityError, "batch_size", "batch_size must not be negative"})
	}
	if !dataset.SupportedEncoding(c.Encoding) {
		issues = append(issues, Issue{SeverityError, "encoding", fmt.Sprintf("unsupported encoding %q", c.Encoding)})
	}
	if c.DefinitionsInput == "" {
		issues = append(issues, Issue{SeverityWarning, "definitions_input", "no definitions file; types will be inferred from values"})
	}
	return issues
}

// ExpandDSN resolves ${VAR} references in the DSN against the process
// environment. Unset variables expand to the empty string, which validation
// downstream of connect will surface as a connection error.
func (s StorageConfig) ExpandDSN() string {
	return os.Expand(s.DSN, func(key string) string {
		return os.Getenv(key)
	})
}
