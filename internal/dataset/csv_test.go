package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"cohortetl/internal/reshape"
	"cohortetl/pkg/records"
)

// TestLongTableRoundtrip: writing and re-reading the combined long table
// preserves rows, order, and the configured key-column header.
func TestLongTableRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "long.csv")
	rows := []records.Observation{
		{PatientID: "P1", FieldName: "SHEET1_AGE_1", Value: "30"},
		{PatientID: "P1", FieldName: "SHEET1_NOTES_1", Value: "has, comma"},
		{PatientID: "P2", FieldName: "SHEET1_AGE_1", Value: ""},
	}

	if err := WriteLongTable(path, "DEIDENTIFIED_MASTER_PATIENT_ID", rows); err != nil {
		t.Fatalf("WriteLongTable: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.HasPrefix(string(data), "DEIDENTIFIED_MASTER_PATIENT_ID,Variable,Value\n") {
		t.Fatalf("unexpected header: %q", strings.SplitN(string(data), "\n", 2)[0])
	}

	got, err := ReadLongTable(path, "", "DEIDENTIFIED_MASTER_PATIENT_ID")
	if err != nil {
		t.Fatalf("ReadLongTable: %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Fatalf("roundtrip:\n got %v\nwant %v", got, rows)
	}
}

// TestLongTableCanonicalHeader: a long table written under any accepted
// key-column spelling must be readable by a consumer that only knows the
// canonical header. This is the contract between the reshape and compile
// stages.
func TestLongTableCanonicalHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "long.csv")
	rows := []records.Observation{
		{PatientID: "P1", FieldName: "SHEET1_AGE_1", Value: "30"},
	}

	configured := "Deidentified Master Patient ID"
	if err := WriteLongTable(path, reshape.CanonicalLabel(configured), rows); err != nil {
		t.Fatalf("WriteLongTable: %v", err)
	}

	got, err := ReadLongTable(path, "", "DEIDENTIFIED_MASTER_PATIENT_ID")
	if err != nil {
		t.Fatalf("ReadLongTable with canonical key column: %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Fatalf("got %v, want %v", got, rows)
	}
}

// TestFieldValuesRoundtripWithSource covers the 4-column compliant artifact,
// including the lowercase "source" header.
func TestFieldValuesRoundtripWithSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "values.csv")
	values := []records.FieldValue{
		{PatientID: "P1", FieldName: "sheet1_age_1", RawValue: "30", Source: "IBD_Plexus"},
	}

	if err := WriteFieldValues(path, values, true); err != nil {
		t.Fatalf("WriteFieldValues: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.HasPrefix(string(data), "PatientID,FieldName,FieldValue,source\n") {
		t.Fatalf("unexpected header: %q", strings.SplitN(string(data), "\n", 2)[0])
	}

	got, err := ReadFieldValues(path, "")
	if err != nil {
		t.Fatalf("ReadFieldValues: %v", err)
	}
	if !reflect.DeepEqual(got, values) {
		t.Fatalf("roundtrip:\n got %v\nwant %v", got, values)
	}
}

// TestFieldValuesSourceOptional: a values file without the source column is
// still readable; Source comes back blank.
func TestFieldValuesSourceOptional(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "values.csv")
	if err := os.WriteFile(path, []byte("PatientID,FieldName,FieldValue\nP1,age,30\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFieldValues(path, "")
	if err != nil {
		t.Fatalf("ReadFieldValues: %v", err)
	}
	want := []records.FieldValue{{PatientID: "P1", FieldName: "age", RawValue: "30"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// TestReadMissingColumn: a header missing a required column fails with all
// missing names listed, not just the first.
func TestReadMissingColumn(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("PatientID,Other\nP1,x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := ReadFieldValues(path, "")
	if err == nil {
		t.Fatal("expected error for missing columns")
	}
	for _, want := range []string{"FieldName", "FieldValue"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err %v does not name missing column %s", err, want)
		}
	}
}

// TestReadBOMHeader: a UTF-8 BOM on the first header cell must not break
// column lookup.
func TestReadBOMHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bom.csv")
	if err := os.WriteFile(path, []byte("\uFEFFPatientID,FieldName,FieldValue\nP1,age,30\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFieldValues(path, "")
	if err != nil {
		t.Fatalf("ReadFieldValues: %v", err)
	}
	if len(got) != 1 || got[0].PatientID != "P1" {
		t.Fatalf("got %v", got)
	}
}

// TestReadLatin1: the encoding option decodes legacy single-byte exports.
// 0xE9 is é in ISO 8859-1.
func TestReadLatin1(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "latin1.csv")
	raw := []byte("PatientID,FieldName,FieldValue\nP1,note,caf\xe9\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFieldValues(path, "latin1")
	if err != nil {
		t.Fatalf("ReadFieldValues: %v", err)
	}
	if got[0].RawValue != "café" {
		t.Fatalf("RawValue = %q, want café", got[0].RawValue)
	}

	if _, err := ReadFieldValues(path, "klingon"); err == nil {
		t.Fatal("expected error for unsupported encoding")
	}
}

// TestSupportedEncoding: the validation helper must agree with the reader's
// accepted names.
func TestSupportedEncoding(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "utf-8", "latin1", "iso-8859-1", "windows-1252", "cp1252"} {
		if !SupportedEncoding(name) {
			t.Errorf("SupportedEncoding(%q) = false, want true", name)
		}
	}
	if SupportedEncoding("ebcdic") {
		t.Error("SupportedEncoding(\"ebcdic\") = true, want false")
	}
}

// TestFieldDefinitionsRoundtrip covers the three-column definitions
// artifact.
func TestFieldDefinitionsRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "defs.csv")
	defs := []records.FieldDefinition{
		{FieldName: "sheet1_age_1", DataType: "int", Description: "SHEET1_AGE_1"},
	}

	if err := WriteFieldDefinitions(path, defs); err != nil {
		t.Fatalf("WriteFieldDefinitions: %v", err)
	}
	got, err := ReadFieldDefinitions(path, "")
	if err != nil {
		t.Fatalf("ReadFieldDefinitions: %v", err)
	}
	if !reflect.DeepEqual(got, defs) {
		t.Fatalf("roundtrip: got %v, want %v", got, defs)
	}
}

// TestWritePatients checks the single-column identifier artifact.
func TestWritePatients(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "patients.csv")
	if err := WritePatients(path, []records.Patient{{ID: "P1"}, {ID: "P2"}}); err != nil {
		t.Fatalf("WritePatients: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "PatientID\nP1\nP2\n" {
		t.Fatalf("content = %q", string(data))
	}
}

// TestReadMissingFile: missing inputs are reported with the path.
func TestReadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := ReadFieldValues(filepath.Join(t.TempDir(), "nope.csv"), "")
	if err == nil || !strings.Contains(err.Error(), "nope.csv") {
		t.Fatalf("err = %v, want path in message", err)
	}
}
