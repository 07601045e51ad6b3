package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"cohortetl/pkg/records"
)

// decoderFor maps a config encoding name to a decoder. UTF-8 input needs no
// transform; legacy exports are commonly Latin-1 or Windows-1252.
func decoderFor(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "latin1", "iso-8859-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

// SupportedEncoding reports whether name is an accepted input encoding.
// Config validation uses it so a typo fails before any file is read.
func SupportedEncoding(name string) bool {
	_, err := decoderFor(name)
	return err == nil
}

func openReader(path, encodingName string) (io.ReadCloser, error) {
	dec, err := decoderFor(encodingName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if dec == nil {
		return f, nil
	}

	type rc struct {
		io.Reader
		io.Closer
	}
	return &rc{Reader: transform.NewReader(f, dec), Closer: f}, nil
}

// headerIndex maps wanted column names to their positions in the header.
// The first cell is stripped of a UTF-8 BOM if present. Missing wanted
// columns are reported together for operator diagnosis.
func headerIndex(header []string, wanted []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		pos[strings.TrimSpace(h)] = i
	}

	idx := make(map[string]int, len(wanted))
	var missing []string
	for _, w := range wanted {
		i, ok := pos[w]
		if !ok {
			missing = append(missing, w)
			continue
		}
		idx[w] = i
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns %s (header: %s)",
			strings.Join(missing, ", "), strings.Join(header, ", "))
	}
	return idx, nil
}

func readAll(path, encodingName string, wanted, optional []string, visit func(get func(col string) string)) error {
	src, err := openReader(path, encodingName)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", path, err)
	}
	idx, err := headerIndex(header, wanted)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	for _, opt := range optional {
		for i, h := range header {
			if strings.TrimSpace(h) == opt {
				idx[opt] = i
			}
		}
	}

	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s line %d: %w", path, line, err)
		}
		visit(func(col string) string {
			i, ok := idx[col]
			if ok && i < len(rec) {
				return rec[i]
			}
			return ""
		})
	}
}

// ReadLongTable loads a long-format CSV (keyColumn, Variable, Value) into
// observations. Columns are located by header name, so extra columns are
// tolerated.
func ReadLongTable(path, encodingName, keyColumn string) ([]records.Observation, error) {
	var out []records.Observation
	err := readAll(path, encodingName, []string{keyColumn, "Variable", "Value"}, nil, func(get func(string) string) {
		out = append(out, records.Observation{
			PatientID: get(keyColumn),
			FieldName: get("Variable"),
			Value:     get("Value"),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadFieldValues loads a compliant field-values CSV. The source column is
// optional; absent means blank.
func ReadFieldValues(path, encodingName string) ([]records.FieldValue, error) {
	var out []records.FieldValue
	required := []string{"PatientID", "FieldName", "FieldValue"}
	err := readAll(path, encodingName, required, []string{"source"}, func(get func(string) string) {
		out = append(out, records.FieldValue{
			PatientID: get("PatientID"),
			FieldName: get("FieldName"),
			RawValue:  get("FieldValue"),
			Source:    get("source"),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadFieldDefinitions loads a field-definitions CSV
// (FieldName, DataType, Description).
func ReadFieldDefinitions(path, encodingName string) ([]records.FieldDefinition, error) {
	var out []records.FieldDefinition
	err := readAll(path, encodingName, []string{"FieldName", "DataType", "Description"}, nil, func(get func(string) string) {
		out = append(out, records.FieldDefinition{
			FieldName:   get("FieldName"),
			DataType:    get("DataType"),
			Description: get("Description"),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func writeAll(path string, header []string, n int, row func(i int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return err
	}
	for i := 0; i < n; i++ {
		if err := w.Write(row(i)); err != nil {
			_ = f.Close()
			return fmt.Errorf("write %s row %d: %w", path, i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return f.Close()
}

// WriteLongTable writes the combined long table with the configured key
// column name in the header.
func WriteLongTable(path, keyColumn string, rows []records.Observation) error {
	return writeAll(path, []string{keyColumn, "Variable", "Value"}, len(rows), func(i int) []string {
		return []string{rows[i].PatientID, rows[i].FieldName, rows[i].Value}
	})
}

// WritePatients writes the patient-identifier table.
func WritePatients(path string, patients []records.Patient) error {
	return writeAll(path, []string{"PatientID"}, len(patients), func(i int) []string {
		return []string{patients[i].ID}
	})
}

// WriteFieldDefinitions writes the field-definition catalog.
func WriteFieldDefinitions(path string, defs []records.FieldDefinition) error {
	return writeAll(path, []string{"FieldName", "DataType", "Description"}, len(defs), func(i int) []string {
		return []string{defs[i].FieldName, defs[i].DataType, defs[i].Description}
	})
}

// WriteFieldValues writes the field-value table. withSource appends the
// static source column (header name "source", lowercase, matching the
// downstream contract).
func WriteFieldValues(path string, values []records.FieldValue, withSource bool) error {
	header := []string{"PatientID", "FieldName", "FieldValue"}
	if withSource {
		header = append(header, "source")
	}
	return writeAll(path, header, len(values), func(i int) []string {
		row := []string{values[i].PatientID, values[i].FieldName, values[i].RawValue}
		if withSource {
			row = append(row, values[i].Source)
		}
		return row
	})
}
