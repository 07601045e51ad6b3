// Package reshape flattens wide clinical sheets (one row per record, many
// attribute columns) into long-format observations (one row per
// patient/attribute/value triple), with per-patient record sequencing so
// repeated records become distinct attributes.
package reshape

import (
	"strconv"
	"strings"

	"cohortetl/internal/infer"
	"cohortetl/pkg/records"
)

// Sheet is one wide-format input sheet held fully in memory. Rows are cell
// text aligned to Columns; ragged rows are tolerated (missing cells read as
// blank).
type Sheet struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Result is the combined long table plus per-run cleaning counters for
// operator diagnosis.
type Result struct {
	Rows              []records.Observation
	SheetsProcessed   int
	SheetsSkipped     int
	DuplicatesRemoved int
}

// Logger matches the stdlib log.Printf signature; nil disables logging.
type Logger func(format string, v ...any)

// CanonicalLabel standardizes a raw column or sheet label: trim whitespace,
// spaces to underscores, uppercase.
func CanonicalLabel(label string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(label), " ", "_"))
}

// Reshape converts every sheet into long format and concatenates the
// results.
//
// keyColumn is matched against canonicalized column labels. A sheet without
// the key column is skipped and counted, not an error: partial workbooks are
// an expected input condition. Zero surviving sheets yield an empty Result.
//
// Per sheet, in order:
//  1. canonicalize column labels and prefix non-key columns with the
//     canonicalized sheet name (global uniqueness across sheets),
//  2. drop exact-duplicate rows (whole-row comparison, so this must precede
//     sequence assignment),
//  3. number rows 1..n per patient in encounter order,
//  4. rewrite date-typed columns to YYYY-MM-DD (melting loses per-column
//     type information, so this cannot happen later),
//  5. melt and append the sequence number to each attribute name.
func Reshape(sheets []Sheet, keyColumn string, logf Logger) Result {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	key := CanonicalLabel(keyColumn)

	var res Result
	for _, sheet := range sheets {
		cols := make([]string, len(sheet.Columns))
		keyIdx := -1
		for i, c := range sheet.Columns {
			cols[i] = CanonicalLabel(c)
			if cols[i] == key {
				keyIdx = i
			}
		}
		if keyIdx < 0 {
			logf("sheet=%s skipped: missing key column %s", sheet.Name, key)
			res.SheetsSkipped++
			continue
		}

		prefix := CanonicalLabel(sheet.Name) + "_"
		for i := range cols {
			if i != keyIdx {
				cols[i] = prefix + cols[i]
			}
		}

		rows, removed := dropDuplicateRows(sheet.Rows)
		res.DuplicatesRemoved += removed
		if removed > 0 {
			logf("sheet=%s removed %d duplicate rows", sheet.Name, removed)
		}

		normalizeDateColumns(cols, keyIdx, rows, logf, sheet.Name)

		seq := make(map[string]int, len(rows))
		for _, row := range rows {
			id := cell(row, keyIdx)
			seq[id]++
			n := strconv.Itoa(seq[id])
			for i, name := range cols {
				if i == keyIdx {
					continue
				}
				res.Rows = append(res.Rows, records.Observation{
					PatientID: id,
					FieldName: name + "_" + n,
					Value:     cell(row, i),
				})
			}
		}

		res.SheetsProcessed++
		logf("sheet=%s rows=%d long_rows=%d", sheet.Name, len(rows), len(rows)*(len(cols)-1))
	}

	return res
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// dropDuplicateRows removes rows that are identical across every column,
// keeping the first occurrence. Encounter order is preserved.
func dropDuplicateRows(rows [][]string) ([][]string, int) {
	seen := make(map[string]struct{}, len(rows))
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		k := strings.Join(row, "\x00")
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out, len(rows) - len(out)
}

// normalizeDateColumns rewrites every column recognized as a date type to
// the canonical YYYY-MM-DD form, in place. A column is a date column when it
// has at least one non-blank value and every non-blank value parses under
// the accepted date layouts.
func normalizeDateColumns(cols []string, keyIdx int, rows [][]string, logf Logger, sheetName string) {
	dateCols := 0
	for i := range cols {
		if i == keyIdx || !isDateColumn(rows, i) {
			continue
		}
		dateCols++
		for _, row := range rows {
			v := cell(row, i)
			if strings.TrimSpace(v) == "" {
				continue
			}
			if t, ok := infer.ParseDate(v); ok {
				row[i] = t.Format("2006-01-02")
			}
		}
	}
	if dateCols > 0 {
		logf("sheet=%s formatting %d date columns to YYYY-MM-DD", sheetName, dateCols)
	}
}

func isDateColumn(rows [][]string, i int) bool {
	seen := false
	for _, row := range rows {
		v := strings.TrimSpace(cell(row, i))
		if v == "" {
			continue
		}
		seen = true
		if _, ok := infer.ParseDate(v); !ok {
			return false
		}
	}
	return seen
}
