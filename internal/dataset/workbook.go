// Package dataset reads and writes the pipeline's file artifacts: the wide
// XLSX workbook on the way in, and the long-format CSV tables between and
// after the stages.
package dataset

import (
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"cohortetl/internal/reshape"
)

// ReadWorkbook loads the named sheets of an XLSX workbook into wide sheets.
// The first row of each sheet is the header; ragged data rows are kept as-is
// (the reshaper treats missing trailing cells as blank).
//
// An empty sheets list loads every sheet in workbook order. Naming a sheet
// the workbook does not contain is a malformed-input error, not a skip: the
// skip accommodation applies to sheets missing the key column, which is
// decided later by the reshaper.
func ReadWorkbook(path string, sheets []string) ([]reshape.Sheet, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("workbook %s: %w", path, err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	if len(sheets) == 0 {
		sheets = f.GetSheetList()
	}

	out := make([]reshape.Sheet, 0, len(sheets))
	for _, name := range sheets {
		sheet, err := readSheet(f, name)
		if err != nil {
			return nil, err
		}
		out = append(out, sheet)
	}
	return out, nil
}

func readSheet(f *excelize.File, name string) (reshape.Sheet, error) {
	idx, err := f.GetSheetIndex(name)
	if err != nil {
		return reshape.Sheet{}, fmt.Errorf("sheet %q: %w", name, err)
	}
	if idx == -1 {
		return reshape.Sheet{}, fmt.Errorf("workbook has no sheet %q", name)
	}

	iter, err := f.Rows(name)
	if err != nil {
		return reshape.Sheet{}, fmt.Errorf("sheet %s: open rows: %w", name, err)
	}
	defer iter.Close()

	sheet := reshape.Sheet{Name: name}
	first := true
	for iter.Next() {
		row, err := iter.Columns()
		if err != nil {
			return reshape.Sheet{}, fmt.Errorf("sheet %s: read row: %w", name, err)
		}
		if first {
			// Leading fully-empty rows before the header are skipped.
			if len(row) == 0 {
				continue
			}
			sheet.Columns = row
			first = false
			continue
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	if err := iter.Error(); err != nil {
		return reshape.Sheet{}, fmt.Errorf("sheet %s: %w", name, err)
	}
	return sheet, nil
}
