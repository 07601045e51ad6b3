// Package sqlite implements storage.Repository for SQLite via
// modernc.org/sqlite (pure Go, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"cohortetl/internal/storage"
	"cohortetl/pkg/records"
)

func init() {
	storage.Register("sqlite", New)
}

// maxParams caps bound variables per statement. SQLite's default
// SQLITE_MAX_VARIABLE_NUMBER is 32766; stay comfortably under it.
const maxParams = 32000

// Repo wraps a database/sql handle for the "sqlite" driver.
//
// Patients and field definitions insert with OR IGNORE so reruns over
// already-loaded identifiers stay idempotent; field values are plain inserts
// because the whole run is transactional and recomputed from scratch.
type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + storage.TablePatients + ` (
			id TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS ` + storage.TableFieldDefinitions + ` (
			field_name TEXT PRIMARY KEY,
			field_type TEXT NOT NULL,
			description TEXT,
			is_delimited INTEGER NOT NULL DEFAULT 0,
			delimiter TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + storage.TableFieldValues + ` (
			id INTEGER PRIMARY KEY,
			patient_id TEXT NOT NULL REFERENCES ` + storage.TablePatients + `(id),
			field_name TEXT NOT NULL REFERENCES ` + storage.TableFieldDefinitions + `(field_name),
			raw_value TEXT NOT NULL,
			source TEXT
		)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("sqlite: ensure tables: %w", err)
		}
	}
	return nil
}

func (r *Repo) Begin(ctx context.Context) (storage.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &session{tx: tx}, nil
}

type session struct {
	tx   *sql.Tx
	done bool
}

func (s *session) CreatePatients(ctx context.Context, patients []records.Patient) error {
	rows := make([][]any, len(patients))
	for i, p := range patients {
		rows[i] = []any{p.ID}
	}
	prefix := "INSERT OR IGNORE INTO " + storage.TablePatients + " (id) VALUES "
	return s.insertChunked(ctx, prefix, 1, rows)
}

func (s *session) CreateFieldDefinitions(ctx context.Context, defs []records.FieldDefinition) error {
	rows := make([][]any, len(defs))
	for i, d := range defs {
		rows[i] = []any{d.FieldName, d.DataType, d.Description, boolToInt(d.IsDelimited), nullable(d.Delimiter)}
	}
	prefix := "INSERT OR IGNORE INTO " + storage.TableFieldDefinitions +
		" (field_name, field_type, description, is_delimited, delimiter) VALUES "
	return s.insertChunked(ctx, prefix, 5, rows)
}

func (s *session) CreateFieldValues(ctx context.Context, values []records.FieldValue) error {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v.PatientID, v.FieldName, v.RawValue, nullable(v.Source)}
	}
	prefix := "INSERT INTO " + storage.TableFieldValues +
		" (patient_id, field_name, raw_value, source) VALUES "
	return s.insertChunked(ctx, prefix, 4, rows)
}

// insertChunked appends (?, ...) groups to insertPrefix, splitting rows so
// each statement stays under the SQLite bound-variable limit. Patient lists
// and definition catalogs arrive unbatched, so large cohorts must be
// re-chunked here.
func (s *session) insertChunked(ctx context.Context, insertPrefix string, nCols int, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	placeholder := "(?" + strings.Repeat(", ?", nCols-1) + ")"
	chunk := maxParams / nCols
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		var b strings.Builder
		b.WriteString(insertPrefix)
		args := make([]any, 0, (end-start)*nCols)
		for i, row := range rows[start:end] {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(placeholder)
			args = append(args, row...)
		}
		if _, err := s.tx.ExecContext(ctx, b.String(), args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) Commit(ctx context.Context) error {
	_ = ctx
	s.done = true
	return s.tx.Commit()
}

func (s *session) Rollback(ctx context.Context) error {
	_ = ctx
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return err
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
