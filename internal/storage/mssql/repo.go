// Package mssql implements storage.Repository for Microsoft SQL Server.
//
// Note on driver registration: this package intentionally does NOT blank-import
// a SQL Server driver. The application must register the "sqlserver" driver
// elsewhere (storage/all does this).
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"cohortetl/internal/storage"
	"cohortetl/pkg/records"
)

// maxParams caps parameters per statement. SQL Server rejects statements
// with more than 2100 parameters, so batches are re-chunked internally.
const maxParams = 2000

func init() {
	storage.Register("mssql", New)
}

type Repo struct {
	db *sql.DB
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
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
		`IF OBJECT_ID(N'` + storage.TablePatients + `', N'U') IS NULL
		CREATE TABLE ` + storage.TablePatients + ` (
			id NVARCHAR(255) NOT NULL PRIMARY KEY
		)`,
		`IF OBJECT_ID(N'` + storage.TableFieldDefinitions + `', N'U') IS NULL
		CREATE TABLE ` + storage.TableFieldDefinitions + ` (
			field_name NVARCHAR(255) NOT NULL PRIMARY KEY,
			field_type NVARCHAR(32) NOT NULL,
			description NVARCHAR(MAX),
			is_delimited BIT NOT NULL DEFAULT 0,
			delimiter NVARCHAR(8)
		)`,
		`IF OBJECT_ID(N'` + storage.TableFieldValues + `', N'U') IS NULL
		CREATE TABLE ` + storage.TableFieldValues + ` (
			id BIGINT IDENTITY(1,1) PRIMARY KEY,
			patient_id NVARCHAR(255) NOT NULL REFERENCES ` + storage.TablePatients + `(id),
			field_name NVARCHAR(255) NOT NULL REFERENCES ` + storage.TableFieldDefinitions + `(field_name),
			raw_value NVARCHAR(MAX) NOT NULL,
			source NVARCHAR(255)
		)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("mssql: ensure tables: %w", err)
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
	return s.insertChunked(ctx, storage.TablePatients, []string{"id"}, rows, []string{"id"})
}

func (s *session) CreateFieldDefinitions(ctx context.Context, defs []records.FieldDefinition) error {
	rows := make([][]any, len(defs))
	for i, d := range defs {
		rows[i] = []any{d.FieldName, d.DataType, d.Description, d.IsDelimited, nullable(d.Delimiter)}
	}
	cols := []string{"field_name", "field_type", "description", "is_delimited", "delimiter"}
	return s.insertChunked(ctx, storage.TableFieldDefinitions, cols, rows, []string{"field_name"})
}

func (s *session) CreateFieldValues(ctx context.Context, values []records.FieldValue) error {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v.PatientID, v.FieldName, v.RawValue, nullable(v.Source)}
	}
	cols := []string{"patient_id", "field_name", "raw_value", "source"}
	return s.insertChunked(ctx, storage.TableFieldValues, cols, rows, nil)
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

// insertChunked splits rows so each statement stays under the SQL Server
// parameter limit. When keyColumns is non-empty, the insert is made
// idempotent with a NOT EXISTS guard on those columns.
func (s *session) insertChunked(ctx context.Context, table string, columns []string, rows [][]any, keyColumns []string) error {
	if len(rows) == 0 {
		return nil
	}
	chunk := maxParams / len(columns)
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		stmt, args := buildInsertSQL(table, columns, rows[start:end], keyColumns)
		if _, err := s.tx.ExecContext(ctx, stmt, args...); err != nil {
			return err
		}
	}
	return nil
}

// buildInsertSQL renders either a plain multi-VALUES insert or, with
// keyColumns set, an INSERT ... SELECT ... WHERE NOT EXISTS over a VALUES
// table expression. Pure, for unit testing without a server.
func buildInsertSQL(table string, columns []string, rows [][]any, keyColumns []string) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(rows)*len(columns))

	values := func() {
		b.WriteString("VALUES ")
		p := 1
		for i := range rows {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(")
			for j := range columns {
				if j > 0 {
					b.WriteString(", ")
				}
				b.WriteString("@p")
				b.WriteString(strconv.Itoa(p))
				p++
				args = append(args, rows[i][j])
			}
			b.WriteString(")")
		}
	}

	colList := strings.Join(columns, ", ")

	if len(keyColumns) == 0 {
		b.WriteString("INSERT INTO " + table + " (" + colList + ") ")
		values()
		return b.String(), args
	}

	b.WriteString("INSERT INTO " + table + " (" + colList + ") SELECT " + colList + " FROM (")
	values()
	b.WriteString(") AS v(" + colList + ") WHERE NOT EXISTS (SELECT 1 FROM " + table + " t WHERE ")
	for i, k := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t." + k + " = v." + k)
	}
	b.WriteString(")")
	return b.String(), args
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
