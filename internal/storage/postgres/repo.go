// Package postgres implements storage.Repository for Postgres via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cohortetl/internal/storage"
	"cohortetl/pkg/records"
)

func init() {
	storage.Register("postgres", New)
}

// maxParams caps bind parameters per statement. The extended query protocol
// carries the parameter count as a uint16, so a statement can hold at most
// 65535; stay comfortably under it.
const maxParams = 65000

// Repo wraps a pgx pool.
//
// Patients and field definitions use ON CONFLICT DO NOTHING so reruns over
// already-loaded identifiers stay idempotent; field values are plain inserts
// inside the run transaction.
type Repo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) EnsureTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + storage.TablePatients + ` (
			id TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS ` + storage.TableFieldDefinitions + ` (
			field_name TEXT PRIMARY KEY,
			field_type TEXT NOT NULL,
			description TEXT,
			is_delimited BOOLEAN NOT NULL DEFAULT FALSE,
			delimiter TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS ` + storage.TableFieldValues + ` (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			patient_id TEXT NOT NULL REFERENCES ` + storage.TablePatients + `(id),
			field_name TEXT NOT NULL REFERENCES ` + storage.TableFieldDefinitions + `(field_name),
			raw_value TEXT NOT NULL,
			source TEXT
		)`,
	}
	for _, s := range stmts {
		if _, err := r.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("postgres: ensure tables: %w", err)
		}
	}
	return nil
}

func (r *Repo) Begin(ctx context.Context) (storage.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &session{tx: tx}, nil
}

type session struct {
	tx   pgx.Tx
	done bool
}

func (s *session) CreatePatients(ctx context.Context, patients []records.Patient) error {
	rows := make([][]any, len(patients))
	for i, p := range patients {
		rows[i] = []any{p.ID}
	}
	return s.insertChunked(ctx, storage.TablePatients, []string{"id"}, rows, true)
}

func (s *session) CreateFieldDefinitions(ctx context.Context, defs []records.FieldDefinition) error {
	rows := make([][]any, len(defs))
	for i, d := range defs {
		rows[i] = []any{d.FieldName, d.DataType, d.Description, d.IsDelimited, nullable(d.Delimiter)}
	}
	cols := []string{"field_name", "field_type", "description", "is_delimited", "delimiter"}
	return s.insertChunked(ctx, storage.TableFieldDefinitions, cols, rows, true)
}

func (s *session) CreateFieldValues(ctx context.Context, values []records.FieldValue) error {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v.PatientID, v.FieldName, v.RawValue, nullable(v.Source)}
	}
	cols := []string{"patient_id", "field_name", "raw_value", "source"}
	return s.insertChunked(ctx, storage.TableFieldValues, cols, rows, false)
}

// insertChunked splits rows so each statement stays under the protocol
// parameter limit. Patient lists and definition catalogs arrive unbatched,
// so large cohorts must be re-chunked here.
func (s *session) insertChunked(ctx context.Context, table string, columns []string, rows [][]any, onConflictDoNothing bool) error {
	if len(rows) == 0 {
		return nil
	}
	chunk := maxParams / len(columns)
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		sql, args := buildInsertSQL(table, columns, rows[start:end], onConflictDoNothing)
		if _, err := s.tx.Exec(ctx, sql, args...); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) Commit(ctx context.Context) error {
	s.done = true
	return s.tx.Commit(ctx)
}

func (s *session) Rollback(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// buildInsertSQL constructs a single multi-VALUES INSERT and its args.
//
// Pure and deterministic so placeholder numbering and the ON CONFLICT clause
// can be unit tested without a database.
func buildInsertSQL(table string, columns []string, rows [][]any, onConflictDoNothing bool) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("$")
			b.WriteString(strconv.Itoa(p))
			p++
			args = append(args, row[j])
		}
		b.WriteString(")")
	}

	if onConflictDoNothing {
		b.WriteString(" ON CONFLICT DO NOTHING")
	}
	return b.String(), args
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
