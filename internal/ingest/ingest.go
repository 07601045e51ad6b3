// Package ingest translates the compiled tables into create-requests against
// the persistence layer, in bounded batches, inside one transaction.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cohortetl/internal/infer"
	"cohortetl/internal/storage"
	"cohortetl/pkg/records"
)

// DefaultBatchSize is the number of field values per create call.
const DefaultBatchSize = 5000

// Logger matches the stdlib log.Printf signature; nil disables logging.
type Logger func(format string, v ...any)

// Adapter submits one run's worth of records through a repository session.
type Adapter struct {
	Repo      storage.Repository
	BatchSize int
	Logf      Logger
}

// UniquePatients extracts the deduplicated patient list from value rows,
// preserving first-seen order.
func UniquePatients(values []records.FieldValue) []records.Patient {
	seen := make(map[string]struct{}, len(values))
	out := make([]records.Patient, 0, 64)
	for _, v := range values {
		if _, ok := seen[v.PatientID]; ok {
			continue
		}
		seen[v.PatientID] = struct{}{}
		out = append(out, records.Patient{ID: v.PatientID})
	}
	return out
}

// DefinitionsFromValues re-derives field definitions from the value rows
// themselves, inferring each field's type over all of its raw values. Used
// when no definitions artifact accompanies the values artifact.
func DefinitionsFromValues(values []records.FieldValue, policy infer.Policy) []records.FieldDefinition {
	order := make([]string, 0, 64)
	byField := make(map[string][]string, 64)
	for _, v := range values {
		if _, ok := byField[v.FieldName]; !ok {
			order = append(order, v.FieldName)
		}
		byField[v.FieldName] = append(byField[v.FieldName], v.RawValue)
	}

	out := make([]records.FieldDefinition, 0, len(order))
	for _, name := range order {
		out = append(out, records.FieldDefinition{
			FieldName:   name,
			DataType:    policy.Infer(byField[name]).String(),
			Description: name,
		})
	}
	return out
}

// ValidateCoverage checks that every field name referenced by the values has
// a matching definition. The two artifacts are independently versioned
// files, so a stale definitions file must fail loudly here instead of
// defaulting missing fields to string at insert time.
func ValidateCoverage(values []records.FieldValue, defs []records.FieldDefinition) error {
	defined := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		defined[d.FieldName] = struct{}{}
	}

	missing := map[string]struct{}{}
	for _, v := range values {
		if _, ok := defined[v.FieldName]; !ok {
			missing[v.FieldName] = struct{}{}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	names := make([]string, 0, len(missing))
	for n := range missing {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Errorf("%d field names used in values have no definition: %s",
		len(names), strings.Join(names, ", "))
}

// Run ingests patients, definitions and values in that order, values in
// batches of BatchSize, all inside one session. Any failure rolls the whole
// transaction back and is returned; partial commits are not possible.
//
// Filtering invariant: rows with blank raw values are skipped here as a last
// line of defense, and counted, even though the compliance stage normally
// removes them.
func (a *Adapter) Run(ctx context.Context, patients []records.Patient, defs []records.FieldDefinition, values []records.FieldValue) (err error) {
	logf := a.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	batchSize := a.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if err := ValidateCoverage(values, defs); err != nil {
		return fmt.Errorf("artifact consistency: %w", err)
	}

	kept := values[:0:0]
	skipped := 0
	for _, v := range values {
		if strings.TrimSpace(v.RawValue) == "" {
			skipped++
			continue
		}
		kept = append(kept, v)
	}
	if skipped > 0 {
		logf("skipped %d blank field values", skipped)
	}

	sess, err := a.Repo.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := sess.Rollback(ctx); rbErr != nil {
				logf("rollback failed: %v", rbErr)
			}
		}
	}()

	logf("ingesting %d unique patients", len(patients))
	if err = sess.CreatePatients(ctx, patients); err != nil {
		return fmt.Errorf("create patients: %w", err)
	}

	logf("ingesting %d field definitions", len(defs))
	if err = sess.CreateFieldDefinitions(ctx, defs); err != nil {
		return fmt.Errorf("create field definitions: %w", err)
	}

	for start := 0; start < len(kept); start += batchSize {
		if err = ctx.Err(); err != nil {
			return err
		}
		end := start + batchSize
		if end > len(kept) {
			end = len(kept)
		}
		if err = sess.CreateFieldValues(ctx, kept[start:end]); err != nil {
			return fmt.Errorf("create field values rows %d..%d: %w", start, end, err)
		}
		logf("processed batch up to row %d", end)
	}

	if err = sess.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	logf("ingestion committed: patients=%d definitions=%d values=%d", len(patients), len(defs), len(kept))
	return nil
}
