package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cohortetl/internal/infer"
	"cohortetl/internal/storage"
	"cohortetl/pkg/records"
)

// fakeRepo records every session interaction so tests can assert batch
// shapes and transaction outcomes without a database.
type fakeRepo struct {
	sess *fakeSession
}

func (r *fakeRepo) Close()                                 {}
func (r *fakeRepo) EnsureTables(ctx context.Context) error { return nil }
func (r *fakeRepo) Begin(ctx context.Context) (storage.Session, error) {
	if r.sess == nil {
		r.sess = &fakeSession{}
	}
	return r.sess, nil
}

type fakeSession struct {
	patients     []records.Patient
	defs         []records.FieldDefinition
	valueBatches [][]records.FieldValue

	failOnBatch int // 1-based; 0 disables
	committed   bool
	rolledBack  bool
}

func (s *fakeSession) CreatePatients(ctx context.Context, p []records.Patient) error {
	s.patients = append(s.patients, p...)
	return nil
}

func (s *fakeSession) CreateFieldDefinitions(ctx context.Context, d []records.FieldDefinition) error {
	s.defs = append(s.defs, d...)
	return nil
}

func (s *fakeSession) CreateFieldValues(ctx context.Context, v []records.FieldValue) error {
	s.valueBatches = append(s.valueBatches, v)
	if s.failOnBatch > 0 && len(s.valueBatches) == s.failOnBatch {
		return errors.New("simulated insert failure")
	}
	return nil
}

func (s *fakeSession) Commit(ctx context.Context) error {
	s.committed = true
	return nil
}

func (s *fakeSession) Rollback(ctx context.Context) error {
	s.rolledBack = true
	return nil
}

func makeValues(n int) []records.FieldValue {
	out := make([]records.FieldValue, n)
	for i := range out {
		out[i] = records.FieldValue{
			PatientID: fmt.Sprintf("P%d", i%100),
			FieldName: "f",
			RawValue:  fmt.Sprintf("%d", i),
		}
	}
	return out
}

// TestRunBatching: 12000 values with batch size 5000 must submit exactly
// three batches of 5000, 5000 and 2000, in order, then commit.
func TestRunBatching(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	a := &Adapter{Repo: repo, BatchSize: 5000}

	values := makeValues(12000)
	defs := []records.FieldDefinition{{FieldName: "f", DataType: "int"}}

	if err := a.Run(context.Background(), UniquePatients(values), defs, values); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sess := repo.sess
	if got := len(sess.valueBatches); got != 3 {
		t.Fatalf("batches = %d, want 3", got)
	}
	for i, want := range []int{5000, 5000, 2000} {
		if got := len(sess.valueBatches[i]); got != want {
			t.Fatalf("batch %d size = %d, want %d", i, got, want)
		}
	}
	if sess.valueBatches[1][0].RawValue != "5000" {
		t.Fatalf("batch 1 starts with %q, want row 5000", sess.valueBatches[1][0].RawValue)
	}
	if !sess.committed || sess.rolledBack {
		t.Fatalf("committed=%v rolledBack=%v, want true/false", sess.committed, sess.rolledBack)
	}
}

// TestRunBatchFailureRollsBack: any batch failure must abort the whole run
// with Rollback and no Commit.
func TestRunBatchFailureRollsBack(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{sess: &fakeSession{failOnBatch: 2}}
	a := &Adapter{Repo: repo, BatchSize: 10}

	values := makeValues(25)
	defs := []records.FieldDefinition{{FieldName: "f", DataType: "int"}}

	err := a.Run(context.Background(), UniquePatients(values), defs, values)
	if err == nil || !strings.Contains(err.Error(), "simulated insert failure") {
		t.Fatalf("err = %v, want simulated insert failure", err)
	}

	sess := repo.sess
	if sess.committed {
		t.Fatal("commit happened after a failed batch")
	}
	if !sess.rolledBack {
		t.Fatal("rollback did not happen after a failed batch")
	}
}

// TestRunCoverageMismatch: values referencing an undefined field must fail
// before any session is opened.
func TestRunCoverageMismatch(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	a := &Adapter{Repo: repo}

	values := []records.FieldValue{{PatientID: "P1", FieldName: "orphan", RawValue: "1"}}
	err := a.Run(context.Background(), UniquePatients(values), nil, values)
	if err == nil || !strings.Contains(err.Error(), "orphan") {
		t.Fatalf("err = %v, want missing-definition error naming the field", err)
	}
	if repo.sess != nil {
		t.Fatal("a session was opened despite the consistency failure")
	}
}

// TestRunSkipsBlankValues: blank raw values never reach the store.
func TestRunSkipsBlankValues(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	a := &Adapter{Repo: repo, BatchSize: 10}

	values := []records.FieldValue{
		{PatientID: "P1", FieldName: "f", RawValue: "1"},
		{PatientID: "P1", FieldName: "f", RawValue: "   "},
		{PatientID: "P1", FieldName: "f", RawValue: ""},
		{PatientID: "P1", FieldName: "f", RawValue: "2"},
	}
	defs := []records.FieldDefinition{{FieldName: "f", DataType: "int"}}

	if err := a.Run(context.Background(), UniquePatients(values), defs, values); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := len(repo.sess.valueBatches[0]); got != 2 {
		t.Fatalf("stored values = %d, want 2", got)
	}
}

// TestRunCanceledContext: cancellation between batches aborts and rolls
// back.
func TestRunCanceledContext(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	a := &Adapter{Repo: repo, BatchSize: 5}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	values := makeValues(20)
	defs := []records.FieldDefinition{{FieldName: "f", DataType: "int"}}

	err := a.Run(ctx, UniquePatients(values), defs, values)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if repo.sess.committed {
		t.Fatal("commit happened after cancellation")
	}
	if !repo.sess.rolledBack {
		t.Fatal("rollback did not happen after cancellation")
	}
}

// TestUniquePatients preserves first-seen order with no repeats.
func TestUniquePatients(t *testing.T) {
	t.Parallel()

	values := []records.FieldValue{
		{PatientID: "P2"}, {PatientID: "P1"}, {PatientID: "P2"}, {PatientID: "P3"},
	}
	got := UniquePatients(values)
	want := []string{"P2", "P1", "P3"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("patient %d = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

// TestDefinitionsFromValues re-derives definitions with the date-first
// ingestion policy.
func TestDefinitionsFromValues(t *testing.T) {
	t.Parallel()

	values := []records.FieldValue{
		{FieldName: "visit", RawValue: "2020-01-01"},
		{FieldName: "visit", RawValue: "2020-06-01"},
		{FieldName: "age", RawValue: "30"},
		{FieldName: "age", RawValue: "41"},
	}

	defs := DefinitionsFromValues(values, infer.PolicyIngest)
	if len(defs) != 2 {
		t.Fatalf("len(defs) = %d, want 2", len(defs))
	}
	if defs[0].FieldName != "visit" || defs[0].DataType != "date" {
		t.Fatalf("defs[0] = %+v, want visit/date", defs[0])
	}
	if defs[1].FieldName != "age" || defs[1].DataType != "integer" {
		t.Fatalf("defs[1] = %+v, want age/integer", defs[1])
	}
}
