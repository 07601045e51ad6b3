// Package storage defines the backend-agnostic persistence contract for the
// three ingestion record kinds, plus the backend registry.
//
// Backends register themselves from an init() in their own package; callers
// blank-import storage/all (or a specific backend) and construct via New.
package storage

import (
	"context"
	"fmt"
	"sync"

	"cohortetl/pkg/records"
)

// Config is the minimal configuration needed to construct a Repository.
//
// Kind must match a registered backend kind ("postgres", "sqlite",
// "mssql"); DSN is passed through to the backend factory and validated
// backend-side.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the ingestion-facing persistence service.
//
// The interface is intentionally minimal: the adapter needs idempotent table
// setup and a transactional session, nothing else.
type Repository interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// EnsureTables creates the patient, field-definition and field-value
	// tables if they do not exist. Idempotent.
	EnsureTables(ctx context.Context) error

	// Begin opens a session scoped to one transaction. The caller must end
	// it with exactly one Commit or Rollback.
	Begin(ctx context.Context) (Session, error)
}

// Session is one transaction over the three record kinds. All create calls
// are all-or-nothing with respect to Commit: any error must be followed by
// Rollback, and nothing is visible to other sessions until Commit.
type Session interface {
	CreatePatients(ctx context.Context, patients []records.Patient) error
	CreateFieldDefinitions(ctx context.Context, defs []records.FieldDefinition) error
	CreateFieldValues(ctx context.Context, values []records.FieldValue) error

	Commit(ctx context.Context) error

	// Rollback aborts the transaction. Safe to call after a failed Commit or
	// on already-finished sessions (backends ignore the double-end).
	Rollback(ctx context.Context) error
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind string. Call from an init()
// in the backend package.
//
// Panics on empty kind, nil factory, or duplicate registration: ambiguous
// backend selection should fail at startup, not at run time.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
