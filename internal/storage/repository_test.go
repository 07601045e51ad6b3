package storage

import (
	"context"
	"strings"
	"testing"
)

// TestNewUnknownKind verifies the factory rejects empty and unregistered
// backend kinds with a diagnosable error.
func TestNewUnknownKind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, err := New(ctx, Config{}); err == nil || !strings.Contains(err.Error(), "missing Kind") {
		t.Fatalf("New(empty kind) err = %v, want missing Kind", err)
	}
	if _, err := New(ctx, Config{Kind: "no_such_backend"}); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("New(unknown kind) err = %v, want unsupported", err)
	}
}

// TestRegisterDuplicatePanics: duplicate registration must fail fast at
// startup rather than silently shadow a backend.
func TestRegisterDuplicatePanics(t *testing.T) {
	t.Parallel()

	f := func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil }
	Register("dup_test_kind", f)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate Register")
		}
	}()
	Register("dup_test_kind", f)
}

// TestRegisterRejectsBadArgs covers the empty-kind and nil-factory panics.
func TestRegisterRejectsBadArgs(t *testing.T) {
	t.Parallel()

	mustPanic := func(name string, fn func()) {
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}

	mustPanic("empty kind", func() {
		Register("", func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil })
	})
	mustPanic("nil factory", func() { Register("nil_factory_kind", nil) })
}
