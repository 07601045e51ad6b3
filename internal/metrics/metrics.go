// Package metrics defines the minimal metrics seam used by the pipeline
// stages. The default backend is a nop, so core code can record metrics
// unconditionally; binaries swap in a real backend at startup.
package metrics

import "sync/atomic"

// Backend is the sink interface. Implementations must be safe for
// concurrent use.
type Backend interface {
	// IncCounter adds delta to a named counter.
	IncCounter(name string, delta float64)

	// ObserveDuration records one duration sample, in seconds.
	ObserveDuration(name string, seconds float64)

	// Flush submits anything buffered. Called at least once at shutdown.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64)      {}
func (nopBackend) ObserveDuration(string, float64) {}
func (nopBackend) Flush() error                    { return nil }

var backend atomic.Value // Backend

func init() {
	backend.Store(Backend(nopBackend{}))
}

// SetBackend replaces the process-wide backend. Call once at startup before
// the pipeline runs.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	backend.Store(b)
}

func current() Backend { return backend.Load().(Backend) }

// IncCounter adds delta to a named counter on the active backend.
func IncCounter(name string, delta float64) { current().IncCounter(name, delta) }

// ObserveDuration records one duration sample, in seconds.
func ObserveDuration(name string, seconds float64) { current().ObserveDuration(name, seconds) }

// Flush submits anything buffered on the active backend.
func Flush() error { return current().Flush() }
