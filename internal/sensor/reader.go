package sensor

import "context"

// Reader performs one full measurement cycle for a sensor and returns its
// fields. Implementations own their own trigger/settle/collect sequencing
// internally — the Poller only ever sees "read, with a deadline".
type Reader interface {
	Read(ctx context.Context) (map[string]float64, error)
}

// ReaderFunc adapts a plain function to Reader, convenient for tests and
// for simple register-mapped sensors that need no multi-step sequencing.
type ReaderFunc func(ctx context.Context) (map[string]float64, error)

func (f ReaderFunc) Read(ctx context.Context) (map[string]float64, error) { return f(ctx) }
