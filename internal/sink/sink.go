package sink

import (
	"context"

	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// Sink is one record output. Enqueue must be cheap and non-blocking;
// delivery happens on the sink's own goroutines.
type Sink interface {
	// Name identifies the sink in logs and stats.
	Name() string

	// Start launches the writer goroutines.
	Start(ctx context.Context) error

	// Enqueue hands over one record. Returns false when the record was
	// dropped because the sink's buffer is full or closed.
	Enqueue(rec model.NormalizedRecord) bool

	// Stop flushes what it can and shuts down, bounded by ctx.
	Stop(ctx context.Context) error
}

// Multi fans records out to every sink. It satisfies the engine's
// emitter contract; a full sink drops for itself without failing the
// others.
type Multi struct {
	sinks []Sink
}

// NewMulti creates a fan-out over the given sinks.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Emit enqueues the record on every sink.
func (m *Multi) Emit(_ context.Context, rec model.NormalizedRecord) error {
	for _, s := range m.sinks {
		s.Enqueue(rec)
	}
	return nil
}

// Start starts all sinks, stopping the already-started ones on failure.
func (m *Multi) Start(ctx context.Context) error {
	for i, s := range m.sinks {
		if err := s.Start(ctx); err != nil {
			for _, started := range m.sinks[:i] {
				started.Stop(ctx)
			}
			return err
		}
	}
	return nil
}

// Stop stops all sinks, returning the first error.
func (m *Multi) Stop(ctx context.Context) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
