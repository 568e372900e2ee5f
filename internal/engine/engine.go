package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pentzer/perp-microstructure-depth/internal/decode"
	"github.com/pentzer/perp-microstructure-depth/internal/metrics"
	"github.com/pentzer/perp-microstructure-depth/internal/model"
	"github.com/pentzer/perp-microstructure-depth/internal/normalize"
)

// Config carries per-instrument tuning shared by all workers.
type Config struct {
	Machine           MachineConfig
	InboxSize         int
	MaxResyncAttempts int
	ResyncBaseDelay   time.Duration
	ResyncMaxDelay    time.Duration
	EmitMode          normalize.Mode
	Depth             int
}

type engineDeps struct {
	provider SnapshotProvider
	emitter  Emitter
	top      TopEmitter
	registry *metrics.Registry
	logger   *slog.Logger
}

// Engine owns one worker per tracked instrument and routes decoded
// events to them.
type Engine struct {
	cfg      Config
	decoders *decode.Registry
	deps     engineDeps

	mu      sync.Mutex
	workers map[model.Instrument]*worker
	cancel  context.CancelFunc
	started bool
}

// New creates an engine. top may be nil to disable top-of-book output.
func New(cfg Config, decoders *decode.Registry, provider SnapshotProvider, emitter Emitter, top TopEmitter, registry *metrics.Registry, logger *slog.Logger) *Engine {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1
	}
	if cfg.MaxResyncAttempts <= 0 {
		cfg.MaxResyncAttempts = 1
	}
	if cfg.ResyncBaseDelay <= 0 {
		cfg.ResyncBaseDelay = 250 * time.Millisecond
	}
	if cfg.ResyncMaxDelay < cfg.ResyncBaseDelay {
		cfg.ResyncMaxDelay = cfg.ResyncBaseDelay
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		decoders: decoders,
		deps: engineDeps{
			provider: provider,
			emitter:  emitter,
			top:      top,
			registry: registry,
			logger:   logger.With("component", "engine"),
		},
		workers: make(map[model.Instrument]*worker),
	}
}

// Track registers an instrument. Must be called before Start; events
// for untracked instruments are ignored.
func (e *Engine) Track(inst model.Instrument) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}
	if _, ok := e.workers[inst]; ok {
		return fmt.Errorf("instrument %s already tracked", inst)
	}
	e.workers[inst] = newWorker(inst, e.cfg, e.deps)
	return nil
}

// Start launches one worker goroutine per tracked instrument.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}
	if len(e.workers) == 0 {
		return errors.New("no instruments tracked")
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	for _, w := range e.workers {
		go w.run(runCtx)
	}
	e.started = true
	e.deps.logger.Info("engine started", "instruments", len(e.workers))
	return nil
}

// Stop cancels all workers and waits for them to exit, bounded by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.cancel()
	workers := make([]*worker, 0, len(e.workers))
	for _, w := range e.workers {
		workers = append(workers, w)
	}
	e.started = false
	e.mu.Unlock()

	for _, w := range workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.deps.logger.Info("engine stopped")
	return nil
}

// Dispatch decodes a raw feed payload and routes the event to its
// worker. Control frames are silently skipped; malformed payloads are
// counted against the exchange and dropped.
func (e *Engine) Dispatch(raw decode.RawPayload) {
	dec, ok := e.decoders.Lookup(raw.Exchange)
	if !ok {
		return
	}
	ev, err := dec.Decode(raw)
	if err != nil {
		if errors.Is(err, decode.ErrSkip) {
			return
		}
		e.deps.registry.For(raw.Exchange).DecodeFailure()
		e.deps.logger.Debug("decode failed", "exchange", raw.Exchange, "error", err)
		return
	}
	e.Inject(ev)
}

// Inject routes an already-decoded event, bypassing the decoders. Used
// by the snapshot poller and by Dispatch.
func (e *Engine) Inject(ev decode.Event) {
	e.mu.Lock()
	w, ok := e.workers[ev.Instrument]
	e.mu.Unlock()
	if !ok {
		return
	}
	w.offer(ev)
}

// Restart requests recovery of a Down instrument. The worker ignores
// the request if the instrument is not Down.
func (e *Engine) Restart(inst model.Instrument) error {
	e.mu.Lock()
	w, ok := e.workers[inst]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("instrument %s not tracked", inst)
	}
	select {
	case w.restarts <- struct{}{}:
	default:
	}
	return nil
}

// States reports the current sync state per instrument key. Values may
// lag an in-flight event by one update.
func (e *Engine) States() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.workers))
	for inst, w := range e.workers {
		out[inst.String()] = model.SyncState(w.state.Load()).String()
	}
	return out
}
