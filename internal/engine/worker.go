package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pentzer/perp-microstructure-depth/internal/decode"
	"github.com/pentzer/perp-microstructure-depth/internal/metrics"
	"github.com/pentzer/perp-microstructure-depth/internal/model"
	"github.com/pentzer/perp-microstructure-depth/internal/normalize"
)

// SnapshotProvider fetches an authoritative book snapshot, typically
// over REST, for resync and initial sync.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, inst model.Instrument) (*model.BookSnapshot, error)
}

// Emitter consumes normalized records in sequence order.
type Emitter interface {
	Emit(ctx context.Context, rec model.NormalizedRecord) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, rec model.NormalizedRecord) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, rec model.NormalizedRecord) error {
	return f(ctx, rec)
}

// TopEmitter receives derived top-of-book updates. Optional.
type TopEmitter interface {
	EmitTop(ctx context.Context, tob model.TopOfBook) error
}

type snapshotResult struct {
	snap *model.BookSnapshot
	err  error
}

// worker drives one instrument's machine from a single goroutine. All
// machine access happens on this goroutine; the inbox is the only way
// in.
type worker struct {
	inst     model.Instrument
	machine  *Machine
	renderer *normalize.Renderer
	provider SnapshotProvider
	emitter  Emitter
	top      TopEmitter
	counters *metrics.Counters
	logger   *slog.Logger
	cfg      Config

	inbox     chan decode.Event
	snapshots chan snapshotResult
	restarts  chan struct{}
	done      chan struct{}

	// Mirror of the machine state, readable off the worker goroutine.
	state atomic.Int32

	fetching bool
	corrupt  bool
}

func newWorker(inst model.Instrument, cfg Config, deps engineDeps) *worker {
	counters := deps.registry.For(inst.String())
	w := &worker{
		inst:      inst,
		machine:   NewMachine(inst, cfg.Machine, counters),
		renderer:  normalize.NewRenderer(cfg.EmitMode, cfg.Depth),
		provider:  deps.provider,
		emitter:   deps.emitter,
		top:       deps.top,
		counters:  counters,
		logger:    deps.logger.With("instrument", inst.String()),
		cfg:       cfg,
		inbox:     make(chan decode.Event, cfg.InboxSize),
		snapshots: make(chan snapshotResult, 1),
		restarts:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	return w
}

// run is the worker loop. It owns the machine until ctx is canceled.
func (w *worker) run(ctx context.Context) {
	defer close(w.done)

	w.machine.SetTransitionHook(func(tr model.Transition) {
		w.publish(ctx, tr)
	})

	w.logger.Info("worker started", "state", w.machine.State().String())
	w.requestSnapshot(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.inbox:
			w.handleEvent(ctx, ev)
		case res := <-w.snapshots:
			w.handleSnapshotResult(ctx, res)
		case <-w.restarts:
			w.handleRestart(ctx)
		}
		w.state.Store(int32(w.machine.State()))
	}
}

// offer hands an event to the worker without blocking the feed reader.
// A full inbox drops the event; the resulting sequence hole surfaces as
// a gap and resync.
func (w *worker) offer(ev decode.Event) {
	select {
	case w.inbox <- ev:
	default:
		w.counters.BufferOverflow()
	}
}

func (w *worker) handleEvent(ctx context.Context, ev decode.Event) {
	w.corrupt = false
	_, gap, err := w.machine.OnEvent(ev)
	if err != nil {
		w.counters.DecodeFailure()
		w.logger.Warn("event rejected", "seq", ev.Sequence, "error", err)
	}
	w.afterMachine(ctx, gap)
}

func (w *worker) handleRestart(ctx context.Context) {
	if w.machine.State() != model.Down {
		return
	}
	w.logger.Info("restarting instrument")
	w.machine.Restart()
	w.requestSnapshot(ctx)
}

// afterMachine applies the post-event policy: a crossed book marks the
// instrument Down, a detected gap kicks off the snapshot fetch.
func (w *worker) afterMachine(ctx context.Context, gap bool) {
	if w.corrupt {
		w.logger.Error("book invariant violated, marking instrument down")
		w.machine.MarkDown()
		return
	}
	if gap {
		w.logger.Warn("sequence gap detected", "expected", w.machine.Expected())
		w.machine.BeginResync()
		w.requestSnapshot(ctx)
	}
}

// publish renders and emits one transition. Runs inside the machine's
// transition hook, so the ladders are exactly as of this sequence.
func (w *worker) publish(ctx context.Context, tr model.Transition) {
	rec, err := w.renderer.Render(tr, w.machine.Bids(), w.machine.Asks())
	if err != nil {
		if errors.Is(err, normalize.ErrCrossedBook) || errors.Is(err, normalize.ErrInvalidLadder) {
			w.corrupt = true
		} else {
			w.logger.Warn("render failed", "seq", tr.Sequence, "error", err)
		}
		return
	}

	if err := w.emitter.Emit(ctx, rec); err != nil {
		w.logger.Warn("emit failed", "seq", tr.Sequence, "error", err)
		return
	}
	w.counters.RecordEmitted()

	if w.top != nil {
		if tob, ok := normalize.TopOfBook(tr, w.machine.Bids(), w.machine.Asks()); ok {
			if err := w.top.EmitTop(ctx, tob); err != nil {
				w.logger.Warn("top-of-book emit failed", "seq", tr.Sequence, "error", err)
			}
		}
	}
}

// requestSnapshot launches the bounded-backoff fetch goroutine. At most
// one fetch is in flight per worker.
func (w *worker) requestSnapshot(ctx context.Context) {
	if w.fetching || w.provider == nil {
		return
	}
	w.fetching = true
	go w.fetchSnapshot(ctx)
}

func (w *worker) fetchSnapshot(ctx context.Context) {
	var lastErr error
	backoff := w.cfg.ResyncBaseDelay

	for attempt := 1; attempt <= w.cfg.MaxResyncAttempts; attempt++ {
		if attempt > 1 {
			// Jitter: backoff * (0.5 to 1.5), capped.
			jitter := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter):
			}
			backoff *= 2
			if backoff > w.cfg.ResyncMaxDelay {
				backoff = w.cfg.ResyncMaxDelay
			}
		}

		w.counters.ResyncAttempt()
		snap, err := w.provider.Snapshot(ctx, w.inst)
		if err == nil {
			w.deliver(ctx, snapshotResult{snap: snap})
			return
		}
		lastErr = err
		w.logger.Warn("snapshot fetch failed", "attempt", attempt, "error", err)
	}

	w.deliver(ctx, snapshotResult{err: lastErr})
}

func (w *worker) deliver(ctx context.Context, res snapshotResult) {
	select {
	case w.snapshots <- res:
	case <-ctx.Done():
	}
}

func (w *worker) handleSnapshotResult(ctx context.Context, res snapshotResult) {
	w.fetching = false

	if res.err != nil {
		w.counters.ResyncFailure()
		w.logger.Error("resync exhausted, marking instrument down", "error", res.err)
		w.machine.MarkDown()
		return
	}

	w.corrupt = false
	ev := decode.Event{
		Kind:       decode.KindSnapshot,
		Instrument: w.inst,
		Sequence:   res.snap.Sequence,
		ExchangeTS: res.snap.ExchangeTS,
		ReceivedAt: time.Now(),
		Snapshot:   res.snap,
	}
	_, gap, err := w.machine.OnEvent(ev)
	if err != nil {
		w.counters.ResyncFailure()
		w.logger.Error("fetched snapshot rejected, marking instrument down", "error", err)
		w.machine.MarkDown()
		return
	}
	w.counters.ResyncSuccess()
	w.logger.Info("snapshot applied", "seq", res.snap.Sequence, "state", w.machine.State().String())
	w.afterMachine(ctx, gap)
}
