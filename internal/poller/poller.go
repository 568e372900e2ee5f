package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pentzer/perp-microstructure-depth/internal/decode"
	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// SnapshotSource fetches a full depth snapshot for one instrument.
type SnapshotSource interface {
	Snapshot(ctx context.Context, inst model.Instrument) (*model.BookSnapshot, error)
}

// Injector receives poll results as snapshot events.
type Injector interface {
	Inject(ev decode.Event)
}

// InjectorFunc is a function adapter for Injector.
type InjectorFunc func(decode.Event)

func (f InjectorFunc) Inject(ev decode.Event) { f(ev) }

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 5m)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Poller periodically fetches REST depth snapshots for every tracked
// instrument and injects them as authoritative baselines. Stream-driven
// resync handles gaps; this is the slow heartbeat that bounds drift
// when the stream silently degrades.
type Poller struct {
	cfg         Config
	source      SnapshotSource
	injector    Injector
	instruments []model.Instrument
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller over a fixed instrument set.
func New(cfg Config, source SnapshotSource, injector Injector, instruments []model.Instrument, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:         cfg,
		source:      source,
		injector:    injector,
		instruments: instruments,
		logger:      logger.With("component", "poller"),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
		"instruments", len(p.instruments),
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop. The first cycle waits a full interval
// so startup resync owns the initial snapshots.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll fetches snapshots for all instruments with bounded concurrency.
func (p *Poller) pollAll() {
	start := time.Now()

	var fetched, failed atomic.Int64
	g, ctx := errgroup.WithContext(p.ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, inst := range p.instruments {
		inst := inst
		g.Go(func() error {
			if err := p.pollInstrument(ctx, inst); err != nil {
				p.logger.Warn("snapshot poll failed",
					"instrument", inst.String(),
					"err", err,
				)
				failed.Add(1)
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}

	g.Wait()

	p.logger.Info("poll cycle complete",
		"instruments", len(p.instruments),
		"fetched", fetched.Load(),
		"failed", failed.Load(),
		"duration", time.Since(start),
	)
}

// pollInstrument fetches one snapshot and injects it.
func (p *Poller) pollInstrument(ctx context.Context, inst model.Instrument) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	snap, err := p.source.Snapshot(ctx, inst)
	if err != nil {
		return err
	}

	p.injector.Inject(decode.Event{
		Kind:       decode.KindSnapshot,
		Instrument: inst,
		Sequence:   snap.Sequence,
		ExchangeTS: snap.ExchangeTS,
		ReceivedAt: time.Now(),
		Snapshot:   snap,
	})
	return nil
}
