package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pentzer/perp-microstructure-depth/internal/decode"
	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// mockSource serves canned snapshots keyed by instrument.
type mockSource struct {
	mu        sync.Mutex
	inFlight  int32
	maxSeen   int32
	delay     time.Duration
	failFor   map[model.Instrument]bool
	fetchedBy map[model.Instrument]int
}

func newMockSource() *mockSource {
	return &mockSource{
		failFor:   make(map[model.Instrument]bool),
		fetchedBy: make(map[model.Instrument]int),
	}
}

func (m *mockSource) Snapshot(ctx context.Context, inst model.Instrument) (*model.BookSnapshot, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxSeen {
		m.maxSeen = m.inFlight
	}
	m.fetchedBy[inst]++
	fail := m.failFor[inst]
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()

	if fail {
		return nil, errors.New("venue unavailable")
	}
	return &model.BookSnapshot{
		Instrument: inst,
		Sequence:   1000,
		Bids:       []model.PriceLevel{{Price: 100_00000000, Size: 1_00000000}},
		Asks:       []model.PriceLevel{{Price: 101_00000000, Size: 1_00000000}},
	}, nil
}

func testInstruments(n int) []model.Instrument {
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT",
		"ADAUSDT", "LINKUSDT", "AVAXUSDT", "DOTUSDT", "LTCUSDT"}
	out := make([]model.Instrument, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Instrument{Exchange: "binance", Symbol: symbols[i%len(symbols)]})
	}
	return out
}

func TestPollerPollAll(t *testing.T) {
	source := newMockSource()
	insts := testInstruments(3)

	var injected atomic.Int32
	injector := InjectorFunc(func(ev decode.Event) {
		if ev.Kind != decode.KindSnapshot {
			t.Errorf("Kind = %d, want KindSnapshot", ev.Kind)
		}
		if ev.Snapshot == nil || ev.Snapshot.Sequence != 1000 {
			t.Error("injected event missing snapshot")
		}
		injected.Add(1)
	})

	p := New(Config{Interval: time.Hour, Concurrency: 10, Timeout: time.Second}, source, injector, insts, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.ctx = ctx

	p.pollAll()

	if got := injected.Load(); got != 3 {
		t.Errorf("injected = %d, want 3", got)
	}
}

func TestPollerFailuresDoNotBlockOthers(t *testing.T) {
	source := newMockSource()
	insts := testInstruments(3)
	source.failFor[insts[1]] = true

	var injected atomic.Int32
	injector := InjectorFunc(func(ev decode.Event) { injected.Add(1) })

	p := New(Config{Interval: time.Hour, Concurrency: 10, Timeout: time.Second}, source, injector, insts, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.ctx = ctx

	p.pollAll()

	if got := injected.Load(); got != 2 {
		t.Errorf("injected = %d, want 2", got)
	}
}

func TestPollerStartStop(t *testing.T) {
	source := newMockSource()
	insts := testInstruments(1)

	var injected atomic.Int32
	injector := InjectorFunc(func(ev decode.Event) { injected.Add(1) })

	p := New(Config{Interval: 50 * time.Millisecond, Concurrency: 2, Timeout: time.Second}, source, injector, insts, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for at least one tick.
	time.Sleep(120 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if injected.Load() == 0 {
		t.Error("no snapshots injected after interval elapsed")
	}
}

func TestPollerConcurrencyBound(t *testing.T) {
	source := newMockSource()
	source.delay = 30 * time.Millisecond
	insts := testInstruments(10)

	injector := InjectorFunc(func(ev decode.Event) {})

	p := New(Config{Interval: time.Hour, Concurrency: 3, Timeout: time.Second}, source, injector, insts, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.ctx = ctx

	p.pollAll()

	if source.maxSeen > 3 {
		t.Errorf("max concurrent fetches = %d, want <= 3", source.maxSeen)
	}
}
