package engine

import (
	"testing"

	"github.com/pentzer/perp-microstructure-depth/internal/decode"
	"github.com/pentzer/perp-microstructure-depth/internal/metrics"
	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

var testInst = model.Instrument{Exchange: "binance", Symbol: "BTCUSDT"}

func fp(t *testing.T, s string) int64 {
	t.Helper()
	v, err := model.ParseFixed(s)
	if err != nil {
		t.Fatalf("ParseFixed(%q): %v", s, err)
	}
	return v
}

func newTestMachine(window int) (*Machine, *metrics.Counters) {
	c := &metrics.Counters{}
	m := NewMachine(testInst, MachineConfig{ReorderWindow: window, ReplayBufferSize: 64}, c)
	return m, c
}

func snapEv(t *testing.T, seq int64, bids, asks []model.PriceLevel) decode.Event {
	t.Helper()
	return decode.Event{
		Kind:       decode.KindSnapshot,
		Instrument: testInst,
		Sequence:   seq,
		ExchangeTS: seq * 1_000_000,
		Snapshot: &model.BookSnapshot{
			Instrument: testInst,
			Sequence:   seq,
			ExchangeTS: seq * 1_000_000,
			Bids:       bids,
			Asks:       asks,
		},
	}
}

func deltaEv(seq int64, side model.Side, price, size int64) decode.Event {
	return decode.Event{
		Kind:          decode.KindDelta,
		Instrument:    testInst,
		Sequence:      seq,
		FirstSequence: seq,
		ExchangeTS:    seq * 1_000_000,
		Deltas: []model.DeltaEvent{{
			Instrument: testInst,
			Sequence:   seq,
			Side:       side,
			Price:      price,
			Size:       size,
			ExchangeTS: seq * 1_000_000,
		}},
	}
}

func mustApply(t *testing.T, m *Machine, ev decode.Event) []model.Transition {
	t.Helper()
	trs, gap, err := m.OnEvent(ev)
	if err != nil {
		t.Fatalf("OnEvent(seq=%d): %v", ev.Sequence, err)
	}
	if gap {
		t.Fatalf("OnEvent(seq=%d): unexpected gap", ev.Sequence)
	}
	return trs
}

func TestMachineSnapshotThenRemoval(t *testing.T) {
	m, _ := newTestMachine(4)

	bids := []model.PriceLevel{
		{Price: fp(t, "100.5"), Size: fp(t, "2")},
		{Price: fp(t, "100.0"), Size: fp(t, "5")},
	}
	asks := []model.PriceLevel{{Price: fp(t, "101.0"), Size: fp(t, "3")}}

	trs := mustApply(t, m, snapEv(t, 100, bids, asks))
	if len(trs) != 1 || !trs[0].IsSnapshot {
		t.Fatalf("snapshot transitions = %+v", trs)
	}
	if m.State() != model.Live {
		t.Fatalf("state = %v, want Live", m.State())
	}
	if m.Expected() != 101 {
		t.Fatalf("expected = %d, want 101", m.Expected())
	}

	trs = mustApply(t, m, deltaEv(101, model.Bid, fp(t, "100.5"), 0))
	if len(trs) != 1 || trs[0].Sequence != 101 {
		t.Fatalf("delta transitions = %+v", trs)
	}
	if m.Expected() != 102 {
		t.Fatalf("expected = %d, want 102", m.Expected())
	}

	got := m.Bids().Levels()
	if len(got) != 1 || got[0].Price != fp(t, "100.0") || got[0].Size != fp(t, "5") {
		t.Fatalf("bids after removal = %+v", got)
	}
}

func TestMachineReorderHoldback(t *testing.T) {
	m, _ := newTestMachine(4)
	mustApply(t, m, snapEv(t, 101, nil, nil))

	// 103 arrives first and must not apply yet.
	trs := mustApply(t, m, deltaEv(103, model.Ask, fp(t, "101.5"), fp(t, "1")))
	if len(trs) != 0 {
		t.Fatalf("out-of-order delta applied early: %+v", trs)
	}
	if m.Expected() != 102 {
		t.Fatalf("expected = %d, want 102", m.Expected())
	}

	// 102 unblocks both, in order.
	trs = mustApply(t, m, deltaEv(102, model.Bid, fp(t, "100.0"), fp(t, "4")))
	if len(trs) != 2 {
		t.Fatalf("transitions = %+v, want 2", trs)
	}
	if trs[0].Sequence != 102 || trs[1].Sequence != 103 {
		t.Fatalf("order = %d, %d", trs[0].Sequence, trs[1].Sequence)
	}
	if m.Expected() != 104 {
		t.Fatalf("expected = %d, want 104", m.Expected())
	}
}

func TestMachinePreSnapshotDeltaDropped(t *testing.T) {
	m, c := newTestMachine(4)

	trs := mustApply(t, m, deltaEv(50, model.Bid, fp(t, "99.0"), fp(t, "1")))
	if len(trs) != 0 {
		t.Fatalf("delta before snapshot applied: %+v", trs)
	}
	if m.State() != model.AwaitingSnapshot {
		t.Fatalf("state = %v, want AwaitingSnapshot", m.State())
	}
	if got := c.Snapshot().PreSnapshotDrops; got != 1 {
		t.Fatalf("pre-snapshot drops = %d, want 1", got)
	}

	// The dropped delta must not replay after the snapshot.
	trs = mustApply(t, m, snapEv(t, 100, nil, nil))
	if len(trs) != 1 {
		t.Fatalf("post-snapshot transitions = %+v, want snapshot only", trs)
	}
}

func TestMachineStaleDeltaDropped(t *testing.T) {
	m, c := newTestMachine(4)
	mustApply(t, m, snapEv(t, 100, nil, nil))
	mustApply(t, m, deltaEv(101, model.Bid, fp(t, "100.0"), fp(t, "1")))

	// Redelivery of 101 is dropped, not reapplied.
	trs := mustApply(t, m, deltaEv(101, model.Bid, fp(t, "100.0"), fp(t, "9")))
	if len(trs) != 0 {
		t.Fatalf("stale delta applied: %+v", trs)
	}
	if got := c.Snapshot().StaleDrops; got != 1 {
		t.Fatalf("stale drops = %d, want 1", got)
	}
	if got := m.Bids().Levels(); got[0].Size != fp(t, "1") {
		t.Fatalf("bid size = %d, want unchanged", got[0].Size)
	}
}

func TestMachineGapDetectionAndResync(t *testing.T) {
	m, c := newTestMachine(2)
	mustApply(t, m, snapEv(t, 100, nil, nil))

	// Expected is 101; three ahead-of-sequence events exceed the window.
	mustApply(t, m, deltaEv(105, model.Ask, fp(t, "101.0"), fp(t, "1")))
	mustApply(t, m, deltaEv(106, model.Ask, fp(t, "101.5"), fp(t, "1")))
	trs, gap, err := m.OnEvent(deltaEv(107, model.Ask, fp(t, "102.0"), fp(t, "1")))
	if err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	if !gap {
		t.Fatal("gap not declared on window overflow")
	}
	if len(trs) != 0 {
		t.Fatalf("transitions during gap = %+v", trs)
	}
	if m.State() != model.GapDetected {
		t.Fatalf("state = %v, want GapDetected", m.State())
	}
	if got := c.Snapshot().GapsDetected; got != 1 {
		t.Fatalf("gaps detected = %d, want 1", got)
	}

	m.BeginResync()
	if m.State() != model.Resyncing {
		t.Fatalf("state = %v, want Resyncing", m.State())
	}

	// More deltas during the resync buffer up.
	mustApply(t, m, deltaEv(108, model.Ask, fp(t, "102.5"), fp(t, "1")))

	// The fresh snapshot covers 105 and 106; 107 and 108 replay.
	trs = mustApply(t, m, snapEv(t, 106, nil, []model.PriceLevel{
		{Price: fp(t, "101.0"), Size: fp(t, "1")},
		{Price: fp(t, "101.5"), Size: fp(t, "1")},
	}))
	if len(trs) != 3 {
		t.Fatalf("transitions = %+v, want snapshot + 2 replayed", trs)
	}
	if !trs[0].IsSnapshot || trs[1].Sequence != 107 || trs[2].Sequence != 108 {
		t.Fatalf("replay order wrong: %+v", trs)
	}
	if m.State() != model.Live {
		t.Fatalf("state = %v, want Live", m.State())
	}
	if m.Expected() != 109 {
		t.Fatalf("expected = %d, want 109", m.Expected())
	}
	if got := m.Asks().Levels(); len(got) != 4 {
		t.Fatalf("asks after replay = %+v, want 4 levels", got)
	}
}

func TestMachineSnapshotWhileLiveIsAuthoritative(t *testing.T) {
	m, _ := newTestMachine(4)
	mustApply(t, m, snapEv(t, 100, []model.PriceLevel{{Price: fp(t, "100.0"), Size: fp(t, "1")}}, nil))
	mustApply(t, m, deltaEv(101, model.Bid, fp(t, "99.5"), fp(t, "2")))

	// A later snapshot replaces the book wholesale.
	trs := mustApply(t, m, snapEv(t, 110, []model.PriceLevel{{Price: fp(t, "98.0"), Size: fp(t, "7")}}, nil))
	if len(trs) != 1 || !trs[0].IsSnapshot {
		t.Fatalf("transitions = %+v", trs)
	}
	if m.Expected() != 111 {
		t.Fatalf("expected = %d, want 111", m.Expected())
	}
	got := m.Bids().Levels()
	if len(got) != 1 || got[0].Price != fp(t, "98.0") {
		t.Fatalf("bids = %+v, want snapshot contents only", got)
	}
}

func TestMachineStaleSnapshotIgnored(t *testing.T) {
	m, c := newTestMachine(4)
	mustApply(t, m, snapEv(t, 100, nil, nil))
	mustApply(t, m, deltaEv(101, model.Bid, fp(t, "100.0"), fp(t, "1")))

	// A snapshot behind the live sequence must not rewind the book.
	trs := mustApply(t, m, snapEv(t, 95, nil, nil))
	if len(trs) != 0 {
		t.Fatalf("stale snapshot emitted: %+v", trs)
	}
	if m.Expected() != 102 {
		t.Fatalf("expected = %d, want 102", m.Expected())
	}
	if got := c.Snapshot().StaleDrops; got != 1 {
		t.Fatalf("stale drops = %d, want 1", got)
	}
	if got := m.Bids().Levels(); len(got) != 1 {
		t.Fatalf("bids = %+v, want live book intact", got)
	}
}

func TestMachineRepeatedSnapshotNotReEmitted(t *testing.T) {
	m, c := newTestMachine(4)
	mustApply(t, m, snapEv(t, 100, nil, nil))
	mustApply(t, m, deltaEv(101, model.Bid, fp(t, "100.0"), fp(t, "1")))

	// A snapshot at the last applied sequence would duplicate an
	// already-published sequence; only an advancing snapshot applies.
	trs := mustApply(t, m, snapEv(t, 101, nil, nil))
	if len(trs) != 0 {
		t.Fatalf("repeated sequence emitted: %+v", trs)
	}
	if m.Expected() != 102 {
		t.Fatalf("expected = %d, want 102", m.Expected())
	}
	if got := c.Snapshot().StaleDrops; got != 1 {
		t.Fatalf("stale drops = %d, want 1", got)
	}

	// The next sequence is still the minimum that advances the book.
	trs = mustApply(t, m, snapEv(t, 102, nil, nil))
	if len(trs) != 1 {
		t.Fatalf("advancing snapshot dropped: %+v", trs)
	}
	if m.Expected() != 103 {
		t.Fatalf("expected = %d, want 103", m.Expected())
	}
}

func TestMachineRangeCoverage(t *testing.T) {
	m, _ := newTestMachine(4)
	mustApply(t, m, snapEv(t, 100, nil, nil))

	// An update range overlapping the snapshot applies when it spans
	// the expected sequence.
	ev := deltaEv(103, model.Bid, fp(t, "100.0"), fp(t, "2"))
	ev.FirstSequence = 99
	trs := mustApply(t, m, ev)
	if len(trs) != 1 {
		t.Fatalf("transitions = %+v", trs)
	}
	if m.Expected() != 104 {
		t.Fatalf("expected = %d, want 104", m.Expected())
	}
}

func TestMachineMultiLevelAtomic(t *testing.T) {
	m, _ := newTestMachine(4)
	mustApply(t, m, snapEv(t, 100, nil, nil))

	ev := decode.Event{
		Kind:          decode.KindDelta,
		Instrument:    testInst,
		Sequence:      101,
		FirstSequence: 101,
		Deltas: []model.DeltaEvent{
			{Instrument: testInst, Sequence: 101, Side: model.Bid, Price: fp(t, "100.0"), Size: fp(t, "1")},
			{Instrument: testInst, Sequence: 101, Side: model.Ask, Price: fp(t, "101.0"), Size: fp(t, "2")},
		},
	}
	trs := mustApply(t, m, ev)
	if len(trs) != 1 || len(trs[0].Deltas) != 2 {
		t.Fatalf("transitions = %+v, want one with both deltas", trs)
	}
	if len(m.Bids().Levels()) != 1 || len(m.Asks().Levels()) != 1 {
		t.Fatal("both sides not updated")
	}
}

func TestMachineDownAndRestart(t *testing.T) {
	m, _ := newTestMachine(4)
	mustApply(t, m, snapEv(t, 100, nil, nil))
	m.MarkDown()

	if trs := mustApply(t, m, deltaEv(101, model.Bid, fp(t, "100.0"), fp(t, "1"))); len(trs) != 0 {
		t.Fatalf("delta while Down emitted: %+v", trs)
	}
	if trs := mustApply(t, m, snapEv(t, 200, nil, nil)); len(trs) != 0 {
		t.Fatalf("snapshot while Down emitted: %+v", trs)
	}

	m.Restart()
	if m.State() != model.AwaitingSnapshot {
		t.Fatalf("state = %v, want AwaitingSnapshot", m.State())
	}
	if m.Expected() != 0 {
		t.Fatalf("expected = %d, want 0", m.Expected())
	}
	trs := mustApply(t, m, snapEv(t, 300, nil, nil))
	if len(trs) != 1 || m.State() != model.Live {
		t.Fatalf("restart recovery failed: trs=%+v state=%v", trs, m.State())
	}
}

func TestMachineMalformedSnapshotLeavesBook(t *testing.T) {
	m, _ := newTestMachine(4)
	mustApply(t, m, snapEv(t, 100, []model.PriceLevel{{Price: fp(t, "100.0"), Size: fp(t, "1")}}, nil))

	// Unsorted bids are rejected without touching the live ladders.
	bad := snapEv(t, 110, []model.PriceLevel{
		{Price: fp(t, "99.0"), Size: fp(t, "1")},
		{Price: fp(t, "100.0"), Size: fp(t, "1")},
	}, nil)
	if _, _, err := m.OnEvent(bad); err == nil {
		t.Fatal("malformed snapshot accepted")
	}
	if m.Expected() != 101 {
		t.Fatalf("expected = %d, want 101", m.Expected())
	}
	if got := m.Bids().Levels(); len(got) != 1 || got[0].Price != fp(t, "100.0") {
		t.Fatalf("bids = %+v, want untouched", got)
	}
}

func TestMachineReplayOverflowCounted(t *testing.T) {
	m, c := newTestMachine(0)
	mustApply(t, m, snapEv(t, 100, nil, nil))

	// Window of zero: the first ahead-of-sequence event is a gap.
	_, gap, _ := m.OnEvent(deltaEv(105, model.Ask, fp(t, "101.0"), fp(t, "1")))
	if !gap {
		t.Fatal("gap not declared")
	}

	small := NewMachine(testInst, MachineConfig{ReorderWindow: 0, ReplayBufferSize: 2}, c)
	mustApply(t, small, snapEv(t, 100, nil, nil))
	small.OnEvent(deltaEv(110, model.Ask, fp(t, "101.0"), fp(t, "1")))
	small.BeginResync()
	for seq := int64(111); seq <= 114; seq++ {
		mustApply(t, small, deltaEv(seq, model.Ask, fp(t, "101.0"), fp(t, "1")))
	}
	if got := c.Snapshot().BufferOverflows; got == 0 {
		t.Fatal("replay overflow not counted")
	}
}
