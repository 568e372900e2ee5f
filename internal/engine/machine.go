package engine

import (
	"fmt"
	"sort"

	"github.com/pentzer/perp-microstructure-depth/internal/book"
	"github.com/pentzer/perp-microstructure-depth/internal/decode"
	"github.com/pentzer/perp-microstructure-depth/internal/metrics"
	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// MachineConfig bounds the machine's buffering.
type MachineConfig struct {
	// ReorderWindow is how many ahead-of-sequence events may be held
	// back before a hole is treated as a real gap. Transports reorder
	// adjacent frames far more often than they lose them; a small
	// window absorbs that without declaring a gap.
	ReorderWindow int

	// ReplayBufferSize bounds the events buffered during a resync.
	// Overflow drops the oldest buffered event and counts it.
	ReplayBufferSize int
}

// Machine is the per-instrument sequence validator and book state
// machine. It owns both ladders exclusively and is driven from a single
// worker goroutine; it is not safe for concurrent use.
type Machine struct {
	inst     model.Instrument
	bids     *book.Ladder
	asks     *book.Ladder
	state    model.SyncState
	expected int64

	// Out-of-order holdback while Live, keyed by final sequence.
	pending       map[int64]decode.Event
	reorderWindow int

	// Deltas buffered while a resync is in flight.
	replay *replayRing

	counters       *metrics.Counters
	lastSnapshotTS int64

	// Invoked synchronously after each applied transition, while the
	// ladders still hold exactly that transition's state.
	onApply func(model.Transition)
}

// NewMachine creates a machine in AwaitingSnapshot.
func NewMachine(inst model.Instrument, cfg MachineConfig, counters *metrics.Counters) *Machine {
	if cfg.ReorderWindow < 0 {
		cfg.ReorderWindow = 0
	}
	if counters == nil {
		counters = &metrics.Counters{}
	}
	return &Machine{
		inst:          inst,
		bids:          book.NewLadder(model.Bid),
		asks:          book.NewLadder(model.Ask),
		state:         model.AwaitingSnapshot,
		pending:       make(map[int64]decode.Event),
		reorderWindow: cfg.ReorderWindow,
		replay:        newReplayRing(cfg.ReplayBufferSize),
		counters:      counters,
	}
}

// SetTransitionHook registers fn to run after every applied transition.
// Rendering inside the hook sees the book exactly as of that sequence,
// which matters when one inbound event unblocks several held-back ones.
func (m *Machine) SetTransitionHook(fn func(model.Transition)) {
	m.onApply = fn
}

// Instrument returns the identity key.
func (m *Machine) Instrument() model.Instrument { return m.inst }

// State returns the current sync state.
func (m *Machine) State() model.SyncState { return m.state }

// Expected returns the next sequence number the machine will accept.
func (m *Machine) Expected() int64 { return m.expected }

// Bids returns the live bid ladder. Callers must not retain it past the
// worker's processing of the current event.
func (m *Machine) Bids() *book.Ladder { return m.bids }

// Asks returns the live ask ladder.
func (m *Machine) Asks() *book.Ladder { return m.asks }

// OnEvent feeds one normalized event through the state machine. It
// returns the resulting validated transitions in application order, a
// flag indicating a freshly detected gap (the caller must start a
// resync), and an error only for malformed snapshots, which leave the
// book untouched.
func (m *Machine) OnEvent(ev decode.Event) ([]model.Transition, bool, error) {
	switch ev.Kind {
	case decode.KindSnapshot:
		return m.onSnapshot(ev)
	case decode.KindDelta:
		trs, gap := m.onDelta(ev)
		return trs, gap, nil
	default:
		return nil, false, fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

// BeginResync moves GapDetected to Resyncing. The worker calls this
// once per gap before launching the snapshot fetch.
func (m *Machine) BeginResync() {
	if m.state == model.GapDetected {
		m.state = model.Resyncing
	}
}

// MarkDown transitions the instrument to Down. Nothing is emitted again
// until an explicit Restart.
func (m *Machine) MarkDown() {
	m.state = model.Down
}

// Restart resets the machine to AwaitingSnapshot with empty ladders and
// buffers. Used for operator-driven recovery of a Down instrument.
func (m *Machine) Restart() {
	m.bids = book.NewLadder(model.Bid)
	m.asks = book.NewLadder(model.Ask)
	m.state = model.AwaitingSnapshot
	m.expected = 0
	m.pending = make(map[int64]decode.Event)
	m.replay = newReplayRing(m.replay.capacity)
	m.lastSnapshotTS = 0
}

// onDelta handles a delta event per the state table.
func (m *Machine) onDelta(ev decode.Event) ([]model.Transition, bool) {
	switch m.state {
	case model.Down:
		return nil, false

	case model.AwaitingSnapshot:
		// No authoritative base yet; the snapshot will cover this.
		m.counters.PreSnapshotDrop()
		return nil, false

	case model.GapDetected, model.Resyncing:
		if ev.Sequence < m.expected {
			m.counters.StaleDrop()
			return nil, false
		}
		if m.replay.push(ev) {
			m.counters.BufferOverflow()
		}
		return nil, false

	case model.Live:
		return m.onDeltaLive(ev)
	}
	return nil, false
}

// onDeltaLive validates a delta against the expected sequence.
func (m *Machine) onDeltaLive(ev decode.Event) ([]model.Transition, bool) {
	if ev.Sequence < m.expected {
		m.counters.StaleDrop()
		return nil, false
	}

	if m.covers(ev) {
		trs := []model.Transition{m.apply(ev)}
		drained, gap := m.drainPending()
		return append(trs, drained...), gap
	}

	// Ahead of sequence: hold back briefly before declaring a gap.
	m.pending[ev.Sequence] = ev
	if len(m.pending) <= m.reorderWindow {
		return nil, false
	}
	m.declareGap()
	return nil, true
}

// covers reports whether the event's update range includes the expected
// sequence, i.e. FirstSequence <= expected <= Sequence. Dense feeds
// reduce this to Sequence == expected.
func (m *Machine) covers(ev decode.Event) bool {
	return ev.FirstSequence <= m.expected && ev.Sequence >= m.expected
}

// apply mutates the ladders with a validated event and advances the
// expected sequence. Callers guarantee covers(ev) or snapshot context.
func (m *Machine) apply(ev decode.Event) model.Transition {
	for _, d := range ev.Deltas {
		if d.Side == model.Bid {
			m.bids.Apply(d.Price, d.Size)
		} else {
			m.asks.Apply(d.Price, d.Size)
		}
	}
	m.expected = ev.Sequence + 1
	m.counters.DeltaApplied(int64(len(ev.Deltas)))

	tr := model.Transition{
		Instrument: m.inst,
		IsSnapshot: false,
		Sequence:   ev.Sequence,
		ExchangeTS: ev.ExchangeTS,
		ReceivedAt: ev.ReceivedAt,
		ConnID:     ev.ConnID,
		Deltas:     ev.Deltas,
	}
	if m.onApply != nil {
		m.onApply(tr)
	}
	return tr
}

// drainPending repeatedly applies held-back events that now cover the
// expected sequence, discarding those the sequence has passed.
func (m *Machine) drainPending() ([]model.Transition, bool) {
	var trs []model.Transition
	for {
		progressed := false
		for seq, ev := range m.pending {
			if seq < m.expected {
				delete(m.pending, seq)
				progressed = true
				continue
			}
			if m.covers(ev) {
				delete(m.pending, seq)
				trs = append(trs, m.apply(ev))
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	if len(m.pending) > m.reorderWindow {
		m.declareGap()
		return trs, true
	}
	return trs, false
}

// declareGap moves Live to GapDetected, shifting held-back events into
// the replay buffer so the post-snapshot drain sees them.
func (m *Machine) declareGap() {
	m.counters.GapDetected()
	m.state = model.GapDetected

	seqs := make([]int64, 0, len(m.pending))
	for seq := range m.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	for _, seq := range seqs {
		if m.replay.push(m.pending[seq]) {
			m.counters.BufferOverflow()
		}
		delete(m.pending, seq)
	}
}

// onSnapshot applies a full snapshot: staged ladder replacement,
// expected = sequence + 1, then replay of buffered and held-back events
// in ascending sequence order.
func (m *Machine) onSnapshot(ev decode.Event) ([]model.Transition, bool, error) {
	if m.state == model.Down {
		return nil, false, nil
	}
	snap := ev.Snapshot
	if snap == nil {
		return nil, false, fmt.Errorf("snapshot event without snapshot body for %s", m.inst)
	}

	// A periodic re-snapshot at or behind the live sequence would
	// rewind the book or re-emit an already-published sequence.
	if m.state == model.Live && snap.Sequence < m.expected {
		m.counters.StaleDrop()
		return nil, false, nil
	}

	// Stage both ladders before touching live state so a malformed
	// snapshot never leaves the book half-replaced.
	bids := book.NewLadder(model.Bid)
	if err := bids.Reset(snap.Bids); err != nil {
		return nil, false, fmt.Errorf("snapshot for %s: %w", m.inst, err)
	}
	asks := book.NewLadder(model.Ask)
	if err := asks.Reset(snap.Asks); err != nil {
		return nil, false, fmt.Errorf("snapshot for %s: %w", m.inst, err)
	}

	m.bids = bids
	m.asks = asks
	m.expected = snap.Sequence + 1
	m.state = model.Live
	m.lastSnapshotTS = snap.ExchangeTS
	m.counters.SnapshotApplied()

	snapTr := model.Transition{
		Instrument: m.inst,
		IsSnapshot: true,
		Sequence:   snap.Sequence,
		ExchangeTS: snap.ExchangeTS,
		ReceivedAt: ev.ReceivedAt,
		ConnID:     ev.ConnID,
	}
	if m.onApply != nil {
		m.onApply(snapTr)
	}
	trs := []model.Transition{snapTr}

	// Replay everything buffered during the resync plus anything still
	// held back, oldest first. Events the snapshot already covers are
	// skipped; a hole among the survivors re-declares the gap.
	backlog := m.replay.drain()
	for seq := range m.pending {
		backlog = append(backlog, m.pending[seq])
		delete(m.pending, seq)
	}
	sort.Slice(backlog, func(i, j int) bool { return backlog[i].Sequence < backlog[j].Sequence })

	gap := false
	for _, buffered := range backlog {
		if buffered.Sequence < m.expected {
			continue
		}
		applied, g := m.onDelta(buffered)
		trs = append(trs, applied...)
		if g {
			gap = true
		}
	}

	return trs, gap, nil
}
