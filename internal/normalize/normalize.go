package normalize

import (
	"errors"
	"fmt"

	"github.com/pentzer/perp-microstructure-depth/internal/book"
	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// Mode selects the record shape emitted per transition.
type Mode int

const (
	// ModeFullBook emits the rendered top-N ladders on every transition.
	ModeFullBook Mode = iota
	// ModeDelta emits only the changed levels; snapshots still carry
	// the full ladders so a consumer can bootstrap.
	ModeDelta
)

// String returns the config spelling of the mode.
func (m Mode) String() string {
	if m == ModeDelta {
		return "delta"
	}
	return "full_book"
}

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "full_book", "":
		return ModeFullBook, nil
	case "delta":
		return ModeDelta, nil
	default:
		return 0, fmt.Errorf("unknown emit mode %q", s)
	}
}

// ErrCrossedBook reports a best bid at or above the best ask. A crossed
// book after a validated apply means the reconstruction is corrupt.
var ErrCrossedBook = errors.New("crossed book")

// ErrInvalidLadder reports a ladder that lost its sort order,
// uniqueness, or positive-size invariant. Like a crossed book, it
// means the reconstruction is corrupt.
var ErrInvalidLadder = errors.New("invalid ladder")

// Renderer turns transitions into normalized records.
type Renderer struct {
	mode  Mode
	depth int
}

// NewRenderer creates a renderer. depth <= 0 renders the whole ladder.
func NewRenderer(mode Mode, depth int) *Renderer {
	return &Renderer{mode: mode, depth: depth}
}

// Render produces the record for one transition against the post-apply
// ladders. It asserts the ladder invariants one last time before
// emission: ErrInvalidLadder for a broken side, ErrCrossedBook for a
// bid at or above the ask. The caller owns the recovery.
func (r *Renderer) Render(tr model.Transition, bids, asks *book.Ladder) (model.NormalizedRecord, error) {
	if err := bids.Validate(); err != nil {
		return model.NormalizedRecord{}, fmt.Errorf("%s seq %d: %v: %w",
			tr.Instrument, tr.Sequence, err, ErrInvalidLadder)
	}
	if err := asks.Validate(); err != nil {
		return model.NormalizedRecord{}, fmt.Errorf("%s seq %d: %v: %w",
			tr.Instrument, tr.Sequence, err, ErrInvalidLadder)
	}
	if bb, ok := bids.Best(); ok {
		if ba, ok := asks.Best(); ok && bb.Price >= ba.Price {
			return model.NormalizedRecord{}, fmt.Errorf("%s seq %d: bid %d >= ask %d: %w",
				tr.Instrument, tr.Sequence, bb.Price, ba.Price, ErrCrossedBook)
		}
	}

	rec := model.NormalizedRecord{
		Exchange:   tr.Instrument.Exchange,
		Symbol:     tr.Instrument.Symbol,
		Sequence:   tr.Sequence,
		ExchangeTS: tr.ExchangeTS,
		ReceivedAt: tr.ReceivedAt.UnixNano(),
		IsSnapshot: tr.IsSnapshot,
		ConnID:     tr.ConnID,
	}

	if r.mode == ModeFullBook || tr.IsSnapshot {
		rec.Bids = bids.Top(r.depth)
		rec.Asks = asks.Top(r.depth)
		return rec, nil
	}

	// Delta mode. A single-level change uses the flat fields; a
	// multi-level change groups the touched levels per side so the
	// record still covers exactly one sequence.
	if len(tr.Deltas) == 1 {
		d := tr.Deltas[0]
		rec.Side = d.Side
		rec.Price = d.Price
		rec.Size = d.Size
		return rec, nil
	}
	for _, d := range tr.Deltas {
		lvl := model.PriceLevel{Price: d.Price, Size: d.Size}
		if d.Side == model.Bid {
			rec.Bids = append(rec.Bids, lvl)
		} else {
			rec.Asks = append(rec.Asks, lvl)
		}
	}
	return rec, nil
}
