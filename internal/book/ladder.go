package book

import (
	"fmt"
	"sort"

	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// Ladder is one side of an order book: a price-sorted slice of levels
// with binary-search lookup. Insert, replace and remove are O(log n)
// search plus slice shift; traversal is already in sort order.
type Ladder struct {
	side   model.Side
	levels []model.PriceLevel
}

// NewLadder creates an empty ladder for the given side.
func NewLadder(side model.Side) *Ladder {
	return &Ladder{side: side}
}

// Side returns which side this ladder holds.
func (l *Ladder) Side() model.Side {
	return l.side
}

// Len returns the number of stored levels.
func (l *Ladder) Len() int {
	return len(l.levels)
}

// search returns the index at which price sorts, and whether the price
// is already present. Bids are kept descending, asks ascending.
func (l *Ladder) search(price int64) (int, bool) {
	var i int
	if l.side == model.Bid {
		i = sort.Search(len(l.levels), func(j int) bool {
			return l.levels[j].Price <= price
		})
	} else {
		i = sort.Search(len(l.levels), func(j int) bool {
			return l.levels[j].Price >= price
		})
	}
	found := i < len(l.levels) && l.levels[i].Price == price
	return i, found
}

// Apply upserts or removes a price level. Size 0 removes the level and
// is a no-op when the price is absent; size > 0 inserts or replaces.
func (l *Ladder) Apply(price, size int64) {
	i, found := l.search(price)

	if size == 0 {
		if found {
			l.levels = append(l.levels[:i], l.levels[i+1:]...)
		}
		return
	}

	if found {
		l.levels[i].Size = size
		return
	}

	l.levels = append(l.levels, model.PriceLevel{})
	copy(l.levels[i+1:], l.levels[i:])
	l.levels[i] = model.PriceLevel{Price: price, Size: size}
}

// Reset atomically replaces the ladder contents. The input must already
// be in this side's sort order with unique prices and positive sizes;
// levels with size 0 are skipped. Returns an error if the input is not
// sorted or contains duplicates, leaving the ladder unchanged.
func (l *Ladder) Reset(levels []model.PriceLevel) error {
	fresh := make([]model.PriceLevel, 0, len(levels))
	for _, lv := range levels {
		if lv.Size == 0 {
			continue
		}
		if lv.Size < 0 {
			return fmt.Errorf("ladder reset: negative size %d at price %d", lv.Size, lv.Price)
		}
		if n := len(fresh); n > 0 {
			prev := fresh[n-1].Price
			if prev == lv.Price {
				return fmt.Errorf("ladder reset: duplicate price %d", lv.Price)
			}
			if l.side == model.Bid && lv.Price > prev {
				return fmt.Errorf("ladder reset: bids not descending at price %d", lv.Price)
			}
			if l.side == model.Ask && lv.Price < prev {
				return fmt.Errorf("ladder reset: asks not ascending at price %d", lv.Price)
			}
		}
		fresh = append(fresh, lv)
	}
	l.levels = fresh
	return nil
}

// Top returns up to n best levels in sort order, or every level when
// n <= 0. The returned slice is a copy; mutating it does not affect the
// ladder.
func (l *Ladder) Top(n int) []model.PriceLevel {
	if n <= 0 || n > len(l.levels) {
		n = len(l.levels)
	}
	out := make([]model.PriceLevel, n)
	copy(out, l.levels[:n])
	return out
}

// Levels returns a copy of every level in sort order.
func (l *Ladder) Levels() []model.PriceLevel {
	return l.Top(len(l.levels))
}

// Best returns the top level, or false when the side is empty.
func (l *Ladder) Best() (model.PriceLevel, bool) {
	if len(l.levels) == 0 {
		return model.PriceLevel{}, false
	}
	return l.levels[0], true
}

// Validate checks the sort-order, uniqueness and positive-size
// invariants. A failure here is a programming defect in the ladder or
// its caller, not a runtime feed condition.
func (l *Ladder) Validate() error {
	for i, lv := range l.levels {
		if lv.Size <= 0 {
			return fmt.Errorf("%s ladder: non-positive size %d at price %d", l.side, lv.Size, lv.Price)
		}
		if i == 0 {
			continue
		}
		prev := l.levels[i-1].Price
		if lv.Price == prev {
			return fmt.Errorf("%s ladder: duplicate price %d", l.side, lv.Price)
		}
		if l.side == model.Bid && lv.Price > prev {
			return fmt.Errorf("bid ladder: out of order at price %d", lv.Price)
		}
		if l.side == model.Ask && lv.Price < prev {
			return fmt.Errorf("ask ladder: out of order at price %d", lv.Price)
		}
	}
	return nil
}
