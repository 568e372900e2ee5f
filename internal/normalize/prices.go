package normalize

import (
	"github.com/shopspring/decimal"

	"github.com/pentzer/perp-microstructure-depth/internal/book"
	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// TopOfBook derives the best-level view for one transition. It returns
// false when either side is empty, which happens legitimately right
// after a thin snapshot.
//
// Mid and microprice are computed in decimal space so the intermediate
// price*size products cannot overflow the fixed-point range.
func TopOfBook(tr model.Transition, bids, asks *book.Ladder) (model.TopOfBook, bool) {
	bb, ok := bids.Best()
	if !ok {
		return model.TopOfBook{}, false
	}
	ba, ok := asks.Best()
	if !ok {
		return model.TopOfBook{}, false
	}

	bidPx := decimal.New(bb.Price, 0)
	askPx := decimal.New(ba.Price, 0)
	bidSz := decimal.New(bb.Size, 0)
	askSz := decimal.New(ba.Size, 0)

	// Floor division, matching integer fixed-point semantics. QuoRem
	// truncates exactly; operands are non-negative so that is the floor.
	mid, _ := bidPx.Add(askPx).QuoRem(decimal.New(2, 0), 0)

	// Microprice weights each side's price by the opposing size, so a
	// large bid pulls the fair value toward the ask.
	micro := mid
	if totalSz := bidSz.Add(askSz); !totalSz.IsZero() {
		micro, _ = bidPx.Mul(askSz).Add(askPx.Mul(bidSz)).QuoRem(totalSz, 0)
	}

	return model.TopOfBook{
		Exchange:   tr.Instrument.Exchange,
		Symbol:     tr.Instrument.Symbol,
		Sequence:   tr.Sequence,
		ExchangeTS: tr.ExchangeTS,
		ReceivedAt: tr.ReceivedAt.UnixNano(),
		BestBid:    bb.Price,
		BidSize:    bb.Size,
		BestAsk:    ba.Price,
		AskSize:    ba.Size,
		Mid:        mid.IntPart(),
		Micro:      micro.IntPart(),
	}, true
}
