package model

import (
	"time"

	"github.com/google/uuid"
)

// Instrument identifies a tradeable contract on one exchange.
type Instrument struct {
	Exchange string // Exchange name (e.g., "binance", "bybit")
	Symbol   string // Exchange symbol (e.g., "BTCUSDT")
}

// String returns "exchange:symbol", used as a map key and log field.
func (i Instrument) String() string {
	return i.Exchange + ":" + i.Symbol
}

// Side identifies a book side.
type Side uint8

const (
	Bid Side = iota
	Ask
)

// String returns "bid" or "ask".
func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// PriceLevel is one (price, size) pair in a ladder.
// Size is always > 0 for a stored level; size 0 means the level is absent.
type PriceLevel struct {
	Price int64 // Fixed-point price (scale 1e8)
	Size  int64 // Fixed-point size (scale 1e8)
}

// BookSnapshot is a full replacement of both ladders at a known sequence.
// Bids are ordered strictly descending by price, asks strictly ascending,
// with no duplicate prices within a side.
type BookSnapshot struct {
	Instrument Instrument
	Sequence   int64        // Exchange sequence / update ID of the snapshot
	ExchangeTS int64        // Exchange timestamp (ns since epoch), 0 if not provided
	Bids       []PriceLevel // Descending by price
	Asks       []PriceLevel // Ascending by price
}

// DeltaEvent is a single price-level change keyed by sequence number.
// Size 0 removes the level; size > 0 inserts or replaces it.
type DeltaEvent struct {
	Instrument Instrument
	Sequence   int64
	Side       Side
	Price      int64
	Size       int64
	ExchangeTS int64 // Exchange timestamp (ns since epoch)
}

// NormalizedRecord is the canonical output consumed by sinks.
//
// In full-book mode Bids/Asks hold the rendered ladders; in delta mode
// they are nil and Side/Price/Size describe the single applied change.
type NormalizedRecord struct {
	Exchange   string       `json:"exchange"`
	Symbol     string       `json:"instrument"`
	Sequence   int64        `json:"sequence"`
	ExchangeTS int64        `json:"exchange_ts"`
	ReceivedAt int64        `json:"local_ts"`
	IsSnapshot bool         `json:"is_snapshot"`
	ConnID     uuid.UUID    `json:"conn_id"`
	Bids       []PriceLevel `json:"bids,omitempty"`
	Asks       []PriceLevel `json:"asks,omitempty"`

	// Delta-mode fields (zero in full-book mode).
	Side  Side  `json:"side,omitempty"`
	Price int64 `json:"price,omitempty"`
	Size  int64 `json:"size,omitempty"`
}

// Transition describes one validated BookState change: either a full
// snapshot application or the deltas of a single applied sequence. It
// is the normalizer's input.
type Transition struct {
	Instrument Instrument
	IsSnapshot bool
	Sequence   int64
	ExchangeTS int64
	ReceivedAt time.Time
	ConnID     uuid.UUID
	Deltas     []DeltaEvent // nil for snapshots
}

// TopOfBook is the best bid/ask view derived from a live ladder pair,
// with fixed-point mid and size-weighted microprice.
type TopOfBook struct {
	Exchange   string `json:"exchange"`
	Symbol     string `json:"symbol"`
	Sequence   int64  `json:"sequence"`
	ExchangeTS int64  `json:"exchange_ts"`
	ReceivedAt int64  `json:"local_ts"`
	BestBid    int64  `json:"best_bid"`
	BidSize    int64  `json:"bid_sz"`
	BestAsk    int64  `json:"best_ask"`
	AskSize    int64  `json:"ask_sz"`
	Mid        int64  `json:"mid"`
	Micro      int64  `json:"micro"`
}

// Now returns the current time as nanoseconds since epoch.
func Now() int64 {
	return time.Now().UnixNano()
}
