package decode

import (
	"encoding/json"
	"sort"

	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// BybitDecoder decodes Bybit v5 linear-perp orderbook topic frames.
//
// Bybit embeds full snapshots in the stream (type "snapshot") and
// numbers every frame with a dense update ID, so FirstSequence always
// equals Sequence here.
type BybitDecoder struct{}

// NewBybitDecoder creates a Bybit v5 orderbook decoder.
func NewBybitDecoder() *BybitDecoder {
	return &BybitDecoder{}
}

// Exchange returns "bybit".
func (d *BybitDecoder) Exchange() string {
	return "bybit"
}

// bybitBookWire is the v5 orderbook topic wire format.
type bybitBookWire struct {
	Topic string `json:"topic"`
	Type  string `json:"type"` // "snapshot" or "delta"
	TS    int64  `json:"ts"`   // ms
	Data  struct {
		Symbol   string     `json:"s"`
		Bids     [][]string `json:"b"`
		Asks     [][]string `json:"a"`
		UpdateID int64      `json:"u"`
	} `json:"data"`
}

// bybitEnvelope classifies control frames (op acks, pongs).
type bybitEnvelope struct {
	Topic string `json:"topic"`
	Op    string `json:"op"`
}

// Decode maps an orderbook frame to a snapshot or delta event.
func (d *BybitDecoder) Decode(raw RawPayload) (Event, error) {
	var env bybitEnvelope
	if err := json.Unmarshal(raw.Data, &env); err != nil {
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "malformed json", Raw: raw.Data, Err: err}
	}
	if env.Op != "" {
		// subscribe/pong acknowledgements
		return Event{}, ErrSkip
	}
	if env.Topic == "" {
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "missing topic", Raw: raw.Data}
	}
	if len(env.Topic) < len("orderbook.") || env.Topic[:len("orderbook.")] != "orderbook." {
		return Event{}, ErrSkip
	}

	var wire bybitBookWire
	if err := json.Unmarshal(raw.Data, &wire); err != nil {
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "malformed orderbook frame", Raw: raw.Data, Err: err}
	}
	if wire.Data.Symbol == "" {
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "orderbook frame missing symbol", Raw: raw.Data}
	}

	inst := model.Instrument{Exchange: d.Exchange(), Symbol: wire.Data.Symbol}
	exchangeTS := wire.TS * int64(1_000_000) // ms → ns

	bids, err := parseLevels(wire.Data.Bids)
	if err != nil {
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "bad bid level", Raw: raw.Data, Err: err}
	}
	asks, err := parseLevels(wire.Data.Asks)
	if err != nil {
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "bad ask level", Raw: raw.Data, Err: err}
	}

	switch wire.Type {
	case "snapshot":
		// The wire order is documented best-first but not guaranteed
		// across schema revisions; sort before handing the snapshot on.
		sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
		sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

		return Event{
			Kind:          KindSnapshot,
			Instrument:    inst,
			Sequence:      wire.Data.UpdateID,
			FirstSequence: wire.Data.UpdateID,
			ExchangeTS:    exchangeTS,
			ConnID:        raw.ConnID,
			ReceivedAt:    raw.ReceivedAt,
			Snapshot: &model.BookSnapshot{
				Instrument: inst,
				Sequence:   wire.Data.UpdateID,
				ExchangeTS: exchangeTS,
				Bids:       bids,
				Asks:       asks,
			},
		}, nil

	case "delta":
		deltas := levelDeltas(inst, wire.Data.UpdateID, exchangeTS, model.Bid, bids)
		deltas = append(deltas, levelDeltas(inst, wire.Data.UpdateID, exchangeTS, model.Ask, asks)...)

		return Event{
			Kind:          KindDelta,
			Instrument:    inst,
			Sequence:      wire.Data.UpdateID,
			FirstSequence: wire.Data.UpdateID,
			ExchangeTS:    exchangeTS,
			ConnID:        raw.ConnID,
			ReceivedAt:    raw.ReceivedAt,
			Deltas:        deltas,
		}, nil

	default:
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "unknown orderbook frame type " + wire.Type, Raw: raw.Data}
	}
}
