package decode

import (
	"bytes"
	"encoding/json"

	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// BinanceDecoder decodes Binance perpetual-futures depth stream frames.
//
// The futures stream emits depthUpdate frames covering an update-ID
// range [U, u]; continuity against the previous frame is validated by
// the sequence state machine, not here.
type BinanceDecoder struct{}

// NewBinanceDecoder creates a Binance futures depth decoder.
func NewBinanceDecoder() *BinanceDecoder {
	return &BinanceDecoder{}
}

// Exchange returns "binance".
func (d *BinanceDecoder) Exchange() string {
	return "binance"
}

// binanceDepthWire is the futures depthUpdate wire format.
type binanceDepthWire struct {
	EventType string     `json:"e"`
	EventTime int64      `json:"E"` // ms
	Symbol    string     `json:"s"`
	FirstID   int64      `json:"U"`
	FinalID   int64      `json:"u"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

// binanceEnvelope is used for fast frame classification, including the
// combined-stream wrapper. EventTime must be declared alongside
// EventType: without an exact `json:"E"` match the decoder falls back
// to case-insensitive matching and feeds the numeric "E" into "e".
type binanceEnvelope struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Stream    string          `json:"stream"`
	Data      json.RawMessage `json:"data"`
	Result    json.RawMessage `json:"result"`
	ID        json.RawMessage `json:"id"`
}

// Decode maps a depthUpdate frame to a delta event. Subscribe acks and
// unknown event types return ErrSkip.
func (d *BinanceDecoder) Decode(raw RawPayload) (Event, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(raw.Data, &env); err != nil {
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "malformed json", Raw: raw.Data, Err: err}
	}

	data := raw.Data
	if len(env.Data) > 0 && env.Stream != "" {
		// Combined-stream wrapper: payload nested under "data".
		data = env.Data
		if err := json.Unmarshal(data, &env); err != nil {
			return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "malformed combined-stream payload", Raw: raw.Data, Err: err}
		}
	}

	if env.EventType == "" {
		// Subscribe response: {"result":null,"id":1}
		if len(env.ID) > 0 || bytes.Contains(data, []byte(`"result"`)) {
			return Event{}, ErrSkip
		}
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "missing event type", Raw: raw.Data}
	}
	if env.EventType != "depthUpdate" {
		return Event{}, ErrSkip
	}

	var wire binanceDepthWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "malformed depthUpdate", Raw: raw.Data, Err: err}
	}
	if wire.Symbol == "" {
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "depthUpdate missing symbol", Raw: raw.Data}
	}
	if wire.FinalID < wire.FirstID {
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "update id range inverted", Raw: raw.Data}
	}

	inst := model.Instrument{Exchange: d.Exchange(), Symbol: wire.Symbol}
	exchangeTS := wire.EventTime * int64(1_000_000) // ms → ns

	bids, err := parseLevels(wire.Bids)
	if err != nil {
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "bad bid level", Raw: raw.Data, Err: err}
	}
	asks, err := parseLevels(wire.Asks)
	if err != nil {
		return Event{}, &DecodeError{Exchange: d.Exchange(), Reason: "bad ask level", Raw: raw.Data, Err: err}
	}

	deltas := levelDeltas(inst, wire.FinalID, exchangeTS, model.Bid, bids)
	deltas = append(deltas, levelDeltas(inst, wire.FinalID, exchangeTS, model.Ask, asks)...)

	return Event{
		Kind:          KindDelta,
		Instrument:    inst,
		Sequence:      wire.FinalID,
		FirstSequence: wire.FirstID,
		ExchangeTS:    exchangeTS,
		ConnID:        raw.ConnID,
		ReceivedAt:    raw.ReceivedAt,
		Deltas:        deltas,
	}, nil
}
