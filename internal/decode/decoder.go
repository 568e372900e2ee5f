package decode

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pentzer/perp-microstructure-depth/internal/model"
)

// RawPayload is one transport frame plus arrival metadata.
type RawPayload struct {
	Exchange   string
	Data       []byte
	ConnID     uuid.UUID // Connection that delivered the frame
	ReceivedAt time.Time // Local receipt timestamp
}

// Kind tags the event variant.
type Kind int

const (
	KindSnapshot Kind = iota
	KindDelta
)

// Event is the normalized form of one exchange message.
//
// For deltas, FirstSequence..Sequence is the update-ID range the frame
// covers; dense feeds set FirstSequence == Sequence. All level changes
// in one event share the event's sequence and apply atomically.
type Event struct {
	Kind          Kind
	Instrument    model.Instrument
	Sequence      int64
	FirstSequence int64
	ExchangeTS    int64 // ns since epoch, 0 if the frame carries none
	ConnID        uuid.UUID
	ReceivedAt    time.Time

	Snapshot *model.BookSnapshot // set when Kind == KindSnapshot
	Deltas   []model.DeltaEvent  // set when Kind == KindDelta
}

// ErrSkip marks frames that carry no book data (subscribe acks, pings,
// heartbeats). Callers drop these without counting a decode failure.
var ErrSkip = errors.New("decode: not a book data frame")

// DecodeError reports a malformed payload. It carries the raw bytes for
// offline inspection and never crashes the process: the caller counts
// it and continues.
type DecodeError struct {
	Exchange string
	Reason   string
	Raw      []byte
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %s: %v", e.Exchange, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Exchange, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decoder is the per-exchange adapter contract.
type Decoder interface {
	// Exchange returns the exchange name this decoder handles.
	Exchange() string

	// Decode maps one raw payload to a normalized event. It returns
	// ErrSkip for non-data frames and *DecodeError for malformed ones.
	Decode(raw RawPayload) (Event, error)
}

// Registry maps exchange names to decoders.
type Registry struct {
	decoders map[string]Decoder
}

// NewRegistry creates a registry with the given decoders.
func NewRegistry(decoders ...Decoder) *Registry {
	r := &Registry{decoders: make(map[string]Decoder, len(decoders))}
	for _, d := range decoders {
		r.decoders[d.Exchange()] = d
	}
	return r
}

// Lookup returns the decoder for an exchange.
func (r *Registry) Lookup(exchange string) (Decoder, bool) {
	d, ok := r.decoders[exchange]
	return d, ok
}

// parseLevels converts [][2]string price/size pairs to fixed-point
// levels, preserving input order.
func parseLevels(raw [][]string) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("level needs price and size, got %d fields", len(pair))
		}
		price, err := model.ParseFixed(pair[0])
		if err != nil {
			return nil, err
		}
		size, err := model.ParseFixed(pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, model.PriceLevel{Price: price, Size: size})
	}
	return out, nil
}

// levelDeltas flattens level arrays into per-level delta events sharing
// one sequence number.
func levelDeltas(inst model.Instrument, seq, exchangeTS int64, side model.Side, levels []model.PriceLevel) []model.DeltaEvent {
	out := make([]model.DeltaEvent, 0, len(levels))
	for _, lv := range levels {
		out = append(out, model.DeltaEvent{
			Instrument: inst,
			Sequence:   seq,
			Side:       side,
			Price:      lv.Price,
			Size:       lv.Size,
			ExchangeTS: exchangeTS,
		})
	}
	return out
}
