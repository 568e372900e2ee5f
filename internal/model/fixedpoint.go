package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Fixed-point scale shared by prices and sizes. 1e8 gives 8 decimal
// digits, enough for every perp contract tick size in production use.
const (
	FixedScale = 8
	PriceScale = 100_000_000
	QtyScale   = 100_000_000
)

// ParseFixed converts a decimal string (e.g. "42301.5") to int64
// fixed-point at scale 1e8. Exchange payloads encode prices as strings;
// parsing through decimal avoids float rounding on the way in.
func ParseFixed(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse fixed-point %q: %w", s, err)
	}
	shifted := d.Shift(FixedScale)
	if !shifted.IsInteger() {
		// More precision than the scale holds; round half-up.
		shifted = shifted.Round(0)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("fixed-point overflow: %q", s)
	}
	return shifted.IntPart(), nil
}

// FormatFixed renders an int64 fixed-point value back to its decimal
// string form, trimming trailing zeros.
func FormatFixed(v int64) string {
	return decimal.New(v, -FixedScale).String()
}
