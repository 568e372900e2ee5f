// Package model defines the shared vocabulary of the reconstruction engine.
//
// Conventions:
//   - Prices and sizes: int64 fixed-point, scaled by 1e8
//   - Timestamps: int64 nanoseconds since Unix epoch
//   - Instruments: (exchange, symbol) string pair, immutable identity key
package model
