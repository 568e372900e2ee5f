// Package database provides TimescaleDB connection pool management.
//
// Normalized book records are time-series data; the reconstructor keeps
// a single TimescaleDB pool shared by the batch writers.
package database
