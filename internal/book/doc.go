// Package book implements the per-side price ladder.
//
// A Ladder is owned exclusively by one instrument worker and is not
// safe for concurrent use. Bids sort descending by price, asks
// ascending; levels with size 0 are never stored.
package book
