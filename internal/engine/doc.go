// Package engine implements the sequence validator and book state
// machine: one worker per (exchange, instrument), each owning its
// ladders exclusively.
//
// The state machine tracks the expected sequence number, applies
// validated deltas, holds brief out-of-order arrivals in a bounded
// pending window, and drives gap detection into the resynchronizer.
// During a resync the worker keeps draining its inbox into a bounded
// replay buffer, so a stalled snapshot fetch never blocks the
// transport layer.
package engine
