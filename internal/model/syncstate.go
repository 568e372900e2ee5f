package model

// SyncState is the lifecycle state of one instrument's book.
//
// Exactly one BookState exists per (exchange, instrument) pair. The
// lifecycle begins at AwaitingSnapshot and ends only when the feed is
// explicitly torn down; Down is terminal until an operator restart.
type SyncState int

const (
	// AwaitingSnapshot: no authoritative book yet; deltas are dropped.
	AwaitingSnapshot SyncState = iota

	// Live: book is sequence-validated; deltas apply directly.
	Live

	// GapDetected: a sequence hole was confirmed; resync pending.
	GapDetected

	// Resyncing: a fresh snapshot is being fetched; deltas are buffered.
	Resyncing

	// Down: resync retries exhausted or invariant violated; no further
	// records are emitted until an explicit restart.
	Down
)

var syncStateNames = [...]string{
	AwaitingSnapshot: "awaiting_snapshot",
	Live:             "live",
	GapDetected:      "gap_detected",
	Resyncing:        "resyncing",
	Down:             "down",
}

// String returns the lowercase state name.
func (s SyncState) String() string {
	if s < 0 || int(s) >= len(syncStateNames) {
		return "unknown"
	}
	return syncStateNames[s]
}
