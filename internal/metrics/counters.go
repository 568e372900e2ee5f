package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counters tracks feed-health events for one instrument. All methods
// are safe for concurrent use.
type Counters struct {
	decodeFailures   atomic.Int64
	preSnapshotDrops atomic.Int64
	staleDrops       atomic.Int64
	gapsDetected     atomic.Int64
	resyncAttempts   atomic.Int64
	resyncSuccesses  atomic.Int64
	resyncFailures   atomic.Int64
	bufferOverflows  atomic.Int64
	recordsEmitted   atomic.Int64
	snapshotsApplied atomic.Int64
	deltasApplied    atomic.Int64
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	DecodeFailures   int64 `json:"decode_failures"`
	PreSnapshotDrops int64 `json:"pre_snapshot_drops"`
	StaleDrops       int64 `json:"stale_drops"`
	GapsDetected     int64 `json:"gaps_detected"`
	ResyncAttempts   int64 `json:"resync_attempts"`
	ResyncSuccesses  int64 `json:"resync_successes"`
	ResyncFailures   int64 `json:"resync_failures"`
	BufferOverflows  int64 `json:"buffer_overflows"`
	RecordsEmitted   int64 `json:"records_emitted"`
	SnapshotsApplied int64 `json:"snapshots_applied"`
	DeltasApplied    int64 `json:"deltas_applied"`
}

func (c *Counters) DecodeFailure()       { c.decodeFailures.Add(1) }
func (c *Counters) PreSnapshotDrop()     { c.preSnapshotDrops.Add(1) }
func (c *Counters) StaleDrop()           { c.staleDrops.Add(1) }
func (c *Counters) GapDetected()         { c.gapsDetected.Add(1) }
func (c *Counters) ResyncAttempt()       { c.resyncAttempts.Add(1) }
func (c *Counters) ResyncSuccess()       { c.resyncSuccesses.Add(1) }
func (c *Counters) ResyncFailure()       { c.resyncFailures.Add(1) }
func (c *Counters) BufferOverflow()      { c.bufferOverflows.Add(1) }
func (c *Counters) RecordEmitted()       { c.recordsEmitted.Add(1) }
func (c *Counters) SnapshotApplied()     { c.snapshotsApplied.Add(1) }
func (c *Counters) DeltaApplied(n int64) { c.deltasApplied.Add(n) }

// Snapshot returns a consistent-enough copy for reporting. Individual
// loads are atomic; cross-counter skew is acceptable for observability.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		DecodeFailures:   c.decodeFailures.Load(),
		PreSnapshotDrops: c.preSnapshotDrops.Load(),
		StaleDrops:       c.staleDrops.Load(),
		GapsDetected:     c.gapsDetected.Load(),
		ResyncAttempts:   c.resyncAttempts.Load(),
		ResyncSuccesses:  c.resyncSuccesses.Load(),
		ResyncFailures:   c.resyncFailures.Load(),
		BufferOverflows:  c.bufferOverflows.Load(),
		RecordsEmitted:   c.recordsEmitted.Load(),
		SnapshotsApplied: c.snapshotsApplied.Load(),
		DeltasApplied:    c.deltasApplied.Load(),
	}
}

// Registry hands out per-instrument counters and aggregates snapshots.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*Counters
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*Counters)}
}

// For returns the counters for an instrument key, creating them on
// first use.
func (r *Registry) For(key string) *Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[key]
	if !ok {
		c = &Counters{}
		r.counters[key] = c
	}
	return c
}

// Report returns snapshots for every registered instrument, keyed by
// instrument, in stable key order.
func (r *Registry) Report() map[string]Snapshot {
	r.mu.Lock()
	keys := make([]string, 0, len(r.counters))
	for k := range r.counters {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)

	out := make(map[string]Snapshot, len(keys))
	for _, k := range keys {
		r.mu.Lock()
		c := r.counters[k]
		r.mu.Unlock()
		if c != nil {
			out[k] = c.Snapshot()
		}
	}
	return out
}
