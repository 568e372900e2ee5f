package engine

import (
	"github.com/pentzer/perp-microstructure-depth/internal/decode"
)

// replayRing is a bounded ring of events buffered while a resync is in
// flight. On overflow the oldest event is dropped: the next snapshot
// authoritatively replaces whatever the dropped event would have
// contributed, so sustained overflow degrades freshness, not
// correctness.
//
// The ring is owned by one worker goroutine and needs no locking.
type replayRing struct {
	buf      []decode.Event
	head     int
	count    int
	capacity int
	dropped  int64
}

func newReplayRing(capacity int) *replayRing {
	if capacity < 1 {
		capacity = 1
	}
	return &replayRing{
		buf:      make([]decode.Event, capacity),
		capacity: capacity,
	}
}

// push appends an event, dropping the oldest on overflow. Returns true
// when an old event was evicted.
func (r *replayRing) push(ev decode.Event) bool {
	if r.count == r.capacity {
		r.buf[r.head] = ev
		r.head = (r.head + 1) % r.capacity
		r.dropped++
		return true
	}
	r.buf[(r.head+r.count)%r.capacity] = ev
	r.count++
	return false
}

// drain removes and returns all buffered events in arrival order.
func (r *replayRing) drain() []decode.Event {
	if r.count == 0 {
		return nil
	}
	out := make([]decode.Event, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%r.capacity]
		r.buf[(r.head+i)%r.capacity] = decode.Event{}
	}
	r.head = 0
	r.count = 0
	return out
}

func (r *replayRing) len() int {
	return r.count
}
