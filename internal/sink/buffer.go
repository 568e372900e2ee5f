package sink

import (
	"sync"
)

// Buffer is a thread-safe ring buffer that doubles its capacity when it
// reaches 70% full, up to a hard cap. At the cap, Send fails instead of
// blocking; the caller decides whether that is a drop.
type Buffer[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	maxCap   int
	closed   bool

	// Stats
	totalReceived int64
	totalSent     int64
	totalDropped  int64
	resizeCount   int
}

// NewBuffer creates a buffer with the given initial capacity, growable
// up to maxCapacity. maxCapacity <= 0 means unbounded growth.
func NewBuffer[T any](initialCapacity, maxCapacity int) *Buffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity > 0 && maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	b := &Buffer[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		maxCap:   maxCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send adds an item. Returns false if the buffer is closed or full at
// its maximum capacity; a false return at capacity counts as a drop.
func (b *Buffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	// Grow at 70% occupancy, while allowed.
	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}
	if b.count == b.capacity {
		b.totalDropped++
		return false
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalReceived++

	b.cond.Signal()
	return true
}

// Receive removes and returns an item, blocking until one is available
// or the buffer is closed. Returns false when closed and drained.
func (b *Buffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}

	if b.count == 0 && b.closed {
		var zero T
		return zero, false
	}

	return b.take(), true
}

// TryReceive attempts to receive without blocking.
func (b *Buffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.take(), true
}

// DrainTo removes up to max items, or everything when max <= 0.
func (b *Buffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}
	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = b.take()
	}
	return result
}

// Close stops accepting items. Receivers drain what remains.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Len returns the current number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns buffer statistics.
func (b *Buffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      b.capacity,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		TotalDropped:  b.totalDropped,
		ResizeCount:   b.resizeCount,
	}
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	TotalDropped  int64
	ResizeCount   int
}

// take pops the head item. Must be called with the lock held and
// count > 0.
func (b *Buffer[T]) take() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalSent++
	return item
}

// grow doubles capacity up to the cap. Must be called with lock held.
func (b *Buffer[T]) grow() {
	newCapacity := b.capacity * 2
	if b.maxCap > 0 && newCapacity > b.maxCap {
		newCapacity = b.maxCap
	}
	if newCapacity <= b.capacity {
		return
	}
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count
	b.capacity = newCapacity
	b.resizeCount++
}
