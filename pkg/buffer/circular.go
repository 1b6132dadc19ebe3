package buffer

import (
	"sync"
)

// circularBuffer is a thread-safe circular buffer with configurable overflow policies.
type circularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	size     int
	head     int // Points to the next write position
	tail     int // Points to the oldest item
	dropped  int64
	opts     *bufferOptions[T]
}

func newCircularBuffer[T any](capacity int, opts *bufferOptions[T]) *circularBuffer[T] {
	if capacity <= 0 {
		capacity = 1 // Minimum capacity
	}

	return &circularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		opts:     opts,
	}
}

// Write adds an item to the buffer according to the overflow policy.
func (cb *circularBuffer[T]) Write(item T) {
	var dropped T
	var hasDropped bool

	cb.mu.Lock()
	if cb.size == cb.capacity {
		cb.dropped++
		switch cb.opts.overflowPolicy {
		case DropNewest:
			cb.mu.Unlock()
			cb.notifyDrop(item)
			return
		default:
			dropped, hasDropped = cb.items[cb.tail], true
			cb.tail = (cb.tail + 1) % cb.capacity
			cb.size--
		}
	}

	cb.items[cb.head] = item
	cb.head = (cb.head + 1) % cb.capacity
	cb.size++
	cb.mu.Unlock()

	// Callback runs outside the lock to avoid deadlock
	if hasDropped {
		cb.notifyDrop(dropped)
	}
}

func (cb *circularBuffer[T]) notifyDrop(item T) {
	if cb.opts.dropCallback != nil {
		cb.opts.dropCallback(item)
	}
}

// Items returns a copy of all items, oldest first.
func (cb *circularBuffer[T]) Items() []T {
	return cb.Last(cb.Capacity())
}

// Last returns a copy of the newest n items, oldest first.
func (cb *circularBuffer[T]) Last(n int) []T {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if n <= 0 || cb.size == 0 {
		return []T{}
	}
	if n > cb.size {
		n = cb.size
	}

	out := make([]T, n)
	start := (cb.tail + cb.size - n) % cb.capacity
	for i := 0; i < n; i++ {
		out[i] = cb.items[(start+i)%cb.capacity]
	}
	return out
}

// Size returns the current number of items in the buffer.
func (cb *circularBuffer[T]) Size() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.size
}

// Capacity returns the maximum number of items the buffer can hold.
func (cb *circularBuffer[T]) Capacity() int {
	return cb.capacity
}

// Dropped returns how many items were discarded by the overflow policy.
func (cb *circularBuffer[T]) Dropped() int64 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.dropped
}

// Clear removes all items from the buffer.
func (cb *circularBuffer[T]) Clear() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	var zero T
	for i := range cb.items {
		cb.items[i] = zero // Clear for GC
	}
	cb.head = 0
	cb.tail = 0
	cb.size = 0
}
