// Package buffer provides a generic, thread-safe bounded buffer used for rolling histories.
//
// The buffer keeps at most Capacity items in insertion order. When full, the
// configured overflow policy decides whether the oldest item is evicted (the default,
// used for alert histories) or the new item is discarded.
package buffer

// Buffer represents a generic bounded buffer parameterized by item type T.
type Buffer[T any] interface {
	// Write adds an item to the buffer, applying the overflow policy when full.
	Write(item T)

	// Items returns a copy of all items, oldest first.
	Items() []T

	// Last returns a copy of the newest n items, oldest first.
	Last(n int) []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// Dropped returns how many items were discarded by the overflow policy.
	Dropped() int64

	// Clear removes all items from the buffer. The dropped counter is kept.
	Clear()
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called when an item is dropped due to overflow policy.
// It receives the item that was dropped.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a new circular buffer with the specified capacity and options.
// A capacity below 1 is raised to 1.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) Buffer[T] {
	return newCircularBuffer(capacity, applyOptions(options...))
}
