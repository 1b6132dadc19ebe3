package alert

import (
	"context"
	"sync"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/pkg/buffer"
)

// History is an append-only, bounded alert list. Once full, the oldest alert is
// evicted for every new one. Timestamps never go backwards: an alert observed
// before the newest stored one is stamped with the newest timestamp.
type History struct {
	mu  sync.Mutex
	buf buffer.Buffer[Alert]
}

// NewHistory creates a history holding at most size alerts (DefaultHistorySize when size < 1)
func NewHistory(size int) *History {
	if size < 1 {
		size = DefaultHistorySize
	}
	return &History{
		buf: buffer.NewCircularBuffer[Alert](size),
	}
}

// Add appends a and returns the alert as stored
func (h *History) Add(a Alert) Alert {
	h.mu.Lock()
	defer h.mu.Unlock()

	if last := h.buf.Last(1); len(last) == 1 && a.ObservedAt.Before(last[0].ObservedAt) {
		a.ObservedAt = last[0].ObservedAt
	}
	h.buf.Write(a)
	return a
}

// Emit implements Sink by recording the alert
func (h *History) Emit(_ context.Context, a Alert) {
	_ = h.Add(a)
}

// All returns the stored alerts, oldest first
func (h *History) All() []Alert {
	return h.buf.Items()
}

// Recent returns the newest n alerts, oldest first
func (h *History) Recent(n int) []Alert {
	return h.buf.Last(n)
}

// Len returns the number of stored alerts
func (h *History) Len() int {
	return h.buf.Size()
}

// Cap returns the history bound
func (h *History) Cap() int {
	return h.buf.Capacity()
}

// Evicted returns how many alerts were pushed out by newer ones
func (h *History) Evicted() int64 {
	return h.buf.Dropped()
}

// Reset removes all alerts
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Clear()
}
