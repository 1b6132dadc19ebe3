package natsclient

import (
	"sync"

	"github.com/CoreBridgeTechnologies/corebridge-plugin-health-monitor/message"
)

// replyResult is delivered to a waiting request
type replyResult struct {
	env *message.Envelope
	err error
}

// pendingHandle identifies a slot; gen guards against a reused slot
type pendingHandle struct {
	idx int
	gen uint32
}

type pendingSlot struct {
	gen      uint32
	inUse    bool
	resolved bool
	ch       chan replyResult
}

// pendingTable maps correlation ids to waiting requests. Slots live in an arena
// and are recycled through a free list; index maps an id to its slot.
type pendingTable struct {
	mu    sync.Mutex
	slots []pendingSlot
	free  []int
	index map[string]pendingHandle
}

func newPendingTable() *pendingTable {
	return &pendingTable{index: make(map[string]pendingHandle)}
}

// add registers a waiter for id. ids are never reused while pending.
func (t *pendingTable) add(id string) (pendingHandle, <-chan replyResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx int
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, pendingSlot{})
		idx = len(t.slots) - 1
	}

	slot := &t.slots[idx]
	slot.gen++
	slot.inUse = true
	slot.resolved = false
	slot.ch = make(chan replyResult, 1)

	h := pendingHandle{idx: idx, gen: slot.gen}
	t.index[id] = h
	return h, slot.ch
}

// resolve delivers r to the waiter for id. It returns false when there is no
// waiter (never existed, already resolved, or abandoned).
func (t *pendingTable) resolve(id string, r replyResult) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.index[id]
	if !ok {
		return false
	}
	slot := &t.slots[h.idx]
	if !slot.inUse || slot.gen != h.gen || slot.resolved {
		return false
	}
	slot.resolved = true
	slot.ch <- r
	return true
}

// remove abandons the waiter for id and recycles its slot
func (t *pendingTable) remove(id string, h pendingHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.index[id]; ok && cur == h {
		delete(t.index, id)
	}
	slot := &t.slots[h.idx]
	if !slot.inUse || slot.gen != h.gen {
		return
	}
	slot.inUse = false
	slot.ch = nil
	t.free = append(t.free, h.idx)
}

// failAll resolves every outstanding waiter with err
func (t *pendingTable) failAll(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, h := range t.index {
		slot := &t.slots[h.idx]
		if slot.inUse && slot.gen == h.gen && !slot.resolved {
			slot.resolved = true
			slot.ch <- replyResult{err: err}
			n++
		}
	}
	return n
}

// len returns the number of registered waiters
func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.index)
}
