package router

import (
	"sync"
	"time"

	"github.com/browser-go/extension-bridge/device"
)

// pendingEntry tracks one in-flight request: the (connection, message id)
// pairing plus everything needed to time it out or retry it.
type pendingEntry struct {
	connID   string
	key      string
	method   string
	deviceID device.ID
	priority Priority

	enqueued time.Time
	deadline time.Time
	expires  time.Time
	retries  int

	// frame is the encoded request, retained so the entry can be re-sent
	frame []byte
}

// pendingTable is the per-device pending-request table.  Entries under the
// same message id form a FIFO: if two connections race with the same id, the
// device's responses consume entries in enqueue order, so each response goes
// to exactly one originator and never to the other connection.
type pendingTable struct {
	lock    sync.Mutex
	entries map[string][]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: make(map[string][]*pendingEntry),
	}
}

// add inserts an entry.  At most one entry may exist per (connection, id)
// pair; a duplicate returns false and does not modify the table.
func (t *pendingTable) add(e *pendingEntry) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	for _, existing := range t.entries[e.key] {
		if existing.connID == e.connID {
			return false
		}
	}

	t.entries[e.key] = append(t.entries[e.key], e)
	return true
}

// consume pops the oldest entry registered under the given message id, or nil
// if no entry matches.  Responses with no matching entry are dropped by the
// caller.
func (t *pendingTable) consume(key string) *pendingEntry {
	t.lock.Lock()
	defer t.lock.Unlock()

	queue := t.entries[key]
	if len(queue) == 0 {
		return nil
	}

	e := queue[0]
	if len(queue) == 1 {
		delete(t.entries, key)
	} else {
		t.entries[key] = queue[1:]
	}

	return e
}

// remove deletes a specific entry, if it is still present.
func (t *pendingTable) remove(e *pendingEntry) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	queue := t.entries[e.key]
	for i, candidate := range queue {
		if candidate == e {
			queue = append(queue[:i], queue[i+1:]...)
			if len(queue) == 0 {
				delete(t.entries, e.key)
			} else {
				t.entries[e.key] = queue
			}

			return true
		}
	}

	return false
}

// removeConn purges every entry owned by the given connection and returns
// them.  Called when a client disconnects; subsequent matching responses are
// then dropped silently.
func (t *pendingTable) removeConn(connID string) []*pendingEntry {
	t.lock.Lock()
	defer t.lock.Unlock()

	var removed []*pendingEntry
	for key, queue := range t.entries {
		kept := queue[:0]
		for _, e := range queue {
			if e.connID == connID {
				removed = append(removed, e)
			} else {
				kept = append(kept, e)
			}
		}

		if len(kept) == 0 {
			delete(t.entries, key)
		} else {
			t.entries[key] = kept
		}
	}

	return removed
}

// removeAll empties the table, returning every entry.  Used when a device
// vanishes or the router shuts down.
func (t *pendingTable) removeAll() []*pendingEntry {
	t.lock.Lock()
	defer t.lock.Unlock()

	var removed []*pendingEntry
	for _, queue := range t.entries {
		removed = append(removed, queue...)
	}

	t.entries = make(map[string][]*pendingEntry)
	return removed
}

// expire removes and returns entries past their per-request deadline (timedOut)
// and entries past the table TTL (expired).  TTL eviction wins when both apply.
func (t *pendingTable) expire(now time.Time) (timedOut, expired []*pendingEntry) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for key, queue := range t.entries {
		kept := queue[:0]
		for _, e := range queue {
			switch {
			case now.After(e.expires):
				expired = append(expired, e)
			case now.After(e.deadline):
				timedOut = append(timedOut, e)
			default:
				kept = append(kept, e)
			}
		}

		if len(kept) == 0 {
			delete(t.entries, key)
		} else {
			t.entries[key] = kept
		}
	}

	return
}

func (t *pendingTable) len() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	var n int
	for _, queue := range t.entries {
		n += len(queue)
	}

	return n
}
