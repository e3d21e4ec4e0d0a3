package router

import (
	"sync"
)

// backlog is the bounded, priority-ordered queue of requests that could not
// be written through to a device.  Insertion keeps the slice sorted by
// priority with FIFO order within a priority.
type backlog struct {
	lock  sync.Mutex
	items []*pendingEntry
	max   int
}

func newBacklog(max int) *backlog {
	return &backlog{max: max}
}

// enqueue inserts an entry in priority position.  A full backlog returns
// false and leaves existing entries untouched.
func (b *backlog) enqueue(e *pendingEntry) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	if len(b.items) >= b.max {
		return false
	}

	position := len(b.items)
	for i, queued := range b.items {
		if queued.priority > e.priority {
			position = i
			break
		}
	}

	b.items = append(b.items, nil)
	copy(b.items[position+1:], b.items[position:])
	b.items[position] = e
	return true
}

// drain removes and returns up to max entries in queue order.  A nonpositive
// max drains everything.
func (b *backlog) drain(max int) []*pendingEntry {
	b.lock.Lock()
	defer b.lock.Unlock()

	n := len(b.items)
	if max > 0 && max < n {
		n = max
	}

	drained := make([]*pendingEntry, n)
	copy(drained, b.items[:n])
	b.items = b.items[n:]
	return drained
}

// removeConn purges queued entries owned by the given connection.
func (b *backlog) removeConn(connID string) []*pendingEntry {
	b.lock.Lock()
	defer b.lock.Unlock()

	var removed []*pendingEntry
	kept := b.items[:0]
	for _, e := range b.items {
		if e.connID == connID {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}

	b.items = kept
	return removed
}

func (b *backlog) len() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.items)
}
