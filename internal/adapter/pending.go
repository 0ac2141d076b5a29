// ABOUTME: Correlation state for the streaming adapter: sync-id pool and pending replies
// ABOUTME: Ids cycle through a fixed free-list so no two in-flight requests share one

package adapter

import (
	"context"
	"encoding/json"
	"sync"
)

// syncIDPool hands out correlation ids 1..size in FIFO order. An id returns to the
// back of the queue only after its request completes, so acquire blocks once every
// id is in flight.
type syncIDPool struct {
	free chan int
}

func newSyncIDPool(size int) *syncIDPool {
	p := &syncIDPool{free: make(chan int, size)}
	for id := 1; id <= size; id++ {
		p.free <- id
	}
	return p
}

func (p *syncIDPool) acquire(ctx context.Context) (int, error) {
	select {
	case id := <-p.free:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// release never blocks: the channel has room for every id.
func (p *syncIDPool) release(id int) {
	p.free <- id
}

// available returns how many ids are free.
func (p *syncIDPool) available() int {
	return len(p.free)
}

// pendingTable maps in-flight sync ids to the channel their reply is handed over on.
type pendingTable struct {
	mu      sync.Mutex
	waiting map[int]chan json.RawMessage
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiting: make(map[int]chan json.RawMessage)}
}

func (t *pendingTable) add(id int) <-chan json.RawMessage {
	ch := make(chan json.RawMessage, 1)
	t.mu.Lock()
	t.waiting[id] = ch
	t.mu.Unlock()
	return ch
}

// deliver hands data to the waiter for id. It reports false when nobody waits on id.
func (t *pendingTable) deliver(id int, data json.RawMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.waiting[id]
	if !ok {
		return false
	}
	select {
	case ch <- data:
	default:
		// A reply is already queued for this id; keep the first.
	}
	return true
}

func (t *pendingTable) remove(id int) {
	t.mu.Lock()
	delete(t.waiting, id)
	t.mu.Unlock()
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiting)
}
