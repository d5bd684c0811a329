package capture

import (
	"sync"
	"time"

	"firestige.xyz/harpoon/pkg/packet"
)

// packetQueue is the bounded FIFO between the capture thread and pull
// consumers. Push never blocks the capture thread: when full, the new
// packet is rejected and counted as a drop by the caller.
type packetQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*packet.Packet
	head   int
	count  int
	closed bool
}

func newPacketQueue(capacity int) *packetQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	q := &packetQueue{items: make([]*packet.Packet, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues p. Returns false when the queue is full or closed; the
// caller keeps ownership in that case.
func (q *packetQueue) push(p *packet.Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.count == len(q.items) {
		return false
	}
	q.items[(q.head+q.count)%len(q.items)] = p
	q.count++
	q.cond.Signal()
	return true
}

// pop dequeues one packet, blocking up to timeout. ok=false on expiry
// or close.
func (q *packetQueue) pop(timeout time.Duration) (*packet.Packet, bool) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count == 0 {
		if q.closed {
			return nil, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		waitCond(q.cond, remaining)
	}
	return q.takeLocked(), true
}

// popN dequeues up to max packets within timeout. Returns as soon as at
// least one packet is available.
func (q *packetQueue) popN(max int, timeout time.Duration) []*packet.Packet {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.count == 0 {
		if q.closed {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		waitCond(q.cond, remaining)
	}
	n := q.count
	if n > max {
		n = max
	}
	out := make([]*packet.Packet, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.takeLocked())
	}
	return out
}

func (q *packetQueue) takeLocked() *packet.Packet {
	p := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return p
}

// close wakes all waiters and releases queued packets.
func (q *packetQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for q.count > 0 {
		q.takeLocked().Release()
	}
	q.cond.Broadcast()
}

func (q *packetQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// waitCond waits on c with an upper bound. The timer broadcast wakes
// every waiter; each re-checks its own deadline.
func waitCond(c *sync.Cond, d time.Duration) {
	t := time.AfterFunc(d, c.Broadcast)
	c.Wait()
	t.Stop()
}
