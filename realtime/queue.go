package realtime

import (
	"sync"

	"chat-sync/domain/event"
)

// sendQueue is the bounded FIFO holding outgoing frames until the drain
// worker writes them. When full, the oldest entry is evicted so recent
// traffic wins; the caller is told which frame was sacrificed.
type sendQueue struct {
	mu       sync.Mutex
	items    []event.Outbound
	capacity int
	notify   chan struct{}
}

func newSendQueue(capacity int) *sendQueue {
	return &sendQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends a frame and returns the evicted oldest entry when the
// queue was already full.
func (q *sendQueue) Push(out event.Outbound) *event.Outbound {
	q.mu.Lock()
	var evicted *event.Outbound
	if len(q.items) >= q.capacity {
		oldest := q.items[0]
		evicted = &oldest
		q.items = append(q.items[:0], q.items[1:]...)
	}
	q.items = append(q.items, out)
	q.mu.Unlock()

	q.wake()
	return evicted
}

// PushFront requeues a frame whose write failed mid-drain. The frame was
// already admitted once, so capacity is not re-checked: losing it here
// would break the exactly-once replay contract.
func (q *sendQueue) PushFront(out event.Outbound) {
	q.mu.Lock()
	q.items = append([]event.Outbound{out}, q.items...)
	q.mu.Unlock()
	q.wake()
}

func (q *sendQueue) Pop() (event.Outbound, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return event.Outbound{}, false
	}
	out := q.items[0]
	q.items = append(q.items[:0], q.items[1:]...)
	return out, true
}

func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait returns the wakeup channel signalled on every push.
func (q *sendQueue) Wait() <-chan struct{} {
	return q.notify
}

func (q *sendQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
