package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/danmuck/profpipe/internal/protocol"
)

var (
	ErrQueueEmpty   = errors.New("dispatch: queue wait timed out")
	ErrQueueStopped = errors.New("dispatch: queue wait cancelled")
)

// Queue is a FIFO of packets. Push never blocks; Pop waits for a packet, a
// deadline or a cancel signal.
type Queue struct {
	mu     sync.Mutex
	items  []protocol.Packet
	notify chan struct{}
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push hands ownership of p to the queue and wakes one waiter.
func (q *Queue) Push(p protocol.Packet) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
	q.signal()
}

// TryPop removes the oldest packet without waiting.
func (q *Queue) TryPop() (protocol.Packet, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return protocol.Packet{}, false
	}
	p := q.items[0]
	q.items[0] = protocol.Packet{}
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// pass the wakeup on so a second waiter does not sleep on a
		// non-empty queue
		q.signal()
	}
	return p, true
}

// Pop waits for the oldest packet. A negative timeout waits indefinitely. A
// nil cancel channel never fires.
func (q *Queue) Pop(timeout time.Duration, cancel <-chan struct{}) (protocol.Packet, error) {
	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		if p, ok := q.TryPop(); ok {
			return p, nil
		}
		select {
		case <-q.notify:
		case <-cancel:
			return protocol.Packet{}, ErrQueueStopped
		case <-deadline:
			if p, ok := q.TryPop(); ok {
				return p, nil
			}
			return protocol.Packet{}, ErrQueueEmpty
		}
	}
}

// Drain pops every queued packet without handing it to anyone and reports
// how many were discarded.
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	for i := range q.items {
		q.items[i] = protocol.Packet{}
	}
	q.items = q.items[:0]
	return n
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake unblocks one waiter without queueing anything.
func (q *Queue) Wake() {
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
