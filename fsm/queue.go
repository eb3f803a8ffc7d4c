package fsm

import "sync"

// BlockingQueue is the multi-producer single-consumer external event
// queue. Dequeue blocks until an event arrives or the queue is
// closed. The queue is unbounded: a slow session must never block
// its producers.
type BlockingQueue struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	data     []*Event
	closed   bool
}

func NewBlockingQueue() *BlockingQueue {
	q := &BlockingQueue{}
	q.nonEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue puts e last in the queue. Enqueue on a closed queue is a
// no-op (the consumer is gone).
func (q *BlockingQueue) Enqueue(e *Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.data = append(q.data, e)
	q.nonEmpty.Signal()
}

// Dequeue removes and returns the first element, blocking while the
// queue is empty. ok is false once the queue is closed and drained.
func (q *BlockingQueue) Dequeue() (ev *Event, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.data) == 0 && !q.closed {
		q.nonEmpty.Wait()
	}
	if len(q.data) == 0 {
		return nil, false
	}
	ev = q.data[0]
	q.data = q.data[1:]
	return ev, true
}

// Close wakes a blocked consumer; queued events remain readable.
func (q *BlockingQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.nonEmpty.Broadcast()
}
