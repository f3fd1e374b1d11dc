package bridge

import "sync"

// eventQueue runs deliveries one at a time in the order they were pushed.
// The draining goroutine exists only while work is queued, so an idle
// Bridge holds no goroutine.
type eventQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

// push never blocks and may be called with other locks held.
func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.drain()
}

func (q *eventQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}
