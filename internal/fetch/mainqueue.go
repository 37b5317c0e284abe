// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package fetch

import "sync"

// Deliverer runs completions. Implementations must run them one at a time and in submission order.
type Deliverer interface {
	Deliver(fn func())
}

// MainQueue runs submitted functions sequentially on a single goroutine.
type MainQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []func()
	closed  bool
	done    chan struct{}
}

var _ Deliverer = &MainQueue{}

// Deliver queues fn. It never blocks on fn. Functions delivered after Close are dropped.
func (q *MainQueue) Deliver(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, fn)
	q.cond.Signal()
}

// Close runs the pending functions and stops the queue.
func (q *MainQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

func (q *MainQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
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

// NewMainQueue creates a started main queue.
func NewMainQueue() *MainQueue {
	q := &MainQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}
