// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package fetch

import (
	"container/heap"
	"sync"
)

// requestHeap orders requests by priority, then by arrival.
type requestHeap []*request

var _ heap.Interface = &requestHeap{}

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	r := x.(*request)
	r.index = len(*h)
	*h = append(*h, r)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}

// workQueue is a blocking priority queue of requests.
type workQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  requestHeap
	closed bool
}

// push queues r. It returns false if the queue is closed.
func (q *workQueue) push(r *request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	heap.Push(&q.items, r)
	q.cond.Signal()
	return true
}

// pop blocks until a request is available. It returns false once the queue is closed.
func (q *workQueue) pop() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	return heap.Pop(&q.items).(*request), true
}

// remove drops r if it is still queued.
func (q *workQueue) remove(r *request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r.index < 0 || r.index >= len(q.items) || q.items[r.index] != r {
		return false
	}
	heap.Remove(&q.items, r.index)
	return true
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close wakes all waiters. Queued requests are dropped.
func (q *workQueue) close() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	dropped := []*request(q.items)
	q.items = nil
	for _, r := range dropped {
		r.index = -1
	}
	q.cond.Broadcast()
	return dropped
}

func newWorkQueue() *workQueue {
	q := &workQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}
