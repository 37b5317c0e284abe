// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newQueued(key string, p Priority, seq uint64) *request {
	return &request{key: key, priority: p, seq: seq, index: -1}
}

func TestWorkQueueOrder(t *testing.T) {
	q := newWorkQueue()
	require.True(t, q.push(newQueued("low", PriorityLow, 1)))
	require.True(t, q.push(newQueued("normal-1", PriorityNormal, 2)))
	require.True(t, q.push(newQueued("high-1", PriorityHigh, 3)))
	require.True(t, q.push(newQueued("normal-2", PriorityNormal, 4)))
	require.True(t, q.push(newQueued("high-2", PriorityHigh, 5)))
	require.Equal(t, 5, q.len())

	var got []string
	for q.len() > 0 {
		r, ok := q.pop()
		require.True(t, ok)
		require.Equal(t, -1, r.index)
		got = append(got, r.key)
	}
	require.Equal(t, []string{"high-1", "high-2", "normal-1", "normal-2", "low"}, got)
}

func TestWorkQueueRemove(t *testing.T) {
	q := newWorkQueue()
	a := newQueued("a", PriorityNormal, 1)
	b := newQueued("b", PriorityNormal, 2)
	c := newQueued("c", PriorityNormal, 3)
	q.push(a)
	q.push(b)
	q.push(c)

	require.True(t, q.remove(b))
	require.False(t, q.remove(b))
	require.Equal(t, 2, q.len())

	r, _ := q.pop()
	require.Same(t, a, r)
	require.False(t, q.remove(a))
	r, _ = q.pop()
	require.Same(t, c, r)
}

func TestWorkQueueClose(t *testing.T) {
	q := newWorkQueue()

	popped := make(chan bool)
	go func() {
		_, ok := q.pop()
		popped <- ok
	}()

	select {
	case <-popped:
		t.Fatal("pop returned on an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	q.push(newQueued("a", PriorityNormal, 1))
	require.True(t, <-popped)

	q.push(newQueued("b", PriorityNormal, 2))
	dropped := q.close()
	require.Len(t, dropped, 1)
	require.Equal(t, "b", dropped[0].key)

	_, ok := q.pop()
	require.False(t, ok)
	require.False(t, q.push(newQueued("c", PriorityNormal, 3)))
}

func TestMainQueueRunsInOrder(t *testing.T) {
	q := NewMainQueue()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		q.Deliver(func() { got = append(got, i) })
	}
	q.Close()

	require.Len(t, got, 100)
	for i, v := range got {
		require.Equal(t, i, v)
	}

	// Deliveries after Close are dropped.
	q.Deliver(func() { t.Fatal("delivered after close") })
}
