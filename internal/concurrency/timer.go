// File: internal/concurrency/timer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One-shot timers kept in a min-heap ordered by deadline, then arm order.

package concurrency

import (
	"container/heap"
	"time"
)

type loopTimer struct {
	loop    *EventLoop
	when    time.Time
	seq     uint64
	fn      func()
	index   int // position in the heap, -1 once popped or removed
	stopped bool
	fired   bool
}

// Stop cancels the timer. It reports whether the fire was prevented.
func (t *loopTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	if t.index >= 0 {
		heap.Remove(&t.loop.timers, t.index)
		t.loop.queued.Add(-1)
	}
	return true
}

type timerHeap []*loopTimer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*loopTimer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
