package node

import (
	"container/heap"

	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/message"
)

// requestQueue is a priority min-heap of pending peer requests, ordered by
// message.Priority, with no duplicate src and support for removal by src:
// a heap plus a src-indexed map of live entries, following the classic
// container/heap "update/remove by key" pattern from the standard
// library's own PriorityQueue example.
type requestQueue struct {
	items bySrc
	index map[int]*queueEntry
}

type queueEntry struct {
	priority message.Priority
	heapIdx  int
}

type bySrc []*queueEntry

func (q bySrc) Len() int { return len(q) }
func (q bySrc) Less(i, j int) bool {
	return q[i].priority.Less(q[j].priority)
}
func (q bySrc) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIdx = i
	q[j].heapIdx = j
}
func (q *bySrc) Push(x interface{}) {
	e := x.(*queueEntry)
	e.heapIdx = len(*q)
	*q = append(*q, e)
}
func (q *bySrc) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

func newRequestQueue() *requestQueue {
	return &requestQueue{index: make(map[int]*queueEntry)}
}

// Put inserts p, keyed by p.Src. If an entry for that src already exists
// it is replaced, so a src never appears twice.
func (q *requestQueue) Put(p message.Priority) {
	if e, ok := q.index[p.Src]; ok {
		e.priority = p
		heap.Fix(&q.items, e.heapIdx)
		return
	}
	e := &queueEntry{priority: p}
	heap.Push(&q.items, e)
	q.index[p.Src] = e
}

// Pop removes and returns the highest-priority entry. ok is false if the
// queue was empty.
func (q *requestQueue) Pop() (message.Priority, bool) {
	if q.items.Len() == 0 {
		return message.Priority{}, false
	}
	e := heap.Pop(&q.items).(*queueEntry)
	delete(q.index, e.priority.Src)
	return e.priority, true
}

// Remove deletes the entry for src, if any, and reports whether an entry
// was removed.
func (q *requestQueue) Remove(src int) bool {
	e, ok := q.index[src]
	if !ok {
		return false
	}
	heap.Remove(&q.items, e.heapIdx)
	delete(q.index, src)
	return true
}

func (q *requestQueue) Len() int {
	return q.items.Len()
}
