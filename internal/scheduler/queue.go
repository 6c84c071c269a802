package scheduler

import (
	"container/heap"
	"sync"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

// Mode selects the queue's ordering discipline.
type Mode string

const (
	ModeFIFO     Mode = "fifo"
	ModePriority Mode = "priority"
)

// item wraps a QueuedWorkOrder with the insertion sequence needed to break
// ties deterministically (earlier insertion wins for equal priority/time).
type item struct {
	wo  workorder.QueuedWorkOrder
	seq int64
}

// priorityHeap orders by priority (desc) then insertion sequence (asc) in
// priority mode, or by submission time (asc) then insertion sequence (asc)
// in FIFO mode - mode lives on the heap itself so Less needs no outside
// context to stay a pure ordering relation for container/heap.
type priorityHeap struct {
	items []*item
	mode  Mode
}

func (h priorityHeap) Len() int { return len(h.items) }
func (h priorityHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if h.mode == ModeFIFO {
		if !a.wo.SubmittedAt.Equal(b.wo.SubmittedAt) {
			return a.wo.SubmittedAt.Before(b.wo.SubmittedAt)
		}
		return a.seq < b.seq
	}
	if a.wo.Priority != b.wo.Priority {
		return a.wo.Priority > b.wo.Priority
	}
	return a.seq < b.seq
}
func (h priorityHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *priorityHeap) Push(x any)   { h.items = append(h.items, x.(*item)) }
func (h *priorityHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return it
}

// Queue is a thread-safe admission queue, either FIFO by submission time or
// a max-heap by priority with FIFO tie-break.
type Queue struct {
	mu       sync.Mutex
	mode     Mode
	h        priorityHeap
	seq      int64
	maxDepth int
}

// NewQueue constructs a Queue in the given mode with a maximum depth. A
// maxDepth <= 0 means unbounded.
func NewQueue(mode Mode, maxDepth int) *Queue {
	return &Queue{mode: mode, maxDepth: maxDepth, h: priorityHeap{mode: mode}}
}

// Enqueue inserts qwo, returning false if the queue is at maxDepth.
func (q *Queue) Enqueue(wo workorder.QueuedWorkOrder) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxDepth > 0 && len(q.h.items) >= q.maxDepth {
		return false
	}

	if q.mode == ModeFIFO {
		wo.Priority = 0
	}

	q.seq++
	heap.Push(&q.h, &item{wo: wo, seq: q.seq})
	return true
}

// Peek returns the head without removing it, or false if empty.
func (q *Queue) Peek() (workorder.QueuedWorkOrder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h.items) == 0 {
		return workorder.QueuedWorkOrder{}, false
	}
	return q.h.items[0].wo, true
}

// Dequeue removes and returns the head, or false if empty.
func (q *Queue) Dequeue() (workorder.QueuedWorkOrder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h.items) == 0 {
		return workorder.QueuedWorkOrder{}, false
	}
	it := heap.Pop(&q.h).(*item)
	return it.wo, true
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h.items)
}

// Position returns the 1-based position of id in the queue and the count of
// entries ahead of it, or false if id is not present.
func (q *Queue) Position(id string) (position int, ahead int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ordered := make([]*item, len(q.h.items))
	copy(ordered, q.h.items)
	// Sort a copy by the same Less relation without mutating the live heap.
	cmp := priorityHeap{items: ordered, mode: q.mode}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && cmp.Less(j, j-1); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	for i, it := range ordered {
		if it.wo.ID == id {
			return i + 1, i, true
		}
	}
	return 0, 0, false
}
