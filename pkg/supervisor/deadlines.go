package supervisor

import (
	"container/heap"
	"time"

	"github.com/jrepp/prism-supervisor/pkg/procmgr"
)

// deadlineQueue holds shutdown deadlines for children that were sent a
// graceful signal. The earliest deadline bounds the next wait.
type deadlineQueue struct {
	items deadlineHeap
	index map[procmgr.ProcessID]*deadline
}

// deadline is one pending forceful kill
type deadline struct {
	pid   procmgr.ProcessID
	at    time.Time
	index int
}

// deadlineHeap implements heap.Interface
type deadlineHeap []*deadline

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool {
	return h[i].at.Before(h[j].at)
}

func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x interface{}) {
	item := x.(*deadline)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *deadlineHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func newDeadlineQueue() *deadlineQueue {
	return &deadlineQueue{index: make(map[procmgr.ProcessID]*deadline)}
}

// set adds a deadline for pid, keeping the earlier one if already present
func (q *deadlineQueue) set(pid procmgr.ProcessID, at time.Time) {
	if existing, ok := q.index[pid]; ok {
		if at.Before(existing.at) {
			existing.at = at
			heap.Fix(&q.items, existing.index)
		}
		return
	}
	d := &deadline{pid: pid, at: at}
	heap.Push(&q.items, d)
	q.index[pid] = d
}

// remove drops the deadline for pid
func (q *deadlineQueue) remove(pid procmgr.ProcessID) {
	d, ok := q.index[pid]
	if !ok {
		return
	}
	heap.Remove(&q.items, d.index)
	delete(q.index, pid)
}

// earliest returns the nearest deadline, or the zero time when none is pending
func (q *deadlineQueue) earliest() time.Time {
	if len(q.items) == 0 {
		return time.Time{}
	}
	return q.items[0].at
}

// expired pops every deadline at or before now
func (q *deadlineQueue) expired(now time.Time) []procmgr.ProcessID {
	var out []procmgr.ProcessID
	for len(q.items) > 0 && !q.items[0].at.After(now) {
		d := heap.Pop(&q.items).(*deadline)
		delete(q.index, d.pid)
		out = append(out, d.pid)
	}
	return out
}

func (q *deadlineQueue) len() int {
	return len(q.items)
}
