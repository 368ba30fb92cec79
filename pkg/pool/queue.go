package pool

import "container/heap"

// pendingQueue orders pending tasks by descending priority, FIFO within
// equal priority (seq is a monotonic arrival counter). It supports removal
// by task id for exact cancellation of queued work.
type pendingQueue struct {
	items []*pending
	seq   uint64
}

func (q *pendingQueue) push(p *pending) {
	q.seq++
	p.seq = q.seq
	heap.Push((*pendingHeap)(q), p)
}

// pop removes and returns the highest-priority pending task, or nil.
func (q *pendingQueue) pop() *pending {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop((*pendingHeap)(q)).(*pending)
}

// remove deletes the entry with the given task id, returning it, or nil if
// the id is not queued.
func (q *pendingQueue) remove(id string) *pending {
	for _, p := range q.items {
		if p.task.ID == id {
			heap.Remove((*pendingHeap)(q), p.heapIdx)
			return p
		}
	}
	return nil
}

func (q *pendingQueue) len() int { return len(q.items) }

// drain empties the queue and returns everything that was pending.
func (q *pendingQueue) drain() []*pending {
	out := q.items
	q.items = nil
	for _, p := range out {
		p.heapIdx = -1
	}
	return out
}

// pendingHeap adapts pendingQueue to container/heap.
type pendingHeap pendingQueue

func (h *pendingHeap) Len() int { return len(h.items) }

func (h *pendingHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority > b.task.Priority
	}
	return a.seq < b.seq
}

func (h *pendingHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIdx = i
	h.items[j].heapIdx = j
}

func (h *pendingHeap) Push(x any) {
	p := x.(*pending)
	p.heapIdx = len(h.items)
	h.items = append(h.items, p)
}

func (h *pendingHeap) Pop() any {
	old := h.items
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	p.heapIdx = -1
	return p
}
