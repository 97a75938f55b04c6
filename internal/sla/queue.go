package sla

import (
	"container/heap"
	"time"

	id "careverify/pkg/domain"
)

type entry struct {
	claimID  id.ClaimID
	deadline time.Time
}

// deadlineHeap orders entries by deadline, earliest first.
type deadlineHeap []entry

func (h deadlineHeap) Len() int { return len(h) }

func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h deadlineHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *deadlineHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// queue holds at most one live deadline per claim. Re-arming a claim leaves
// the old heap entry behind; it is skipped when popped.
type queue struct {
	heap  deadlineHeap
	armed map[id.ClaimID]time.Time
}

func newQueue() *queue {
	return &queue{armed: make(map[id.ClaimID]time.Time)}
}

func (q *queue) push(claimID id.ClaimID, deadline time.Time) {
	if current, ok := q.armed[claimID]; ok && current.Equal(deadline) {
		return
	}
	q.armed[claimID] = deadline
	heap.Push(&q.heap, entry{claimID: claimID, deadline: deadline})
}

// popDue removes and returns every live entry whose deadline is before now.
func (q *queue) popDue(now time.Time) []entry {
	var due []entry
	for q.heap.Len() > 0 {
		next := q.heap[0]
		if !now.After(next.deadline) {
			break
		}
		heap.Pop(&q.heap)
		if current, ok := q.armed[next.claimID]; !ok || !current.Equal(next.deadline) {
			continue
		}
		delete(q.armed, next.claimID)
		due = append(due, next)
	}
	return due
}

func (q *queue) reset(entries []entry) {
	q.heap = make(deadlineHeap, 0, len(entries))
	q.armed = make(map[id.ClaimID]time.Time, len(entries))
	for _, e := range entries {
		q.armed[e.claimID] = e.deadline
		q.heap = append(q.heap, e)
	}
	heap.Init(&q.heap)
}

func (q *queue) len() int { return len(q.armed) }

// next returns the earliest live deadline.
func (q *queue) next() (time.Time, bool) {
	for q.heap.Len() > 0 {
		head := q.heap[0]
		if current, ok := q.armed[head.claimID]; ok && current.Equal(head.deadline) {
			return head.deadline, true
		}
		heap.Pop(&q.heap)
	}
	return time.Time{}, false
}
