// Package schedule provides a deadline queue holding at most one entry per key.
// Callers arm keys with absolute deadlines, wait on the earliest one, and pop
// whatever is due.
package schedule

import (
	"container/heap"
	"time"
)

type entry struct {
	key      string
	deadline time.Time
	seq      uint64
	index    int
}

// Queue orders keys by deadline. Keys with equal deadlines pop in the order
// they were armed. Not safe for concurrent use.
type Queue struct {
	items entries
	byKey map[string]*entry
	seq   uint64
}

func NewQueue() *Queue {
	return &Queue{byKey: make(map[string]*entry)}
}

// Set arms key at deadline, replacing any existing entry for key.
func (q *Queue) Set(key string, deadline time.Time) {
	q.seq++
	if e, ok := q.byKey[key]; ok {
		e.deadline = deadline
		e.seq = q.seq
		heap.Fix(&q.items, e.index)
		return
	}
	e := &entry{key: key, deadline: deadline, seq: q.seq}
	heap.Push(&q.items, e)
	q.byKey[key] = e
}

// Remove disarms key. It reports whether an entry existed.
func (q *Queue) Remove(key string) bool {
	e, ok := q.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&q.items, e.index)
	delete(q.byKey, key)
	return true
}

// Deadline returns the armed deadline for key.
func (q *Queue) Deadline(key string) (time.Time, bool) {
	e, ok := q.byKey[key]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

func (q *Queue) Has(key string) bool {
	_, ok := q.byKey[key]
	return ok
}

func (q *Queue) Len() int {
	return len(q.items)
}

// Next returns the earliest deadline.
func (q *Queue) Next() (string, time.Time, bool) {
	if len(q.items) == 0 {
		return "", time.Time{}, false
	}
	e := q.items[0]
	return e.key, e.deadline, true
}

// PopDue removes and returns the earliest key if its deadline is at or before now.
func (q *Queue) PopDue(now time.Time) (string, bool) {
	if len(q.items) == 0 || q.items[0].deadline.After(now) {
		return "", false
	}
	e := heap.Pop(&q.items).(*entry)
	delete(q.byKey, e.key)
	return e.key, true
}

type entries []*entry

func (h entries) Len() int { return len(h) }

func (h entries) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h entries) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entries) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entries) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
