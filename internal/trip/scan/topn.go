package scan

import (
	"cmp"
	"container/heap"
	"slices"
)

type row struct {
	pickup   int64
	dropoff  int64
	distance float64
	fare     float64
}

// rowHeap is a max-heap on pickup time.
type rowHeap []row

func (h rowHeap) Len() int           { return len(h) }
func (h rowHeap) Less(i, j int) bool { return h[i].pickup > h[j].pickup }
func (h rowHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *rowHeap) Push(x any)        { *h = append(*h, x.(row)) }
func (h *rowHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topN keeps the limit rows with the earliest pickup seen so far.
type topN struct {
	limit int
	rows  rowHeap
}

func newTopN(limit int) *topN {
	capacity := limit
	if capacity > 4096 {
		capacity = 4096
	}
	return &topN{limit: limit, rows: make(rowHeap, 0, capacity)}
}

func (t *topN) offer(r row) {
	if t.limit <= 0 {
		return
	}
	if len(t.rows) < t.limit {
		heap.Push(&t.rows, r)
		return
	}
	if r.pickup < t.rows[0].pickup {
		t.rows[0] = r
		heap.Fix(&t.rows, 0)
	}
}

func (t *topN) full() bool { return t.limit > 0 && len(t.rows) >= t.limit }

// worst is the latest pickup currently retained. Only valid when full.
func (t *topN) worst() int64 { return t.rows[0].pickup }

func (t *topN) sorted() []row {
	out := slices.Clone([]row(t.rows))
	slices.SortFunc(out, func(a, b row) int { return cmp.Compare(a.pickup, b.pickup) })
	return out
}
