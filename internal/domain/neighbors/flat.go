package neighbors

import (
	"container/heap"
	"sort"
)

// candHeap is a max-heap under the (distance, id) candidate order: the worst
// kept candidate sits at the root so a bounded stream of pushes retains the k
// best seen so far.
type candHeap []cand

func (h candHeap) Len() int           { return len(h) }
func (h candHeap) Less(i, j int) bool { return candLess(h[j], h[i]) }
func (h candHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *candHeap) Push(x interface{}) {
	*h = append(*h, x.(cand))
}

func (h *candHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// flatSearch scans every same-group pair and keeps the k nearest per row.
// Exact and allocation-light; the default below flatScanLimit group members.
func flatSearch(ids []string, coords [][2]float64, k int, rows []int) [][]cand {
	out := make([][]cand, len(rows))
	for li, row := range rows {
		h := make(candHeap, 0, k)
		for _, other := range rows {
			if other == row {
				continue
			}
			dx := coords[other][0] - coords[row][0]
			dy := coords[other][1] - coords[row][1]
			c := cand{row: other, id: ids[other], d2: dx*dx + dy*dy}
			if h.Len() < k {
				heap.Push(&h, c)
			} else if candLess(c, h[0]) {
				heap.Pop(&h)
				heap.Push(&h, c)
			}
		}
		list := make([]cand, len(h))
		copy(list, h)
		sort.Slice(list, func(i, j int) bool { return candLess(list[i], list[j]) })
		out[li] = list
	}
	return out
}
