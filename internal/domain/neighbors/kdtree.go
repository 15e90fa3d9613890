package neighbors

import (
	"container/heap"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// obsPoint is a 2D coordinate carrying its dataset row so search results map
// back without a positional lookup.
type obsPoint struct {
	x, y float64
	row  int
}

// Compare implements kdtree.Comparable.
func (p obsPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(obsPoint)
	switch d {
	case 0:
		return p.x - q.x
	default:
		return p.y - q.y
	}
}

// Dims returns the coordinate dimensionality.
func (p obsPoint) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points.
func (p obsPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(obsPoint)
	dx := p.x - q.x
	dy := p.y - q.y
	return dx*dx + dy*dy
}

// obsPoints satisfies kdtree.Interface.
type obsPoints []obsPoint

func (p obsPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p obsPoints) Len() int                              { return len(p) }
func (p obsPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p obsPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(obsPlane{obsPoints: p, Dim: d}, kdtree.MedianOfRandoms(obsPlane{obsPoints: p, Dim: d}, 100))
}

// obsPlane implements sort.Interface and kdtree.SortSlicer for obsPoints.
type obsPlane struct {
	obsPoints
	kdtree.Dim
}

func (p obsPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.obsPoints[i].x < p.obsPoints[j].x
	default:
		return p.obsPoints[i].y < p.obsPoints[j].y
	}
}

func (p obsPlane) Slice(start, end int) kdtree.SortSlicer {
	return obsPlane{obsPoints: p.obsPoints[start:end], Dim: p.Dim}
}

func (p obsPlane) Swap(i, j int) {
	p.obsPoints[i], p.obsPoints[j] = p.obsPoints[j], p.obsPoints[i]
}

// kdtreeSearch finds the k nearest same-group rows per row. A first pass with
// an NKeeper yields the k-th neighbor distance; a second pass with a
// DistKeeper collects every candidate at or inside that distance, so
// equal-distance candidates all survive to the final (distance, id) sort and
// the result matches flatSearch exactly.
func kdtreeSearch(ids []string, coords [][2]float64, k int, rows []int) [][]cand {
	pts := make(obsPoints, len(rows))
	for i, row := range rows {
		pts[i] = obsPoint{x: coords[row][0], y: coords[row][1], row: row}
	}
	tree := kdtree.New(pts, true)

	out := make([][]cand, len(rows))
	for li, row := range rows {
		q := obsPoint{x: coords[row][0], y: coords[row][1], row: row}

		// The query point itself is in the tree at distance zero, so k+1
		// kept points bound the k-th true neighbor distance from above.
		keep := kdtree.NewNKeeper(k + 1)
		tree.NearestSet(keep, q)
		bound := keep.Heap[0].Dist

		within := kdtree.NewDistKeeper(bound)
		tree.NearestSet(within, q)

		list := make([]cand, 0, within.Len())
		for within.Len() > 0 {
			item := heap.Pop(within).(kdtree.ComparableDist)
			p, ok := item.Comparable.(obsPoint)
			if !ok || p.row == row {
				continue
			}
			list = append(list, cand{row: p.row, id: ids[p.row], d2: item.Dist})
		}
		sort.Slice(list, func(i, j int) bool { return candLess(list[i], list[j]) })
		out[li] = list[:k]
	}
	return out
}
