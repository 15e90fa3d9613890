// Package neighbors builds k-nearest-neighbor graphs over 2D observation
// coordinates. When group labels are supplied, neighbor search runs
// independently per group and never crosses a group boundary.
package neighbors

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Backend selects the neighbor search implementation.
type Backend string

const (
	// BackendAuto picks per group: flat scan for small groups, kd-tree above
	// flatScanLimit members.
	BackendAuto Backend = "auto"
	// BackendFlat scans every same-group pair, keeping the k best on a heap.
	BackendFlat Backend = "flat"
	// BackendKDTree searches a kd-tree built per group.
	BackendKDTree Backend = "kdtree"
)

const flatScanLimit = 2048

// Graph holds, per observation, the k nearest same-group observations ordered
// nearest first. Edge distances and bearing angles are captured on the true
// coordinates at build time so later stages never re-touch coordinates.
type Graph struct {
	IDs       []string
	K         int
	Neighbors [][]int
	Dists     [][]float64
	Bearings  [][]float64
}

// Options tunes Build. The zero value means a single neighborhood space, one
// worker per CPU and automatic backend choice.
type Options struct {
	Groups  []string
	Workers int
	Backend Backend
}

// InsufficientNeighborsError reports a group too small to supply k neighbors
// to each of its members.
type InsufficientNeighborsError struct {
	Group string
	Size  int
	K     int
}

func (e *InsufficientNeighborsError) Error() string {
	scope := "dataset"
	if e.Group != "" {
		scope = fmt.Sprintf("group %q", e.Group)
	}
	return fmt.Sprintf("insufficient neighbors: %s has %d observations, k=%d requires at least %d", scope, e.Size, e.K, e.K+1)
}

// cand is one neighbor candidate. Candidates order by squared distance with
// equal distances broken by observation identifier, so repeated builds over
// the same input always produce the same lists.
type cand struct {
	row int
	id  string
	d2  float64
}

func candLess(a, b cand) bool {
	if a.d2 != b.d2 {
		return a.d2 < b.d2
	}
	return a.id < b.id
}

type groupPart struct {
	label string
	rows  []int
}

// Build constructs the neighbor graph. Every observation receives exactly k
// neighbors from its own group, no self-loops. Groups with fewer than k+1
// members fail with InsufficientNeighborsError before any search starts.
func Build(ids []string, coords [][2]float64, k int, opts Options) (*Graph, error) {
	n := len(ids)
	if len(coords) != n {
		return nil, fmt.Errorf("neighbors: %d ids but %d coordinates", n, len(coords))
	}
	if k <= 0 {
		return nil, fmt.Errorf("neighbors: k must be positive, got %d", k)
	}
	if opts.Groups != nil && len(opts.Groups) != n {
		return nil, fmt.Errorf("neighbors: %d ids but %d group labels", n, len(opts.Groups))
	}
	seen := make(map[string]int, n)
	for i, id := range ids {
		if first, dup := seen[id]; dup {
			return nil, fmt.Errorf("neighbors: duplicate observation id %q at rows %d and %d", id, first, i)
		}
		seen[id] = i
	}

	parts := partition(opts.Groups, n)
	for _, p := range parts {
		if len(p.rows) < k+1 {
			return nil, &InsufficientNeighborsError{Group: p.label, Size: len(p.rows), K: k}
		}
	}

	g := &Graph{
		IDs:       ids,
		K:         k,
		Neighbors: make([][]int, n),
		Dists:     make([][]float64, n),
		Bearings:  make([][]float64, n),
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(parts) {
		workers = len(parts)
	}

	// Group searches are independent and write disjoint row ranges of the
	// graph, so workers need no locking; output is identical regardless of
	// completion order.
	jobs := make(chan groupPart, len(parts))
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				searchGroup(g, ids, coords, k, p, opts.Backend)
			}
		}()
	}
	for _, p := range parts {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	log.Debug().
		Int("observations", n).
		Int("groups", len(parts)).
		Int("k", k).
		Msg("neighbor graph built")
	return g, nil
}

// partition splits row indices by group label, labels sorted for a stable
// work order. A nil label slice yields one part covering every row.
func partition(groups []string, n int) []groupPart {
	if groups == nil {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return []groupPart{{rows: rows}}
	}
	byLabel := make(map[string][]int)
	labels := make([]string, 0)
	for i, label := range groups {
		if _, ok := byLabel[label]; !ok {
			labels = append(labels, label)
		}
		byLabel[label] = append(byLabel[label], i)
	}
	sort.Strings(labels)
	parts := make([]groupPart, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, groupPart{label: label, rows: byLabel[label]})
	}
	return parts
}

func searchGroup(g *Graph, ids []string, coords [][2]float64, k int, p groupPart, backend Backend) {
	use := backend
	if use == "" || use == BackendAuto {
		if len(p.rows) > flatScanLimit {
			use = BackendKDTree
		} else {
			use = BackendFlat
		}
	}

	var lists [][]cand
	if use == BackendKDTree {
		lists = kdtreeSearch(ids, coords, k, p.rows)
	} else {
		lists = flatSearch(ids, coords, k, p.rows)
	}

	for li, row := range p.rows {
		nbr := make([]int, k)
		dist := make([]float64, k)
		bear := make([]float64, k)
		for j, c := range lists[li] {
			nbr[j] = c.row
			dist[j] = math.Sqrt(c.d2)
			bear[j] = math.Atan2(coords[c.row][1]-coords[row][1], coords[c.row][0]-coords[row][0])
		}
		g.Neighbors[row] = nbr
		g.Dists[row] = dist
		g.Bearings[row] = bear
	}

	log.Debug().
		Str("group", p.label).
		Int("size", len(p.rows)).
		Str("backend", string(use)).
		Msg("group neighbor search done")
}
