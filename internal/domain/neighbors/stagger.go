package neighbors

import (
	"math"
	"sort"
)

// defaultGapFraction sizes the automatic inter-group gap relative to the
// widest group.
const defaultGapFraction = 0.05

// Stagger returns a copy of coords with each group translated along the x
// axis so groups sit side by side, left to right in sorted label order. The
// result is plotting metadata only. Staggered coordinates must never be fed
// back into neighbor search: the translation changes inter-group distances,
// and a graph built on them would silently mix neighborhoods that the true
// coordinates keep apart. Build therefore only ever accepts the original
// coordinates; this function does not touch the graph.
//
// A gap of zero or less selects an automatic gap of defaultGapFraction times
// the widest group extent.
func Stagger(coords [][2]float64, groups []string, gap float64) [][2]float64 {
	out := make([][2]float64, len(coords))
	copy(out, coords)
	if groups == nil || len(coords) == 0 {
		return out
	}

	type span struct {
		min, max float64
		rows     []int
	}
	spans := make(map[string]*span)
	labels := make([]string, 0)
	for i, label := range groups {
		s, ok := spans[label]
		if !ok {
			s = &span{min: coords[i][0], max: coords[i][0]}
			spans[label] = s
			labels = append(labels, label)
		}
		s.min = math.Min(s.min, coords[i][0])
		s.max = math.Max(s.max, coords[i][0])
		s.rows = append(s.rows, i)
	}
	sort.Strings(labels)

	if gap <= 0 {
		widest := 0.0
		for _, label := range labels {
			widest = math.Max(widest, spans[label].max-spans[label].min)
		}
		gap = widest * defaultGapFraction
		if gap == 0 {
			gap = 1
		}
	}

	cursor := 0.0
	for _, label := range labels {
		s := spans[label]
		for _, i := range s.rows {
			out[i][0] = coords[i][0] - s.min + cursor
		}
		cursor += (s.max - s.min) + gap
	}
	return out
}
