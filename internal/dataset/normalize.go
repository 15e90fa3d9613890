package dataset

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultNormalizeScale is the per-observation total the counts are scaled to
// before log1p when no scale is configured.
const DefaultNormalizeScale = 1e4

// FilterByPercentile returns a dataset keeping only observations whose total
// counts fall inside the [lo, hi] percentile band, inclusive. Percentiles are
// expressed in 0..100.
func (d *Dataset) FilterByPercentile(lo, hi float64) (*Dataset, error) {
	if lo < 0 || hi > 100 || lo >= hi {
		return nil, fmt.Errorf("dataset: bad percentile band [%v, %v]", lo, hi)
	}
	counts, ok := d.Layers[LayerCounts]
	if !ok {
		return nil, fmt.Errorf("dataset: layer %q not present", LayerCounts)
	}

	n := d.Rows()
	totals := make([]float64, n)
	for i := 0; i < n; i++ {
		row := counts.RawRowView(i)
		for _, v := range row {
			totals[i] += v
		}
	}

	loVal := percentile(totals, lo)
	hiVal := percentile(totals, hi)
	keep := make([]int, 0, n)
	for i, t := range totals {
		if t >= loVal && t <= hiVal {
			keep = append(keep, i)
		}
	}

	log.Debug().
		Int("before", n).
		Int("after", len(keep)).
		Float64("lo_total", loVal).
		Float64("hi_total", hiVal).
		Msg("percentile filter applied")
	return d.subsetRows(keep), nil
}

// percentile returns the p-th percentile of values by the nearest-rank
// method.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// LogNormalize returns a dataset with an added lognorm layer: every
// observation's counts are scaled to the given total and log1p-transformed.
// A non-positive scale selects DefaultNormalizeScale. Observations with zero
// total counts stay zero.
func (d *Dataset) LogNormalize(scale float64) (*Dataset, error) {
	if scale <= 0 {
		scale = DefaultNormalizeScale
	}
	counts, ok := d.Layers[LayerCounts]
	if !ok {
		return nil, fmt.Errorf("dataset: layer %q not present", LayerCounts)
	}

	n, c := counts.Dims()
	out := mat.NewDense(n, c, nil)
	zeroRows := 0
	for i := 0; i < n; i++ {
		row := counts.RawRowView(i)
		total := 0.0
		for _, v := range row {
			total += v
		}
		if total == 0 {
			zeroRows++
			continue
		}
		factor := scale / total
		dst := out.RawRowView(i)
		for j, v := range row {
			dst[j] = math.Log1p(v * factor)
		}
	}
	if zeroRows > 0 {
		log.Warn().Int("rows", zeroRows).Msg("observations with zero total counts left unnormalized")
	}

	return d.withLayer(LayerLogNorm, out), nil
}

// VariableFeatures ranks features by dispersion (variance over mean) of the
// counts layer and returns the top n names. Ties break by feature name so the
// ranking is reproducible.
func (d *Dataset) VariableFeatures(n int) []string {
	counts, ok := d.Layers[LayerCounts]
	if !ok {
		return nil
	}
	if n <= 0 || n > len(d.Features) {
		n = len(d.Features)
	}

	type ranked struct {
		name string
		disp float64
	}
	rows := d.Rows()
	col := make([]float64, rows)
	ranking := make([]ranked, len(d.Features))
	for j, name := range d.Features {
		mat.Col(col, j, counts)
		mean := stat.Mean(col, nil)
		disp := 0.0
		if mean > 0 {
			disp = stat.Variance(col, nil) / mean
		}
		ranking[j] = ranked{name: name, disp: disp}
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].disp != ranking[j].disp {
			return ranking[i].disp > ranking[j].disp
		}
		return ranking[i].name < ranking[j].name
	})

	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = ranking[i].name
	}
	return names
}
