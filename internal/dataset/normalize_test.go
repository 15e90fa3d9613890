package dataset

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func countsDataset(ids []string, features []string, values []float64) *Dataset {
	coords := make([][2]float64, len(ids))
	for i := range coords {
		coords[i] = [2]float64{float64(i), 0}
	}
	return &Dataset{
		IDs:      ids,
		Features: features,
		Layers:   map[string]*mat.Dense{LayerCounts: mat.NewDense(len(ids), len(features), values)},
		Coords:   coords,
		Meta:     map[string][]string{},
	}
}

func TestFilterByPercentile(t *testing.T) {
	n := 10
	ids := make([]string, n)
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("c%d", i+1)
		values[i] = float64(i + 1)
	}
	ds := countsDataset(ids, []string{"total"}, values)

	out, err := ds.FilterByPercentile(20, 80)
	require.NoError(t, err)

	// Nearest-rank percentiles of totals 1..10: p20 is 2, p80 is 8.
	assert.Equal(t, []string{"c2", "c3", "c4", "c5", "c6", "c7", "c8"}, out.IDs)
	assert.Equal(t, [][2]float64{{1, 0}, {2, 0}, {3, 0}, {4, 0}, {5, 0}, {6, 0}, {7, 0}}, out.Coords)

	assert.Equal(t, n, ds.Rows(), "filtering must not touch the source dataset")
	assert.Equal(t, 1.0, ds.Layers[LayerCounts].At(0, 0))
}

func TestFilterByPercentileBadBand(t *testing.T) {
	ds := countsDataset([]string{"c1"}, []string{"g"}, []float64{1})

	for _, band := range [][2]float64{{-1, 90}, {10, 101}, {60, 40}, {50, 50}} {
		_, err := ds.FilterByPercentile(band[0], band[1])
		assert.Error(t, err, "band %v", band)
	}
}

func TestLogNormalize(t *testing.T) {
	ds := countsDataset(
		[]string{"c1", "c2"},
		[]string{"geneA", "geneB"},
		[]float64{
			1, 3,
			0, 0,
		},
	)

	out, err := ds.LogNormalize(8)
	require.NoError(t, err)

	lognorm, err := out.Layer(LayerLogNorm)
	require.NoError(t, err)

	// Row c1 totals 4, so scaling to 8 doubles each count before log1p.
	assert.InDelta(t, math.Log1p(2), lognorm.At(0, 0), 1e-12)
	assert.InDelta(t, math.Log1p(6), lognorm.At(0, 1), 1e-12)

	assert.Equal(t, 0.0, lognorm.At(1, 0), "zero-total observations stay zero")
	assert.Equal(t, 0.0, lognorm.At(1, 1))

	assert.Same(t, ds.Layers[LayerCounts], out.Layers[LayerCounts], "counts layer is shared, not copied")
	_, hasLogNorm := ds.Layers[LayerLogNorm]
	assert.False(t, hasLogNorm, "normalization must not touch the source dataset")
}

func TestLogNormalizeDefaultScale(t *testing.T) {
	ds := countsDataset([]string{"c1"}, []string{"geneA"}, []float64{5})

	out, err := ds.LogNormalize(0)
	require.NoError(t, err)

	lognorm := out.Layers[LayerLogNorm]
	assert.InDelta(t, math.Log1p(DefaultNormalizeScale), lognorm.At(0, 0), 1e-9)
}

func TestVariableFeatures(t *testing.T) {
	// flat has zero variance, mild a small dispersion, wild a large one.
	ds := countsDataset(
		[]string{"c1", "c2", "c3", "c4"},
		[]string{"flat", "mild", "wild"},
		[]float64{
			5, 4, 1,
			5, 5, 2,
			5, 6, 30,
			5, 5, 3,
		},
	)

	assert.Equal(t, []string{"wild", "mild", "flat"}, ds.VariableFeatures(3))
	assert.Equal(t, []string{"wild"}, ds.VariableFeatures(1))
	assert.Len(t, ds.VariableFeatures(0), 3, "non-positive n selects every feature")
	assert.Len(t, ds.VariableFeatures(10), 3)
}

func TestVariableFeaturesTieBreak(t *testing.T) {
	ds := countsDataset(
		[]string{"c1", "c2"},
		[]string{"zeta", "alpha"},
		[]float64{
			2, 2,
			4, 4,
		},
	)

	assert.Equal(t, []string{"alpha", "zeta"}, ds.VariableFeatures(2))
}
