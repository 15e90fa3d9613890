package aggregate

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/spatweave/spatweave/internal/domain/feature"
	"github.com/spatweave/spatweave/internal/domain/neighbors"
)

// crossGraph places observation 0 in the middle of four neighbors sitting
// east, north, west and south of it at unit distance. Rows 1..4 get filler
// neighbor lists so every row is complete.
func crossGraph() *neighbors.Graph {
	ids := []string{"center", "east", "north", "west", "south"}
	g := &neighbors.Graph{
		IDs: ids,
		K:   4,
		Neighbors: [][]int{
			{1, 2, 3, 4},
			{0, 2, 3, 4},
			{0, 1, 3, 4},
			{0, 1, 2, 4},
			{0, 1, 2, 3},
		},
		Bearings: [][]float64{
			{0, math.Pi / 2, math.Pi, 3 * math.Pi / 2},
			{0, 0, 0, 0},
			{0, 0, 0, 0},
			{0, 0, 0, 0},
			{0, 0, 0, 0},
		},
	}
	g.Dists = make([][]float64, len(ids))
	for i := range g.Dists {
		g.Dists[i] = []float64{1, 1, 1, 1}
	}
	return g
}

func crossFeatures(center, east, north, west, south float64) *feature.Matrix {
	data := mat.NewDense(5, 1, []float64{center, east, north, west, south})
	return &feature.Matrix{
		IDs:   []string{"center", "east", "north", "west", "south"},
		Names: []string{"f"},
		Data:  data,
	}
}

func TestAggregateMean(t *testing.T) {
	g := crossGraph()
	feats := crossFeatures(10, 1, 2, 3, 4)

	mean, grad, err := Aggregate(feats, g, Options{})
	require.NoError(t, err)
	require.Nil(t, grad)

	assert.InDelta(t, 2.5, mean.At(0, 0), 1e-12, "mean of 1,2,3,4 excludes the center value")
	assert.Equal(t, feats.IDs, mean.IDs)
	assert.Equal(t, feats.Names, mean.Names)
}

func TestAggregateMeanLeavesInputAlone(t *testing.T) {
	g := crossGraph()
	feats := crossFeatures(10, 1, 2, 3, 4)
	before := feats.Clone()

	_, _, err := Aggregate(feats, g, Options{Gradient: true})
	require.NoError(t, err)
	require.Equal(t, before.Data.RawMatrix().Data, feats.Data.RawMatrix().Data)
}

func TestAggregateGradientHarmonics(t *testing.T) {
	g := crossGraph()

	cases := []struct {
		name       string
		feats      *feature.Matrix
		harmonic   int
		wantCenter float64
	}{
		// East-west dipole: first harmonic sees it, second cancels it.
		{name: "dipole m=1", feats: crossFeatures(0, 1, 0, -1, 0), harmonic: 1, wantCenter: 0.5},
		{name: "dipole m=2", feats: crossFeatures(0, 1, 0, -1, 0), harmonic: 2, wantCenter: 0},
		// Quadrupole (axes differ): second harmonic sees it, first cancels.
		{name: "quadrupole m=2", feats: crossFeatures(0, 1, -1, 1, -1), harmonic: 2, wantCenter: 1},
		{name: "quadrupole m=1", feats: crossFeatures(0, 1, -1, 1, -1), harmonic: 1, wantCenter: 0},
		// Constant field has no differences to project.
		{name: "constant", feats: crossFeatures(7, 7, 7, 7, 7), harmonic: 2, wantCenter: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, grad, err := Aggregate(tc.feats, g, Options{Gradient: true, Harmonic: tc.harmonic})
			require.NoError(t, err)
			require.NotNil(t, grad)
			assert.InDelta(t, tc.wantCenter, grad.At(0, 0), 1e-12)
		})
	}
}

func TestAggregateDefaultHarmonic(t *testing.T) {
	g := crossGraph()
	feats := crossFeatures(0, 1, -1, 1, -1)

	_, gradDefault, err := Aggregate(feats, g, Options{Gradient: true})
	require.NoError(t, err)
	_, gradSecond, err := Aggregate(feats, g, Options{Gradient: true, Harmonic: DefaultHarmonic})
	require.NoError(t, err)

	assert.Equal(t, gradSecond.Data.RawMatrix().Data, gradDefault.Data.RawMatrix().Data)
}

func TestAggregateOnBuiltGraph(t *testing.T) {
	// Integration with a real graph: a constant feature field aggregates to
	// the same constant and carries zero gradient everywhere.
	n, k := 60, 6
	ids := make([]string, n)
	coords := make([][2]float64, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("obs%03d", i)
		coords[i] = [2]float64{float64(i % 10), float64(i / 10)}
	}
	g, err := neighbors.Build(ids, coords, k, neighbors.Options{})
	require.NoError(t, err)

	data := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		data.Set(i, 0, 3.25)
		data.Set(i, 1, -1.5)
	}
	feats := &feature.Matrix{IDs: ids, Names: []string{"a", "b"}, Data: data}

	mean, grad, err := Aggregate(feats, g, Options{Gradient: true})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		assert.InDelta(t, 3.25, mean.At(i, 0), 1e-12)
		assert.InDelta(t, -1.5, mean.At(i, 1), 1e-12)
		assert.InDelta(t, 0, grad.At(i, 0), 1e-12)
		assert.InDelta(t, 0, grad.At(i, 1), 1e-12)
	}
}

func TestAggregateShapeChecks(t *testing.T) {
	g := crossGraph()

	t.Run("row count", func(t *testing.T) {
		short := &feature.Matrix{
			IDs:   []string{"center", "east"},
			Names: []string{"f"},
			Data:  mat.NewDense(2, 1, []float64{1, 2}),
		}
		_, _, err := Aggregate(short, g, Options{})
		var mismatch *feature.ShapeMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, 5, mismatch.Want)
		assert.Equal(t, 2, mismatch.Got)
	})

	t.Run("row order", func(t *testing.T) {
		swapped := crossFeatures(1, 2, 3, 4, 5)
		swapped.IDs = []string{"east", "center", "north", "west", "south"}
		_, _, err := Aggregate(swapped, g, Options{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "in features but")
	})
}
