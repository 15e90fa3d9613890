// Package aggregate derives neighborhood expression profiles from a feature
// matrix and a neighbor graph: the unweighted mean over each observation's k
// neighbors and, optionally, an azimuthal gradient magnitude capturing local
// directional asymmetry of expression around the observation.
package aggregate

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/spatweave/spatweave/internal/domain/feature"
	"github.com/spatweave/spatweave/internal/domain/neighbors"
)

// DefaultHarmonic is the azimuthal harmonic order used when Options.Harmonic
// is zero or negative.
const DefaultHarmonic = 2

// Options controls the optional gradient block.
type Options struct {
	Gradient bool
	Harmonic int
}

// Aggregate computes, per observation, the arithmetic mean of its k
// neighbors' feature vectors (the observation itself excluded) and, when
// requested, the gradient block: neighbor-minus-own feature differences
// projected onto the m-th harmonic of the neighbor bearing angles, reported
// as the magnitude of the complex sum normalized by k.
//
// Pure function: inputs are read only; outputs are fresh matrices sharing the
// input's row order and feature names.
func Aggregate(features *feature.Matrix, g *neighbors.Graph, opts Options) (*feature.Matrix, *feature.Matrix, error) {
	n := features.Rows()
	if n != len(g.IDs) {
		return nil, nil, &feature.ShapeMismatchError{Context: "feature rows vs graph observations", Want: len(g.IDs), Got: n}
	}
	for i, id := range g.IDs {
		if features.IDs[i] != id {
			return nil, nil, fmt.Errorf("aggregate: row %d is %q in features but %q in graph", i, features.IDs[i], id)
		}
	}

	m := opts.Harmonic
	if m <= 0 {
		m = DefaultHarmonic
	}

	cols := features.Cols()
	meanData := mat.NewDense(n, cols, nil)
	var gradData *mat.Dense
	var cosSum, sinSum []float64
	if opts.Gradient {
		gradData = mat.NewDense(n, cols, nil)
		cosSum = make([]float64, cols)
		sinSum = make([]float64, cols)
	}

	for o := 0; o < n; o++ {
		nbrs := g.Neighbors[o]
		k := float64(len(nbrs))
		meanRow := meanData.RawRowView(o)
		for _, nb := range nbrs {
			row := features.Data.RawRowView(nb)
			for f, v := range row {
				meanRow[f] += v
			}
		}
		for f := range meanRow {
			meanRow[f] /= k
		}

		if gradData == nil {
			continue
		}
		own := features.Data.RawRowView(o)
		for f := range cosSum {
			cosSum[f] = 0
			sinSum[f] = 0
		}
		for j, nb := range nbrs {
			phase := float64(m) * g.Bearings[o][j]
			cphi, sphi := math.Cos(phase), math.Sin(phase)
			row := features.Data.RawRowView(nb)
			for f, v := range row {
				d := v - own[f]
				cosSum[f] += d * cphi
				sinSum[f] += d * sphi
			}
		}
		gradRow := gradData.RawRowView(o)
		for f := range gradRow {
			gradRow[f] = math.Hypot(cosSum[f], sinSum[f]) / k
		}
	}

	log.Debug().
		Int("observations", n).
		Int("features", cols).
		Bool("gradient", opts.Gradient).
		Int("harmonic", m).
		Msg("neighborhood aggregation done")

	meanMat := &feature.Matrix{IDs: features.IDs, Names: features.Names, Data: meanData}
	if gradData == nil {
		return meanMat, nil, nil
	}
	return meanMat, &feature.Matrix{IDs: features.IDs, Names: features.Names, Data: gradData}, nil
}
