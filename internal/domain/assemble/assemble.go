// Package assemble z-scores the own, neighbor-mean and gradient blocks and
// concatenates them under the lambda mixing weight, producing the augmented
// matrix handed to generic downstream reduction and clustering.
package assemble

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/spatweave/spatweave/internal/domain/feature"
)

// Column name prefixes of the augmented matrix, in concatenation order.
const (
	PrefixOwn      = "own."
	PrefixNeighbor = "nbr."
	PrefixGradient = "agf."
)

// minScale guards degenerate features: a column whose standard deviation
// falls below this threshold is centered but not divided.
const minScale = 1e-8

// InvalidLambdaError reports a mixing weight outside [0, 1].
type InvalidLambdaError struct {
	Lambda float64
}

func (e *InvalidLambdaError) Error() string {
	return fmt.Sprintf("invalid lambda %v: must be in [0, 1]", e.Lambda)
}

// ZScore returns a copy of m with every feature column centered to zero mean
// and scaled to unit standard deviation (population moments). When groups is
// non-nil, moments are computed independently within each group label;
// otherwise over all rows.
func ZScore(m *feature.Matrix, groups []string) (*feature.Matrix, error) {
	n, cols := m.Rows(), m.Cols()
	if groups != nil && len(groups) != n {
		return nil, &feature.ShapeMismatchError{Context: "scaling group labels", Want: n, Got: len(groups)}
	}

	out := m.Clone()
	for _, rows := range scalingBlocks(groups, n) {
		for j := 0; j < cols; j++ {
			mean, std := columnStats(out.Data, rows, j)
			scale := std
			if scale < minScale {
				scale = 1
			}
			for _, i := range rows {
				out.Data.Set(i, j, (out.Data.At(i, j)-mean)/scale)
			}
		}
	}
	return out, nil
}

// Assemble validates lambda and row alignment, z-scores each block (per group
// when groups is non-nil), weights the blocks and concatenates them column
// wise in own, neighbor, gradient order.
//
// Weights: own sqrt(1-lambda); without a gradient block the neighbor block
// carries sqrt(lambda); with one, neighbor and gradient each carry
// sqrt(lambda/2) so the neighborhood weight budget splits evenly.
func Assemble(own, nbrMean, gradient *feature.Matrix, lambda float64, groups []string) (*feature.Matrix, error) {
	if math.IsNaN(lambda) || lambda < 0 || lambda > 1 {
		return nil, &InvalidLambdaError{Lambda: lambda}
	}
	if own == nil || nbrMean == nil {
		return nil, fmt.Errorf("assemble: own and neighbor-mean blocks are required")
	}
	if nbrMean.Rows() != own.Rows() {
		return nil, &feature.ShapeMismatchError{Context: "neighbor block rows", Want: own.Rows(), Got: nbrMean.Rows()}
	}
	if gradient != nil && gradient.Rows() != own.Rows() {
		return nil, &feature.ShapeMismatchError{Context: "gradient block rows", Want: own.Rows(), Got: gradient.Rows()}
	}
	if !own.SameRows(nbrMean) {
		return nil, fmt.Errorf("assemble: neighbor block row order differs from own block")
	}
	if gradient != nil && !own.SameRows(gradient) {
		return nil, fmt.Errorf("assemble: gradient block row order differs from own block")
	}

	ownScaled, err := ZScore(own, groups)
	if err != nil {
		return nil, fmt.Errorf("scaling own block: %w", err)
	}
	nbrScaled, err := ZScore(nbrMean, groups)
	if err != nil {
		return nil, fmt.Errorf("scaling neighbor block: %w", err)
	}
	var gradScaled *feature.Matrix
	if gradient != nil {
		if gradScaled, err = ZScore(gradient, groups); err != nil {
			return nil, fmt.Errorf("scaling gradient block: %w", err)
		}
	}

	wOwn := math.Sqrt(1 - lambda)
	wNbr := math.Sqrt(lambda)
	wGrad := 0.0
	if gradient != nil {
		wNbr = math.Sqrt(lambda / 2)
		wGrad = wNbr
	}

	cols := own.Cols() + nbrMean.Cols()
	if gradient != nil {
		cols += gradient.Cols()
	}
	names := make([]string, 0, cols)
	for _, name := range own.Names {
		names = append(names, PrefixOwn+name)
	}
	for _, name := range nbrMean.Names {
		names = append(names, PrefixNeighbor+name)
	}
	if gradient != nil {
		for _, name := range gradient.Names {
			names = append(names, PrefixGradient+name)
		}
	}

	out := mat.NewDense(own.Rows(), cols, nil)
	copyWeighted(out, 0, ownScaled.Data, wOwn)
	copyWeighted(out, own.Cols(), nbrScaled.Data, wNbr)
	if gradScaled != nil {
		copyWeighted(out, own.Cols()+nbrMean.Cols(), gradScaled.Data, wGrad)
	}

	log.Debug().
		Float64("lambda", lambda).
		Int("rows", own.Rows()).
		Int("cols", cols).
		Bool("gradient", gradient != nil).
		Bool("split_scale", groups != nil).
		Msg("augmented matrix assembled")

	return &feature.Matrix{IDs: own.IDs, Names: names, Data: out}, nil
}

func copyWeighted(dst *mat.Dense, colOffset int, src *mat.Dense, w float64) {
	r, c := src.Dims()
	for i := 0; i < r; i++ {
		row := src.RawRowView(i)
		for j := 0; j < c; j++ {
			dst.Set(i, colOffset+j, w*row[j])
		}
	}
}

// scalingBlocks yields the row index sets sharing scaling moments: one block
// for global scaling, one per label for grouped scaling.
func scalingBlocks(groups []string, n int) [][]int {
	if groups == nil {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return [][]int{rows}
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
	blocks := make([][]int, 0, len(labels))
	for _, label := range labels {
		blocks = append(blocks, byLabel[label])
	}
	return blocks
}

func columnStats(d *mat.Dense, rows []int, j int) (mean, std float64) {
	var sum float64
	for _, i := range rows {
		sum += d.At(i, j)
	}
	mean = sum / float64(len(rows))

	var ss float64
	for _, i := range rows {
		dev := d.At(i, j) - mean
		ss += dev * dev
	}
	std = math.Sqrt(ss / float64(len(rows)))
	return mean, std
}
