// Package feature provides the observations-by-features matrix type shared by
// the neighborhood augmentation stages. Row order is fixed at construction and
// every matrix derived from a source matrix keeps the same row order.
package feature

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense expression block with named rows and columns. IDs holds
// one observation identifier per row, Names one feature name per column.
type Matrix struct {
	IDs   []string
	Names []string
	Data  *mat.Dense
}

// New validates dimensions and wraps the given dense data.
func New(ids, names []string, data *mat.Dense) (*Matrix, error) {
	r, c := data.Dims()
	if r != len(ids) {
		return nil, &ShapeMismatchError{Context: "matrix rows", Want: len(ids), Got: r}
	}
	if c != len(names) {
		return nil, &ShapeMismatchError{Context: "matrix columns", Want: len(names), Got: c}
	}
	return &Matrix{IDs: ids, Names: names, Data: data}, nil
}

// NewZero allocates a zero-filled matrix for the given row and column labels.
func NewZero(ids, names []string) *Matrix {
	return &Matrix{IDs: ids, Names: names, Data: mat.NewDense(len(ids), len(names), nil)}
}

// Rows returns the observation count.
func (m *Matrix) Rows() int { return len(m.IDs) }

// Cols returns the feature count.
func (m *Matrix) Cols() int { return len(m.Names) }

// At returns the value at row i, column j.
func (m *Matrix) At(i, j int) float64 { return m.Data.At(i, j) }

// Row copies row i into a fresh slice.
func (m *Matrix) Row(i int) []float64 {
	return mat.Row(nil, i, m.Data)
}

// Col copies column j into a fresh slice.
func (m *Matrix) Col(j int) []float64 {
	return mat.Col(nil, j, m.Data)
}

// Clone returns a deep copy sharing no storage with the receiver.
func (m *Matrix) Clone() *Matrix {
	ids := make([]string, len(m.IDs))
	copy(ids, m.IDs)
	names := make([]string, len(m.Names))
	copy(names, m.Names)
	data := mat.DenseCopyOf(m.Data)
	return &Matrix{IDs: ids, Names: names, Data: data}
}

// SameRows reports whether two matrices carry identical row identifiers in
// identical order.
func (m *Matrix) SameRows(o *Matrix) bool {
	if len(m.IDs) != len(o.IDs) {
		return false
	}
	for i := range m.IDs {
		if m.IDs[i] != o.IDs[i] {
			return false
		}
	}
	return true
}

// ShapeMismatchError reports inconsistent dimensions between matrices that
// must stay row-aligned.
type ShapeMismatchError struct {
	Context string
	Want    int
	Got     int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: %s: want %d, got %d", e.Context, e.Want, e.Got)
}
