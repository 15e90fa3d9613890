// Package dataset holds the in-memory host data container: an observations by
// features expression table with named layers, spatial coordinates and string
// metadata columns, plus the loading, filtering and normalization steps that
// feed the augmentation pipeline. Derivations return new datasets; a loaded
// dataset is never mutated in place.
package dataset

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/spatweave/spatweave/internal/domain/feature"
)

// Layer names produced by loading and normalization.
const (
	LayerCounts  = "counts"
	LayerLogNorm = "lognorm"
)

// DefaultVariableCount bounds the variable-feature selection when no count is
// configured.
const DefaultVariableCount = 2000

// MissingCoordinateError reports a configured coordinate column absent from
// the input table.
type MissingCoordinateError struct {
	Column string
}

func (e *MissingCoordinateError) Error() string {
	return fmt.Sprintf("missing coordinate column %q", e.Column)
}

// Dataset is the container handed between pipeline stages.
type Dataset struct {
	IDs      []string
	Features []string
	Layers   map[string]*mat.Dense
	Coords   [][2]float64
	Meta     map[string][]string
}

// Rows returns the observation count.
func (d *Dataset) Rows() int { return len(d.IDs) }

// Layer returns the named expression layer as a feature matrix view. The view
// shares storage with the dataset and is read only by convention.
func (d *Dataset) Layer(name string) (*feature.Matrix, error) {
	data, ok := d.Layers[name]
	if !ok {
		return nil, fmt.Errorf("dataset: layer %q not present (have %v)", name, d.layerNames())
	}
	return &feature.Matrix{IDs: d.IDs, Names: d.Features, Data: data}, nil
}

// Groups returns the metadata column used as group labels.
func (d *Dataset) Groups(column string) ([]string, error) {
	labels, ok := d.Meta[column]
	if !ok {
		return nil, fmt.Errorf("dataset: metadata column %q not found", column)
	}
	return labels, nil
}

// SelectionMode picks which features feed the augmentation.
type SelectionMode string

const (
	SelectAll      SelectionMode = "all"
	SelectVariable SelectionMode = "variable"
	SelectList     SelectionMode = "list"
)

// Selection configures feature subsetting.
type Selection struct {
	Mode SelectionMode
	List []string
	TopN int
}

// Select materializes the chosen feature subset of the named layer as the
// own-feature matrix.
func (d *Dataset) Select(layer string, sel Selection) (*feature.Matrix, error) {
	switch sel.Mode {
	case "", SelectAll:
		return d.Layer(layer)
	case SelectVariable:
		n := sel.TopN
		if n <= 0 {
			n = DefaultVariableCount
		}
		if n > len(d.Features) {
			n = len(d.Features)
		}
		return d.subset(layer, d.VariableFeatures(n))
	case SelectList:
		if len(sel.List) == 0 {
			return nil, fmt.Errorf("dataset: explicit feature selection with an empty list")
		}
		return d.subset(layer, sel.List)
	default:
		return nil, fmt.Errorf("dataset: unknown feature selection mode %q", sel.Mode)
	}
}

func (d *Dataset) subset(layer string, names []string) (*feature.Matrix, error) {
	src, ok := d.Layers[layer]
	if !ok {
		return nil, fmt.Errorf("dataset: layer %q not present (have %v)", layer, d.layerNames())
	}
	index := make(map[string]int, len(d.Features))
	for j, name := range d.Features {
		index[name] = j
	}

	cols := make([]int, len(names))
	for i, name := range names {
		j, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("dataset: feature %q not found", name)
		}
		cols[i] = j
	}

	n := d.Rows()
	out := mat.NewDense(n, len(names), nil)
	for i := 0; i < n; i++ {
		row := src.RawRowView(i)
		dst := out.RawRowView(i)
		for c, j := range cols {
			dst[c] = row[j]
		}
	}
	picked := make([]string, len(names))
	copy(picked, names)
	return &feature.Matrix{IDs: d.IDs, Names: picked, Data: out}, nil
}

// Digest returns a stable hex digest over identifiers, coordinates, feature
// names and metadata. Graph cache keys derive from it.
func (d *Dataset) Digest() string {
	h := sha256.New()
	var buf [16]byte
	for i, id := range d.IDs {
		io.WriteString(h, id)
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(d.Coords[i][0]))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(d.Coords[i][1]))
		h.Write(buf[:])
	}
	for _, name := range d.Features {
		io.WriteString(h, name)
	}
	metaNames := make([]string, 0, len(d.Meta))
	for name := range d.Meta {
		metaNames = append(metaNames, name)
	}
	sort.Strings(metaNames)
	for _, name := range metaNames {
		io.WriteString(h, name)
		for _, v := range d.Meta[name] {
			io.WriteString(h, v)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dataset) layerNames() []string {
	names := make([]string, 0, len(d.Layers))
	for name := range d.Layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// withLayer returns a copy of the dataset with one layer added or replaced.
// Unchanged layers are shared, not copied.
func (d *Dataset) withLayer(name string, data *mat.Dense) *Dataset {
	layers := make(map[string]*mat.Dense, len(d.Layers)+1)
	for k, v := range d.Layers {
		layers[k] = v
	}
	layers[name] = data
	return &Dataset{IDs: d.IDs, Features: d.Features, Layers: layers, Coords: d.Coords, Meta: d.Meta}
}

// subsetRows returns a copy of the dataset restricted to the kept rows, in
// their original order.
func (d *Dataset) subsetRows(keep []int) *Dataset {
	ids := make([]string, len(keep))
	coords := make([][2]float64, len(keep))
	for i, row := range keep {
		ids[i] = d.IDs[row]
		coords[i] = d.Coords[row]
	}

	layers := make(map[string]*mat.Dense, len(d.Layers))
	for name, src := range d.Layers {
		_, c := src.Dims()
		dst := mat.NewDense(len(keep), c, nil)
		for i, row := range keep {
			dst.SetRow(i, src.RawRowView(row))
		}
		layers[name] = dst
	}

	meta := make(map[string][]string, len(d.Meta))
	for name, values := range d.Meta {
		sub := make([]string, len(keep))
		for i, row := range keep {
			sub[i] = values[row]
		}
		meta[name] = sub
	}

	return &Dataset{IDs: ids, Features: d.Features, Layers: layers, Coords: coords, Meta: meta}
}
