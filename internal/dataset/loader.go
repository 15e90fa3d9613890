package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"gonum.org/v1/gonum/mat"
)

// LoadOptions names the identifier, coordinate and metadata columns of the
// input table. Every remaining column is read as a numeric feature.
type LoadOptions struct {
	IDColumn    string
	XColumn     string
	YColumn     string
	MetaColumns []string
	Delimiter   rune
}

func (o LoadOptions) withDefaults(path string) LoadOptions {
	if o.IDColumn == "" {
		o.IDColumn = "id"
	}
	if o.XColumn == "" {
		o.XColumn = "x"
	}
	if o.YColumn == "" {
		o.YColumn = "y"
	}
	if o.Delimiter == 0 {
		if strings.HasSuffix(strings.TrimSuffix(filepath.Base(path), ".zst"), ".tsv") {
			o.Delimiter = '\t'
		} else {
			o.Delimiter = ','
		}
	}
	return o
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Load reads a CSV or TSV expression table into a dataset with a counts
// layer. Zstd-compressed inputs are decompressed transparently, detected by
// magic bytes rather than extension.
func Load(path string, opts LoadOptions) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loading dataset: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(len(zstdMagic)); err == nil && bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("loading dataset %s: %w", path, err)
		}
		defer dec.Close()
		r = dec
	}

	ds, err := Parse(r, opts.withDefaults(path))
	if err != nil {
		return nil, fmt.Errorf("loading dataset %s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Int("observations", ds.Rows()).
		Int("features", len(ds.Features)).
		Msg("dataset loaded")
	return ds, nil
}

// Parse reads one header-labelled delimited table. The header must contain
// the identifier column, both coordinate columns and every configured
// metadata column; all other columns become features in header order.
func Parse(r io.Reader, opts LoadOptions) (*Dataset, error) {
	opts = opts.withDefaults("")

	cr := csv.NewReader(r)
	cr.Comma = opts.Delimiter

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}

	idIdx, ok := col[opts.IDColumn]
	if !ok {
		return nil, fmt.Errorf("id column %q not found", opts.IDColumn)
	}
	xIdx, ok := col[opts.XColumn]
	if !ok {
		return nil, &MissingCoordinateError{Column: opts.XColumn}
	}
	yIdx, ok := col[opts.YColumn]
	if !ok {
		return nil, &MissingCoordinateError{Column: opts.YColumn}
	}

	metaIdx := make(map[string]int, len(opts.MetaColumns))
	for _, name := range opts.MetaColumns {
		idx, ok := col[name]
		if !ok {
			return nil, fmt.Errorf("metadata column %q not found", name)
		}
		metaIdx[name] = idx
	}

	reserved := map[int]bool{idIdx: true, xIdx: true, yIdx: true}
	for _, idx := range metaIdx {
		reserved[idx] = true
	}
	featureIdx := make([]int, 0, len(header))
	features := make([]string, 0, len(header))
	for i, name := range header {
		if !reserved[i] {
			featureIdx = append(featureIdx, i)
			features = append(features, strings.TrimSpace(name))
		}
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("no feature columns after id, coordinate and metadata columns")
	}

	var (
		ids    []string
		coords [][2]float64
		values []float64
	)
	meta := make(map[string][]string, len(metaIdx))
	for name := range metaIdx {
		meta[name] = nil
	}

	for row := 1; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}

		id := strings.TrimSpace(rec[idIdx])
		if id == "" {
			return nil, fmt.Errorf("row %d: empty observation id", row)
		}
		x, err := parseField(rec[xIdx])
		if err != nil {
			return nil, fmt.Errorf("row %d: coordinate %s: %w", row, opts.XColumn, err)
		}
		y, err := parseField(rec[yIdx])
		if err != nil {
			return nil, fmt.Errorf("row %d: coordinate %s: %w", row, opts.YColumn, err)
		}

		for fi, idx := range featureIdx {
			v, err := parseField(rec[idx])
			if err != nil {
				return nil, fmt.Errorf("row %d: feature %s: %w", row, features[fi], err)
			}
			values = append(values, v)
		}
		for name, idx := range metaIdx {
			meta[name] = append(meta[name], strings.TrimSpace(rec[idx]))
		}

		ids = append(ids, id)
		coords = append(coords, [2]float64{x, y})
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no observations")
	}

	data := mat.NewDense(len(ids), len(features), values)
	return &Dataset{
		IDs:      ids,
		Features: features,
		Layers:   map[string]*mat.Dense{LayerCounts: data},
		Coords:   coords,
		Meta:     meta,
	}, nil
}

func parseField(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
