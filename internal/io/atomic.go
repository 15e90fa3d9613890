// Package io writes pipeline outputs with temp file + rename so readers never
// observe a partially written artifact.
package io

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/spatweave/spatweave/internal/domain/feature"
)

// WriteFileAtomic writes data to file atomically using temp file + rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// WriteJSONAtomic writes indented JSON to file atomically.
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteMatrixCSV writes a feature matrix as a header-labelled CSV with one
// observation per row. When coords is non-nil, x and y columns follow the id
// column so plots can be drawn straight from the output file; staggered adds
// staggered_x and staggered_y columns holding the plotting offsets. A .zst
// path writes zstd-compressed CSV.
func WriteMatrixCSV(path string, m *feature.Matrix, coords, staggered [][2]float64) error {
	if coords != nil && len(coords) != m.Rows() {
		return fmt.Errorf("writing %s: %d coordinate rows for %d observations", path, len(coords), m.Rows())
	}
	if staggered != nil && len(staggered) != m.Rows() {
		return fmt.Errorf("writing %s: %d staggered rows for %d observations", path, len(staggered), m.Rows())
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		f.Close()
		os.Remove(tmpPath)
		return err
	}

	var sink interface {
		Write(p []byte) (int, error)
	} = f
	var enc *zstd.Encoder
	if strings.HasSuffix(path, ".zst") {
		enc, err = zstd.NewWriter(f)
		if err != nil {
			return fail(err)
		}
		sink = enc
	}

	w := csv.NewWriter(sink)
	header := make([]string, 0, len(m.Names)+5)
	header = append(header, "id")
	if coords != nil {
		header = append(header, "x", "y")
	}
	if staggered != nil {
		header = append(header, "staggered_x", "staggered_y")
	}
	header = append(header, m.Names...)
	if err := w.Write(header); err != nil {
		return fail(err)
	}

	record := make([]string, 0, len(header))
	for i := 0; i < m.Rows(); i++ {
		record = record[:0]
		record = append(record, m.IDs[i])
		if coords != nil {
			record = append(record,
				strconv.FormatFloat(coords[i][0], 'g', -1, 64),
				strconv.FormatFloat(coords[i][1], 'g', -1, 64))
		}
		if staggered != nil {
			record = append(record,
				strconv.FormatFloat(staggered[i][0], 'g', -1, 64),
				strconv.FormatFloat(staggered[i][1], 'g', -1, 64))
		}
		for _, v := range m.Row(i) {
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		if err := w.Write(record); err != nil {
			return fail(err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fail(err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fail(err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
