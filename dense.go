// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arvados/scload/table"
	"golang.org/x/exp/rand"
)

const (
	probeMaxCols = 100
	probeMaxRows = 100
)

func newCSVReader(r io.Reader, delim rune) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// parseValue parses one matrix cell. Empty and NA cells are NaN.
func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "NA", "nan", "NaN":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// denseFormat reads delimited text with optional header rows and
// label columns.
type denseFormat struct {
	delimiter string
}

func (f denseFormat) setup(l *Loader) {
	if f.delimiter != "" {
		l.Config.Delimiter = f.delimiter
	}
}

func (f denseFormat) leading(cfg Config) (int, int) {
	return cfg.HeaderRows, cfg.HeaderCols
}

func (f denseFormat) probe(l *Loader) {
	delim := l.Config.delimiter()
	rdr, err := zopen(l.path)
	if err != nil {
		l.NRows, l.NCols = probedInt(0, err), probedInt(0, err)
		return
	}
	defer rdr.Close()
	cr := newCSVReader(rdr, delim)
	cr.ReuseRecord = true
	first, err := cr.Read()
	if err != nil {
		l.NRows, l.NCols = probedInt(0, err), probedInt(0, err)
		return
	}
	ncols := len(first)
	nrows := 0
	for {
		_, err = cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			l.NRows, l.NCols = probedInt(0, err), probedInt(0, err)
			return
		}
		nrows++
	}
	l.NRows, l.NCols = probedInt(int64(nrows), nil), probedInt(int64(ncols), nil)
	l.Sparsity = probedFloat(probeSparsity(l.path, delim, ncols, l.Seeds.Probe))
}

// probeColumns chooses the columns inspected by the sparsity probe:
// every column after the first if there are few, otherwise a seeded
// random choice (with replacement) of probeMaxCols columns.
func probeColumns(ncols int, seed uint64) []int {
	if ncols < 2 {
		return nil
	}
	if ncols < probeMaxCols {
		cols := make([]int, 0, ncols-1)
		for i := 1; i < ncols; i++ {
			cols = append(cols, i)
		}
		return cols
	}
	rnd := rand.New(rand.NewSource(seed))
	cols := make([]int, probeMaxCols)
	for i := range cols {
		cols[i] = 1 + rnd.Intn(ncols-1)
	}
	return cols
}

// probeSparsity estimates the fraction of zero cells from the first
// probeMaxRows data rows.
func probeSparsity(fnm string, delim rune, ncols int, seed uint64) (float64, error) {
	cols := probeColumns(ncols, seed)
	if len(cols) == 0 {
		return 0, errors.New("no data columns")
	}
	rdr, err := zopen(fnm)
	if err != nil {
		return 0, err
	}
	defer rdr.Close()
	cr := newCSVReader(rdr, delim)
	cr.ReuseRecord = true
	if _, err = cr.Read(); err != nil {
		return 0, err
	}
	all, nonzero := 0, 0
	for row := 0; row < probeMaxRows; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return 0, err
		}
		for _, c := range cols {
			if c >= len(rec) {
				return 0, fmt.Errorf("row %d: no column %d", row+1, c)
			}
			v, err := parseValue(rec[c])
			if err != nil {
				return 0, err
			}
			all++
			if v != 0 {
				nonzero++
			}
		}
	}
	if all == 0 {
		return 0, errors.New("no data rows")
	}
	return float64(all-nonzero) / float64(all), nil
}

func (f denseFormat) columns(l *Loader) (int, error) {
	rdr, err := zopen(l.path)
	if err != nil {
		return 0, err
	}
	defer rdr.Close()
	rec, err := newCSVReader(rdr, l.Config.delimiter()).Read()
	if err != nil {
		return 0, err
	}
	return len(rec), nil
}

func (f denseFormat) read(l *Loader, inv *invocation) (*rawTable, error) {
	rdr, err := zopen(l.path)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()
	cr := newCSVReader(rdr, inv.cfg.delimiter())
	hrows, hcols := inv.leadingRows, inv.leadingCols

	var header [][]string
	var labels [][]string // one slice per label column
	var values []float64
	width := -1
	nrows, nlines := 0, 0
	for i := 0; ; i++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		nlines++
		if i >= hrows && hcols > 0 && len(rec) <= hcols {
			return nil, fmt.Errorf("%w: line %d has %d fields, no data after %d header columns", table.ErrShape, i+1, len(rec), hcols)
		}
		if inv.keepRow != nil {
			keep := inv.keepRow(i)
			inv.rowMask = append(inv.rowMask, keep)
			if !keep {
				continue
			}
		}
		if inv.useCols != nil {
			proj := make([]string, 0, len(inv.useCols))
			for _, c := range inv.useCols {
				if c < len(rec) {
					proj = append(proj, rec[c])
				}
			}
			rec = proj
		}
		if i < hrows {
			header = append(header, append([]string(nil), rec...))
			continue
		}
		if len(rec) < hcols {
			return nil, fmt.Errorf("%w: line %d: %d fields, fewer than %d header columns", table.ErrShape, i+1, len(rec), hcols)
		}
		if width < 0 {
			width = len(rec)
			labels = make([][]string, hcols)
		} else if len(rec) != width {
			return nil, fmt.Errorf("line %d: %d fields, expected %d", i+1, len(rec), width)
		}
		for c := 0; c < hcols; c++ {
			labels[c] = append(labels[c], rec[c])
		}
		for c, s := range rec[hcols:] {
			v, err := parseValue(s)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", i+1, c+hcols+1, err)
			}
			values = append(values, v)
		}
		nrows++
	}

	if hrows > 0 && nlines <= hrows {
		return nil, fmt.Errorf("%w: %d lines, no data after %d header rows", table.ErrShape, nlines, hrows)
	}

	hwidth := -1
	for j, h := range header {
		if hwidth < 0 {
			hwidth = len(h)
		} else if len(h) != hwidth {
			return nil, fmt.Errorf("header line %d: %d fields, expected %d", j+1, len(h), hwidth)
		}
	}
	if width < 0 {
		// header only
		width = hwidth
	}
	ncols := 0
	if width > hcols {
		ncols = width - hcols
	}
	X := table.NewDense(nrows, ncols)
	for r := 0; r < nrows; r++ {
		for c := 0; c < ncols; c++ {
			X.Set(r, c, values[r*ncols+c])
		}
	}
	raw := &rawTable{X: X}

	if hcols == 0 {
		raw.rowIndex = rangeIndex(nrows)
	} else {
		raw.rowIndex = index{names: make([]string, hcols), levels: labels}
		if len(header) > 0 {
			last := header[len(header)-1]
			for c := 0; c < hcols && c < len(last); c++ {
				raw.rowIndex.names[c] = last[c]
			}
		}
	}

	if len(header) == 0 {
		// Positional: name columns by their position in the file.
		var pos []int
		if inv.useCols != nil {
			pos = append(pos, inv.useCols[min(hcols, len(inv.useCols)):]...)
		} else {
			for c := hcols; c < hcols+ncols; c++ {
				pos = append(pos, c)
			}
		}
		raw.colIndex = index{pos: pos}
	} else {
		raw.colIndex = index{names: make([]string, len(header))}
		for _, h := range header {
			var level []string
			if len(h) > hcols {
				level = h[hcols:]
			}
			raw.colIndex.levels = append(raw.colIndex.levels, level)
		}
	}
	return raw, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// countFormat is tab-delimited text with genes in rows and cells in
// columns, one header row and one label column, optionally
// accompanied by a "<name>.meta" cell annotation file.
type countFormat struct {
	denseFormat
}

func (f countFormat) setup(l *Loader) {
	l.Config.Transposed = true
	l.optionsEditable = false
	base, _ := stripCompression(l.path)
	meta := strings.TrimSuffix(base, filepath.Ext(base)) + ".meta"
	if isFile(meta) {
		l.Config.RowAnnotationFile = meta
	}
}

func (f countFormat) leading(cfg Config) (int, int) {
	return 1, 1
}
