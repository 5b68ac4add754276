// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/arvados/scload/table"
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

var errMtxBanner = errors.New("not a MatrixMarket coordinate file")

// mtxHeader is the banner and size line of a MatrixMarket file.
type mtxHeader struct {
	field    string // real, integer or pattern
	symmetry string // general, symmetric or skew-symmetric
	rows     int
	cols     int
	entries  int
}

func readMtxHeader(r *bufio.Reader) (*mtxHeader, error) {
	banner, err := r.ReadString('\n')
	if err != nil && !(err == io.EOF && banner != "") {
		return nil, err
	}
	words := strings.Fields(strings.ToLower(banner))
	if len(words) != 5 || words[0] != "%%matrixmarket" || words[1] != "matrix" {
		return nil, errMtxBanner
	}
	if words[2] != "coordinate" {
		return nil, fmt.Errorf("unsupported MatrixMarket layout %q", words[2])
	}
	h := &mtxHeader{field: words[3], symmetry: words[4]}
	switch h.field {
	case "real", "integer", "pattern":
	default:
		return nil, fmt.Errorf("unsupported MatrixMarket field %q", h.field)
	}
	switch h.symmetry {
	case "general", "symmetric", "skew-symmetric":
	default:
		return nil, fmt.Errorf("unsupported MatrixMarket symmetry %q", h.symmetry)
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '%' {
			continue
		}
		_, err = fmt.Sscan(line, &h.rows, &h.cols, &h.entries)
		if err != nil {
			return nil, fmt.Errorf("size line %q: %w", line, err)
		}
		return h, nil
	}
}

// readMtx parses a whole MatrixMarket coordinate file into a CSR
// matrix.
func readMtx(fnm string) (*sparse.CSR, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReaderSize(f, 1<<20)
	h, err := readMtxHeader(r)
	if err != nil {
		return nil, err
	}
	if h.rows == 0 || h.cols == 0 {
		return nil, fmt.Errorf("empty %dx%d matrix", h.rows, h.cols)
	}
	n := h.entries
	if h.symmetry != "general" {
		n *= 2
	}
	rows := make([]int, 0, n)
	cols := make([]int, 0, n)
	data := make([]float64, 0, n)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<20)
	for seen := 0; seen < h.entries; {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%d entries declared, %d found", h.entries, seen)
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0][0] == '%' {
			continue
		}
		want := 3
		if h.field == "pattern" {
			want = 2
		}
		if len(fields) != want {
			return nil, fmt.Errorf("entry %d: %d fields, expected %d", seen+1, len(fields), want)
		}
		i, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", seen+1, err)
		}
		j, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", seen+1, err)
		}
		if i < 1 || i > h.rows || j < 1 || j > h.cols {
			return nil, fmt.Errorf("entry %d: (%d,%d) outside %dx%d matrix", seen+1, i, j, h.rows, h.cols)
		}
		v := 1.0
		if want == 3 {
			v, err = strconv.ParseFloat(fields[2], 64)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", seen+1, err)
			}
		}
		rows, cols, data = append(rows, i-1), append(cols, j-1), append(data, v)
		if i != j && h.symmetry != "general" {
			if h.symmetry == "skew-symmetric" {
				v = -v
			}
			rows, cols, data = append(rows, j-1), append(cols, i-1), append(data, v)
		}
		seen++
	}
	return sparse.NewCOO(h.rows, h.cols, rows, cols, data).ToCSR(), nil
}

// sliceRows returns the given rows of m, in order.
func sliceRows(m *sparse.CSR, keep []int) *sparse.CSR {
	_, c := m.Dims()
	raw := m.RawMatrix()
	indptr := make([]int, 1, len(keep)+1)
	var ind []int
	var data []float64
	for _, r := range keep {
		lo, hi := raw.Indptr[r], raw.Indptr[r+1]
		ind = append(ind, raw.Ind[lo:hi]...)
		data = append(data, raw.Data[lo:hi]...)
		indptr = append(indptr, len(ind))
	}
	return sparse.NewCSR(len(keep), c, indptr, ind, data)
}

// sliceCols returns the given columns of m, in order.
func sliceCols(m *sparse.CSC, keep []int) *sparse.CSC {
	r, _ := m.Dims()
	raw := m.RawMatrix()
	indptr := make([]int, 1, len(keep)+1)
	var ind []int
	var data []float64
	for _, c := range keep {
		lo, hi := raw.Indptr[c], raw.Indptr[c+1]
		ind = append(ind, raw.Ind[lo:hi]...)
		data = append(data, raw.Data[lo:hi]...)
		indptr = append(indptr, len(ind))
	}
	return sparse.NewCSC(r, len(keep), indptr, ind, data)
}

// densify converts m to a dense matrix, allowing zero dimensions.
func densify(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	if r == 0 || c == 0 {
		return table.NewDense(r, c)
	}
	switch m := m.(type) {
	case *sparse.CSR:
		return m.ToDense()
	case *sparse.CSC:
		return m.ToDense()
	default:
		return mat.DenseCopyOf(m)
	}
}

// mtxFormat reads a MatrixMarket coordinate matrix with genes in rows
// and cells in columns, as written by 10x Genomics Cell Ranger. Gene
// and barcode annotations are picked up from genes.tsv and
// barcodes.tsv in the same directory.
type mtxFormat struct{}

var (
	mtxGeneFiles    = []string{"genes.tsv", "genes.tsv.gz"}
	mtxBarcodeFiles = []string{"barcodes.tsv", "barcodes.tsv.gz"}
)

func findSidecar(dir string, names []string) string {
	for _, name := range names {
		fnm := filepath.Join(dir, name)
		if isFile(fnm) {
			return fnm
		}
	}
	return ""
}

func (mtxFormat) setup(l *Loader) {
	l.Config.HeaderRows, l.Config.HeaderCols = 0, 0
	l.Config.Transposed = true
	l.optionsEditable = false
	l.Config.RowAnnotationHeader = 0
	l.Config.RowAnnotationColumns = []string{"Barcodes"}
	l.Config.ColAnnotationHeader = 0
	l.Config.ColAnnotationColumns = []string{"Id", "Gene"}

	dir := filepath.Dir(l.path)
	genes := findSidecar(dir, mtxGeneFiles)
	barcodes := findSidecar(dir, mtxBarcodeFiles)
	l.Config.ColAnnotationFile = genes
	l.Config.RowAnnotationFile = barcodes
	if genes != "" && barcodes != "" {
		l.annotationsEditable = false
	}
}

func (mtxFormat) leading(Config) (int, int) { return 0, 0 }

func (mtxFormat) probe(l *Loader) {
	h, err := probeMtx(l.path)
	if err != nil {
		l.NRows, l.NCols, l.Sparsity = probedInt(0, err), probedInt(0, err), probedFloat(0, err)
		return
	}
	l.NRows, l.NCols = probedInt(int64(h.rows), nil), probedInt(int64(h.cols), nil)
	all := h.rows * h.cols
	if all == 0 {
		l.Sparsity = probedFloat(0, errors.New("empty matrix"))
		return
	}
	l.Sparsity = probedFloat(float64(all-h.entries)/float64(all), nil)
}

func probeMtx(fnm string) (*mtxHeader, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readMtxHeader(bufio.NewReader(f))
}

func (mtxFormat) columns(l *Loader) (int, error) {
	h, err := probeMtx(l.path)
	if err != nil {
		return 0, err
	}
	return h.cols, nil
}

func (mtxFormat) read(l *Loader, inv *invocation) (*rawTable, error) {
	m, err := readMtx(l.path)
	if err != nil {
		return nil, err
	}
	r, c := m.Dims()
	rowIndex, colIndex := rangeIndex(r), rangeIndex(c)
	if inv.keepRow != nil {
		inv.rowMask = buildMask(r, inv.keepRow)
		rowIndex = index{pos: inv.rowMask.Retained()}
	}
	if inv.colMask != nil {
		if len(inv.colMask) != c {
			return nil, fmt.Errorf("column count changed from %d to %d", len(inv.colMask), c)
		}
		colIndex = index{pos: inv.colMask.Retained()}
	}
	rowIndex.anonymous, colIndex.anonymous = true, true
	raw := &rawTable{rowIndex: rowIndex, colIndex: colIndex}

	nr, nc := rowIndex.Len(), colIndex.Len()
	if nr == 0 || nc == 0 {
		raw.X = table.NewDense(nr, nc)
		return raw, nil
	}
	if inv.rowMask != nil {
		m = sliceRows(m, rowIndex.pos)
	}
	if inv.colMask != nil {
		raw.X = densify(sliceCols(m.ToCSC(), colIndex.pos))
	} else {
		raw.X = densify(m)
	}
	return raw, nil
}
