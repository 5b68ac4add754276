// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/arvados/scload/table"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// matrixData returns the values of X in row-major order.
func matrixData(X mat.Matrix) []float64 {
	rows, cols := X.Dims()
	out := make([]float64, 0, rows*cols)
	if d, ok := X.(*mat.Dense); ok && cols > 0 {
		for i := 0; i < rows; i++ {
			out = append(out, d.RawRowView(i)...)
		}
		return out
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out = append(out, X.At(i, j))
		}
	}
	return out
}

// writeNumpyFloat64 writes X to w as a float64 .npy array.
func writeNumpyFloat64(w io.Writer, X mat.Matrix) error {
	rows, cols := X.Dims()
	bufw := bufio.NewWriterSize(w, 1<<26)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"rows":  rows,
		"cols":  cols,
		"bytes": rows * cols * 8,
	}).Info("writing numpy")
	npw.Shape = []int{rows, cols}
	err = npw.WriteFloat64(matrixData(X))
	if err != nil {
		return err
	}
	return bufw.Flush()
}

// writeNumpyFile writes X to fnm, or to stdout if fnm is "-".
func writeNumpyFile(fnm string, X mat.Matrix, stdout io.Writer) error {
	if fnm == "-" {
		return writeNumpyFloat64(stdout, X)
	}
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	err = writeNumpyFloat64(output, X)
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	return output.Close()
}

// readNumpyFile reads a 2-D float64 .npy file.
func readNumpyFile(fnm string) (*mat.Dense, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	npr, err := gonpy.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	if len(npr.Shape) != 2 {
		return nil, fmt.Errorf("%s: shape %v is not 2-dimensional", fnm, npr.Shape)
	}
	data, err := npr.GetFloat64()
	if err != nil {
		return nil, err
	}
	rows, cols := npr.Shape[0], npr.Shape[1]
	if rows == 0 || cols == 0 {
		return table.NewDense(rows, cols), nil
	}
	return mat.NewDense(rows, cols, data), nil
}

// writeAnnotations writes one CSV line per attribute of t: its
// column index, name, and the values of its key/value attributes.
func writeAnnotations(fnm string, t *table.Table) error {
	keyset := map[string]bool{}
	for _, v := range t.Domain.Attributes {
		for k := range v.Attributes {
			keyset[k] = true
		}
	}
	var keys []string
	for k := range keyset {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Write(append([]string{"Index", "Name"}, keys...))
	for i, v := range t.Domain.Attributes {
		rec := []string{strconv.Itoa(i), v.Name}
		for _, k := range keys {
			rec = append(rec, v.Attributes[k])
		}
		w.Write(rec)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	log.Infof("wrote %d attribute annotations to %s", len(t.Domain.Attributes), fnm)
	return f.Close()
}

// writeRows writes one CSV line per row of t: its index and meta
// values.
func writeRows(fnm string, t *table.Table) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	w.Write(append([]string{"Index"}, t.Domain.MetaNames()...))
	for i, row := range t.M {
		w.Write(append([]string{strconv.Itoa(i)}, row...))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	log.Infof("wrote %d row labels to %s", len(t.M), fnm)
	return f.Close()
}
