// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package table

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/james-bowman/sparse"
	"github.com/klauspost/pgzip"
	"golang.org/x/crypto/blake2b"
	"gonum.org/v1/gonum/mat"
)

var ErrChecksum = errors.New("table: checksum mismatch")

// Blob is the on-disk form of a Table. Exactly one of Data (dense,
// row-major) or Indptr/Ind/Values (CSR) is populated.
type Blob struct {
	Attributes []Variable
	Metas      []Variable
	Rows       int
	Cols       int
	Sparse     bool
	Data       []float64
	Indptr     []int
	Ind        []int
	Values     []float64
	M          [][]string
}

type envelope struct {
	Payload []byte
	Blake2b [blake2b.Size256]byte
}

func (t *Table) blob() *Blob {
	b := &Blob{M: t.M}
	for _, v := range t.Domain.Attributes {
		b.Attributes = append(b.Attributes, *v)
	}
	for _, v := range t.Domain.Metas {
		b.Metas = append(b.Metas, *v)
	}
	b.Rows = t.Len()
	b.Cols = len(t.Domain.Attributes)
	if csr, ok := t.X.(*sparse.CSR); ok {
		raw := csr.RawMatrix()
		b.Sparse = true
		b.Indptr, b.Ind, b.Values = raw.Indptr, raw.Ind, raw.Data
		return b
	}
	X := t.Dense()
	b.Data = make([]float64, 0, b.Rows*b.Cols)
	for i := 0; i < b.Rows && b.Cols > 0; i++ {
		b.Data = append(b.Data, X.RawRowView(i)...)
	}
	return b
}

func (b *Blob) table() (*Table, error) {
	var attrs, metas []*Variable
	for i := range b.Attributes {
		attrs = append(attrs, &b.Attributes[i])
	}
	for i := range b.Metas {
		metas = append(metas, &b.Metas[i])
	}
	var X mat.Matrix
	switch {
	case b.Sparse:
		if len(b.Indptr) != b.Rows+1 {
			return nil, fmt.Errorf("%w: indptr length %d for %d rows", ErrShape, len(b.Indptr), b.Rows)
		}
		X = sparse.NewCSR(b.Rows, b.Cols, b.Indptr, b.Ind, b.Values)
	case b.Rows == 0 || b.Cols == 0:
		X = NewDense(b.Rows, b.Cols)
	default:
		if len(b.Data) != b.Rows*b.Cols {
			return nil, fmt.Errorf("%w: %d values for %dx%d matrix", ErrShape, len(b.Data), b.Rows, b.Cols)
		}
		X = mat.NewDense(b.Rows, b.Cols, b.Data)
	}
	return New(NewDomain(attrs, metas), X, b.M)
}

// Write encodes t to w. The payload carries a blake2b-256 checksum
// that Read verifies.
func Write(w io.Writer, t *Table) error {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(t.blob())
	if err != nil {
		return err
	}
	env := envelope{Payload: buf.Bytes(), Blake2b: blake2b.Sum256(buf.Bytes())}
	return gob.NewEncoder(w).Encode(&env)
}

func Read(r io.Reader) (*Table, error) {
	var env envelope
	err := gob.NewDecoder(r).Decode(&env)
	if err != nil {
		return nil, err
	}
	if blake2b.Sum256(env.Payload) != env.Blake2b {
		return nil, ErrChecksum
	}
	var b Blob
	err = gob.NewDecoder(bytes.NewReader(env.Payload)).Decode(&b)
	if err != nil {
		return nil, err
	}
	return b.table()
}

// WriteFile writes t to fnm, gzip-compressed if fnm ends in ".gz".
func WriteFile(fnm string, t *Table) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriterSize(f, 1<<20)
	var w io.Writer = bufw
	var gzw *pgzip.Writer
	if strings.HasSuffix(fnm, ".gz") {
		gzw = pgzip.NewWriter(bufw)
		w = gzw
	}
	err = Write(w, t)
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	if gzw != nil {
		err = gzw.Close()
		if err != nil {
			return fmt.Errorf("write %s: %w", fnm, err)
		}
	}
	err = bufw.Flush()
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	return f.Close()
}
