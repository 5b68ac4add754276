// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package table is the canonical cell-by-gene table: a numeric
// matrix X (rows are cells, columns are genes) plus string-valued
// per-row metadata M, described by a Domain.
package table

import (
	"errors"
	"fmt"
	"math"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

var ErrShape = errors.New("table: shape mismatch")

type Table struct {
	Domain *Domain

	// X is either *mat.Dense or *sparse.CSR.
	X mat.Matrix

	// M has one row per row of X and one column per Domain.Metas
	// entry. Discrete metas hold the value label.
	M [][]string
}

// New returns a table after checking that X, M and domain agree on
// shape.
func New(domain *Domain, X mat.Matrix, M [][]string) (*Table, error) {
	rows, cols := 0, 0
	if X != nil {
		rows, cols = X.Dims()
	}
	if cols != len(domain.Attributes) {
		return nil, fmt.Errorf("%w: %d attributes, %d matrix columns", ErrShape, len(domain.Attributes), cols)
	}
	if M == nil {
		M = make([][]string, rows)
		for i := range M {
			M[i] = make([]string, len(domain.Metas))
		}
	}
	if len(M) != rows {
		return nil, fmt.Errorf("%w: %d matrix rows, %d meta rows", ErrShape, rows, len(M))
	}
	for i, row := range M {
		if len(row) != len(domain.Metas) {
			return nil, fmt.Errorf("%w: meta row %d has %d values, domain has %d metas", ErrShape, i, len(row), len(domain.Metas))
		}
	}
	if X == nil {
		X = &mat.Dense{}
	}
	return &Table{Domain: domain, X: X, M: M}, nil
}

// Len returns the number of rows (cells).
func (t *Table) Len() int {
	if len(t.Domain.Attributes) == 0 {
		return len(t.M)
	}
	r, _ := t.X.Dims()
	return r
}

func (t *Table) IsSparse() bool {
	_, ok := t.X.(*sparse.CSR)
	return ok
}

// Dense returns X as a dense matrix. The result is a copy unless X is
// already dense.
func (t *Table) Dense() *mat.Dense {
	switch x := t.X.(type) {
	case *mat.Dense:
		return x
	case *sparse.CSR:
		return x.ToDense()
	default:
		return mat.DenseCopyOf(x)
	}
}

// MetaColumn returns the values of the named meta variable, one per
// row.
func (t *Table) MetaColumn(name string) ([]string, bool) {
	j := t.Domain.MetaIndex(name)
	if j < 0 {
		return nil, false
	}
	col := make([]string, len(t.M))
	for i, row := range t.M {
		col[i] = row[j]
	}
	return col, true
}

// SetMetaColumn assigns value to the named meta in every row.
func (t *Table) SetMetaColumn(name, value string) error {
	j := t.Domain.MetaIndex(name)
	if j < 0 {
		return fmt.Errorf("table: no meta variable %q", name)
	}
	for _, row := range t.M {
		row[j] = value
	}
	return nil
}

// Transform maps t onto domain by variable name. Attributes missing
// from t become NaN columns; metas missing from t become empty
// strings. The result is dense.
func (t *Table) Transform(domain *Domain) *Table {
	n := t.Len()
	src := t.Dense()
	X := NewDense(n, len(domain.Attributes))
	for j, v := range domain.Attributes {
		from := t.Domain.AttributeIndex(v.Name)
		for i := 0; i < n; i++ {
			if from < 0 {
				X.Set(i, j, math.NaN())
			} else {
				X.Set(i, j, src.At(i, from))
			}
		}
	}
	M := make([][]string, n)
	metaFrom := make([]int, len(domain.Metas))
	for j, v := range domain.Metas {
		metaFrom[j] = t.Domain.MetaIndex(v.Name)
	}
	for i := range M {
		M[i] = make([]string, len(domain.Metas))
		for j, from := range metaFrom {
			if from >= 0 {
				M[i][j] = t.M[i][from]
			}
		}
	}
	return &Table{Domain: domain, X: X, M: M}
}

// Subset returns the given rows and attribute columns of t, in the
// given order. A nil index list selects everything.
func (t *Table) Subset(rows, attrs []int) *Table {
	if rows == nil {
		rows = seq(t.Len())
	}
	if attrs == nil {
		attrs = seq(len(t.Domain.Attributes))
	}
	src := t.Dense()
	X := NewDense(len(rows), len(attrs))
	for i, r := range rows {
		for j, c := range attrs {
			X.Set(i, j, src.At(r, c))
		}
	}
	vars := make([]*Variable, len(attrs))
	for j, c := range attrs {
		vars[j] = t.Domain.Attributes[c]
	}
	M := make([][]string, len(rows))
	for i, r := range rows {
		M[i] = append([]string(nil), t.M[r]...)
	}
	return &Table{Domain: NewDomain(vars, t.Domain.Metas), X: X, M: M}
}

// Concat stacks tables row-wise. All tables must have the same
// attribute and meta names, in the same order; the result uses the
// first table's domain.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, errors.New("table: nothing to concatenate")
	}
	domain := tables[0].Domain
	rows := 0
	for _, t := range tables {
		if !sameNames(t.Domain.Attributes, domain.Attributes) || !sameNames(t.Domain.Metas, domain.Metas) {
			return nil, fmt.Errorf("%w: cannot concatenate tables with different domains", ErrShape)
		}
		rows += t.Len()
	}
	cols := len(domain.Attributes)
	X := NewDense(rows, cols)
	var M [][]string
	offset := 0
	for _, t := range tables {
		n := t.Len()
		if n > 0 && cols > 0 {
			X.Slice(offset, offset+n, 0, cols).(*mat.Dense).Copy(t.X)
		}
		for _, row := range t.M {
			M = append(M, append([]string(nil), row...))
		}
		offset += n
	}
	return &Table{Domain: domain, X: X, M: M}, nil
}

func sameNames(a, b []*Variable) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

// NewDense returns a zeroed r x c matrix. Unlike mat.NewDense it
// accepts zero dimensions.
func NewDense(r, c int) *mat.Dense {
	switch {
	case r > 0 && c > 0:
		return mat.NewDense(r, c, nil)
	case r == 0 && c == 0:
		return &mat.Dense{}
	case r == 0:
		return mat.NewDense(1, c, nil).Slice(0, 0, 0, c).(*mat.Dense)
	default:
		return mat.NewDense(r, 1, nil).Slice(0, r, 0, 0).(*mat.Dense)
	}
}
