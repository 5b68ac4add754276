// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/arvados/scload/table"
	"github.com/james-bowman/sparse"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// NormalizeOptions select the steps applied by a NormalizeModel.
type NormalizeOptions struct {
	// Name of a meta variable whose values identify the library
	// (batch) of each cell. If empty, every cell is scaled
	// independently.
	EqualizeVar string `json:"equalize_var"`

	// Scale each cell to the target row sum.
	NormalizeCells bool `json:"normalize_cells"`

	// If nonzero, replace each value x with log(1+x)/log(LogBase).
	LogBase float64 `json:"log_base"`

	// Replace each value with 1 if it exceeds BinThreshold, else 0.
	Binarize     bool    `json:"binarize"`
	BinThreshold float64 `json:"bin_threshold"`
}

func (opts NormalizeOptions) check() error {
	if opts.LogBase < 0 || opts.LogBase == 1 || math.IsNaN(opts.LogBase) {
		return fmt.Errorf("normalize: invalid log base %g", opts.LogBase)
	}
	return nil
}

var DefaultNormalizeOptions = NormalizeOptions{
	NormalizeCells: true,
	LogBase:        2,
}

// NormalizeModel holds the read-depth parameters inferred by Fit.
type NormalizeModel struct {
	NormalizeOptions
	TargetRowMean float64
	SizeFactors   map[string]float64
}

func NewNormalizeModel(opts NormalizeOptions) *NormalizeModel {
	return &NormalizeModel{
		NormalizeOptions: opts,
		TargetRowMean:    1,
		SizeFactors:      map[string]float64{},
	}
}

// rowSums returns the sum of each row of X, skipping NaN values.
func rowSums(X mat.Matrix) []float64 {
	r, c := X.Dims()
	sums := make([]float64, r)
	switch x := X.(type) {
	case *sparse.CSR:
		raw := x.RawMatrix()
		for i := range sums {
			for _, v := range raw.Data[raw.Indptr[i]:raw.Indptr[i+1]] {
				if !math.IsNaN(v) {
					sums[i] += v
				}
			}
		}
	case *mat.Dense:
		for i := range sums {
			if c == 0 {
				break
			}
			for _, v := range x.RawRowView(i) {
				if !math.IsNaN(v) {
					sums[i] += v
				}
			}
		}
	default:
		for i := range sums {
			for j := 0; j < c; j++ {
				if v := X.At(i, j); !math.IsNaN(v) {
					sums[i] += v
				}
			}
		}
	}
	return sums
}

// median returns the median of the non-NaN values, or NaN if there
// are none.
func median(vals []float64) float64 {
	var s []float64
	for _, v := range vals {
		if !math.IsNaN(v) {
			s = append(s, v)
		}
	}
	if len(s) == 0 {
		return math.NaN()
	}
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// Fit infers the target row sum from X. If groups is non-nil, it
// gives the library of each row of X: the target is the smallest
// per-library median row sum, and each library gets a size factor
// that scales its median to the target.
func (m *NormalizeModel) Fit(X mat.Matrix, groups []string) error {
	r, _ := X.Dims()
	if r == 0 {
		return errors.New("normalize: cannot fit an empty matrix")
	}
	sums := rowSums(X)
	m.SizeFactors = map[string]float64{}
	if groups == nil {
		m.TargetRowMean = median(sums)
		log.WithField("target", m.TargetRowMean).Debug("normalize: fit")
		return nil
	}
	if len(groups) != r {
		return fmt.Errorf("normalize: %d group labels for %d rows", len(groups), r)
	}
	byGroup := map[string][]float64{}
	for i, g := range groups {
		byGroup[g] = append(byGroup[g], sums[i])
	}
	medians := map[string]float64{}
	target := math.Inf(1)
	for g, s := range byGroup {
		medians[g] = median(s)
		target = math.Min(target, medians[g])
	}
	m.TargetRowMean = target
	for g, med := range medians {
		m.SizeFactors[g] = target / med
	}
	log.WithFields(log.Fields{"target": target, "groups": len(medians)}).Debug("normalize: fit")
	return nil
}

// TransformMatrix returns a normalized copy of X, which must be
// *mat.Dense or *sparse.CSR; the result has the same representation.
// groups, if non-nil, gives the library of each row.
func (m *NormalizeModel) TransformMatrix(X mat.Matrix, groups []string) (mat.Matrix, error) {
	if err := m.NormalizeOptions.check(); err != nil {
		return nil, err
	}
	r, _ := X.Dims()
	if groups != nil && len(groups) != r {
		return nil, fmt.Errorf("normalize: %d group labels for %d rows", len(groups), r)
	}
	var out mat.Matrix
	switch x := X.(type) {
	case *sparse.CSR:
		out = cloneCSR(x)
	case *mat.Dense:
		r, c := x.Dims()
		d := table.NewDense(r, c)
		if r > 0 && c > 0 {
			d.Copy(x)
		}
		out = d
	default:
		return nil, fmt.Errorf("normalize: unsupported matrix type %T", X)
	}
	if r == 0 {
		return out, nil
	}

	if m.NormalizeCells {
		sums := rowSums(out)
		factors := make([]float64, r)
		for i, s := range sums {
			if s == 0 {
				s = 1
			}
			factors[i] = m.TargetRowMean / s
		}
		for i, g := range groups {
			if f, ok := m.SizeFactors[g]; ok {
				factors[i] = f
			}
		}
		out = scaleRows(factors, out)
	}

	if m.LogBase != 0 {
		div := math.Log(m.LogBase)
		apply(out, func(v float64) float64 { return math.Log1p(v) / div })
	}

	if m.Binarize {
		t := m.BinThreshold
		if csr, ok := out.(*sparse.CSR); ok {
			out = binarizeCSR(csr, t)
		} else {
			apply(out, func(v float64) float64 {
				if v > t {
					return 1
				}
				return 0
			})
		}
	}
	return out, nil
}

// Transform returns a copy of t with its matrix normalized. If the
// model has an EqualizeVar, t must have a meta variable of that name.
func (m *NormalizeModel) Transform(t *table.Table) (*table.Table, error) {
	groups, err := m.groups(t)
	if err != nil {
		return nil, err
	}
	X, err := m.TransformMatrix(t.X, groups)
	if err != nil {
		return nil, err
	}
	M := make([][]string, len(t.M))
	for i, row := range t.M {
		M[i] = append([]string(nil), row...)
	}
	return table.New(t.Domain, X, M)
}

func (m *NormalizeModel) groups(t *table.Table) ([]string, error) {
	if m.EqualizeVar == "" {
		return nil, nil
	}
	groups, ok := t.MetaColumn(m.EqualizeVar)
	if !ok {
		return nil, fmt.Errorf("normalize: no meta variable %q", m.EqualizeVar)
	}
	return groups, nil
}

// scaleRows multiplies row i of X by factors[i]. Sparse matrices are
// multiplied by a diagonal matrix; dense rows are scaled in place.
func scaleRows(factors []float64, X mat.Matrix) mat.Matrix {
	switch x := X.(type) {
	case *sparse.CSR:
		n := len(factors)
		var out sparse.CSR
		out.Mul(sparse.NewDIA(n, n, factors), x)
		return &out
	case *mat.Dense:
		if _, c := x.Dims(); c > 0 {
			for i, f := range factors {
				floats.Scale(f, x.RawRowView(i))
			}
		}
	}
	return X
}

// apply replaces each stored value of X with fn(value) in place. For
// sparse matrices only nonzero entries are visited, so fn must map 0
// to 0.
func apply(X mat.Matrix, fn func(float64) float64) {
	switch x := X.(type) {
	case *sparse.CSR:
		data := x.RawMatrix().Data
		for i, v := range data {
			data[i] = fn(v)
		}
	case *mat.Dense:
		r, c := x.Dims()
		if r == 0 || c == 0 {
			return
		}
		x.Apply(func(_, _ int, v float64) float64 { return fn(v) }, x)
	}
}

// binarizeCSR returns a copy of X with stored values above t replaced
// by 1. Entries at or below t are removed.
func binarizeCSR(X *sparse.CSR, t float64) *sparse.CSR {
	r, c := X.Dims()
	raw := X.RawMatrix()
	indptr := make([]int, 1, r+1)
	var ind []int
	var data []float64
	for i := 0; i < r; i++ {
		for k := raw.Indptr[i]; k < raw.Indptr[i+1]; k++ {
			if raw.Data[k] > t {
				ind = append(ind, raw.Ind[k])
				data = append(data, 1)
			}
		}
		indptr = append(indptr, len(ind))
	}
	return sparse.NewCSR(r, c, indptr, ind, data)
}

func cloneCSR(X *sparse.CSR) *sparse.CSR {
	r, c := X.Dims()
	raw := X.RawMatrix()
	return sparse.NewCSR(r, c,
		append([]int(nil), raw.Indptr...),
		append([]int(nil), raw.Ind...),
		append([]float64(nil), raw.Data...))
}

// Normalizer fits a NormalizeModel to a table and transforms that
// same table.
type Normalizer struct {
	NormalizeOptions
}

func (n Normalizer) Apply(t *table.Table) (*table.Table, *NormalizeModel, error) {
	m := NewNormalizeModel(n.NormalizeOptions)
	groups, err := m.groups(t)
	if err != nil {
		return nil, nil, err
	}
	err = m.Fit(t.X, groups)
	if err != nil {
		return nil, nil, err
	}
	out, err := m.Transform(t)
	if err != nil {
		return nil, nil, err
	}
	log.WithFields(log.Fields{
		"target": m.TargetRowMean,
		"total":  floats.Sum(rowSums(out.X)),
	}).Info("normalized")
	return out, m, nil
}
