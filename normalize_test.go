// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"math"

	"github.com/arvados/scload/table"
	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type normalizeSuite struct{}

var _ = check.Suite(&normalizeSuite{})

func (s *normalizeSuite) TestMedian(c *check.C) {
	c.Check(median([]float64{3, 1, 2}), check.Equals, 2.0)
	c.Check(median([]float64{4, 1, 2, 3}), check.Equals, 2.5)
	c.Check(median([]float64{math.NaN(), 5, 1}), check.Equals, 3.0)
	c.Check(math.IsNaN(median(nil)), check.Equals, true)
}

func (s *normalizeSuite) TestNormalizeCells(c *check.C) {
	X := mat.NewDense(3, 2, []float64{
		1, 0,
		1, 1,
		2, 4,
	})
	m := NewNormalizeModel(NormalizeOptions{NormalizeCells: true})
	c.Assert(m.Fit(X, nil), check.IsNil)
	c.Check(m.TargetRowMean, check.Equals, 2.0)
	out, err := m.TransformMatrix(X, nil)
	c.Assert(err, check.IsNil)
	for i, sum := range rowSums(out) {
		c.Check(math.Abs(sum-2) < 1e-12, check.Equals, true, check.Commentf("row %d sum %v", i, sum))
	}
	c.Check(out.At(2, 1), check.Equals, 4.0/3)
	// input is not modified
	c.Check(X.At(2, 1), check.Equals, 4.0)
}

func (s *normalizeSuite) TestZeroRow(c *check.C) {
	X := mat.NewDense(2, 2, []float64{0, 0, 3, 1})
	m := NewNormalizeModel(NormalizeOptions{NormalizeCells: true})
	c.Assert(m.Fit(X, nil), check.IsNil)
	out, err := m.TransformMatrix(X, nil)
	c.Assert(err, check.IsNil)
	c.Check(out.At(0, 0), check.Equals, 0.0)
	c.Check(out.At(0, 1), check.Equals, 0.0)
}

func (s *normalizeSuite) TestEqualize(c *check.C) {
	X := mat.NewDense(4, 2, []float64{
		1, 1,
		2, 2,
		5, 5,
		5, 5,
	})
	groups := []string{"a", "a", "b", "b"}
	m := NewNormalizeModel(NormalizeOptions{NormalizeCells: true, EqualizeVar: "library"})
	c.Assert(m.Fit(X, groups), check.IsNil)
	c.Check(m.TargetRowMean, check.Equals, 3.0)
	c.Check(m.SizeFactors, check.DeepEquals, map[string]float64{"a": 1, "b": 0.3})

	out, err := m.TransformMatrix(X, groups)
	c.Assert(err, check.IsNil)
	c.Check(out.At(1, 0), check.Equals, 2.0)
	c.Check(out.At(2, 0), check.Equals, 1.5)

	_, err = m.TransformMatrix(X, groups[:2])
	c.Check(err, check.ErrorMatches, `normalize: 2 group labels for 4 rows`)
}

func (s *normalizeSuite) TestLog(c *check.C) {
	X := mat.NewDense(1, 3, []float64{0, 1, 3})
	m := NewNormalizeModel(NormalizeOptions{LogBase: 2})
	out, err := m.TransformMatrix(X, nil)
	c.Assert(err, check.IsNil)
	for j, expect := range []float64{0, 1, 2} {
		c.Check(math.Abs(out.At(0, j)-expect) < 1e-12, check.Equals, true, check.Commentf("col %d: %v", j, out.At(0, j)))
	}
}

func (s *normalizeSuite) TestSparse(c *check.C) {
	dense := mat.NewDense(3, 3, []float64{
		2, 0, 0,
		0, 1, 3,
		0, 0, 0,
	})
	X := sparse.NewCOO(3, 3, []int{0, 1, 1}, []int{0, 1, 2}, []float64{2, 1, 3}).ToCSR()

	m := NewNormalizeModel(NormalizeOptions{NormalizeCells: true})
	c.Assert(m.Fit(X, nil), check.IsNil)
	c.Check(m.TargetRowMean, check.Equals, 2.0)
	out, err := m.TransformMatrix(X, nil)
	c.Assert(err, check.IsNil)
	c.Check(out, check.FitsTypeOf, &sparse.CSR{})
	c.Check(rowSums(out), check.DeepEquals, []float64{2, 2, 0})
	c.Check(out.At(1, 2), check.Equals, 1.5)

	m = NewNormalizeModel(NormalizeOptions{Binarize: true, BinThreshold: 1})
	out, err = m.TransformMatrix(X, nil)
	c.Assert(err, check.IsNil)
	c.Check(out, check.FitsTypeOf, &sparse.CSR{})
	c.Check(out.(*sparse.CSR).NNZ(), check.Equals, 2)
	c.Check(out.At(0, 0), check.Equals, 1.0)
	c.Check(out.At(1, 1), check.Equals, 0.0)
	c.Check(out.At(1, 2), check.Equals, 1.0)

	outDense, err := m.TransformMatrix(dense, nil)
	c.Assert(err, check.IsNil)
	c.Check(mat.Equal(outDense, out), check.Equals, true)
	c.Check(X.At(1, 2), check.Equals, 3.0)

	// The threshold applies to log-transformed values: 2 becomes
	// log2(3) < 1.7 and is dropped.
	m = NewNormalizeModel(NormalizeOptions{LogBase: 2, Binarize: true, BinThreshold: 1.7})
	out, err = m.TransformMatrix(X, nil)
	c.Assert(err, check.IsNil)
	c.Check(out, check.FitsTypeOf, &sparse.CSR{})
	c.Check(out.(*sparse.CSR).NNZ(), check.Equals, 1)
	c.Check(out.At(0, 0), check.Equals, 0.0)
	c.Check(out.At(1, 1), check.Equals, 0.0)
	c.Check(out.At(1, 2), check.Equals, 1.0)
	outDense, err = m.TransformMatrix(dense, nil)
	c.Assert(err, check.IsNil)
	c.Check(mat.Equal(outDense, out), check.Equals, true)
}

func (s *normalizeSuite) TestInvalidLogBase(c *check.C) {
	X := mat.NewDense(1, 2, []float64{0, 3})
	for _, base := range []float64{1, -2, math.NaN()} {
		m := NewNormalizeModel(NormalizeOptions{LogBase: base})
		_, err := m.TransformMatrix(X, nil)
		c.Check(err, check.ErrorMatches, `normalize: invalid log base .*`)
	}
	m := NewNormalizeModel(NormalizeOptions{LogBase: 0.5})
	out, err := m.TransformMatrix(X, nil)
	c.Assert(err, check.IsNil)
	c.Check(math.Abs(out.At(0, 1)+2) < 1e-12, check.Equals, true)
}

func (s *normalizeSuite) TestNormalizer(c *check.C) {
	attrs := table.FeatureVariables(2)
	metas := []*table.Variable{table.NewString("library")}
	X := mat.NewDense(4, 2, []float64{
		1, 1,
		2, 2,
		5, 5,
		5, 5,
	})
	t, err := table.New(table.NewDomain(attrs, metas), X, [][]string{{"a"}, {"a"}, {"b"}, {"b"}})
	c.Assert(err, check.IsNil)

	out, model, err := Normalizer{NormalizeOptions{NormalizeCells: true, EqualizeVar: "library"}}.Apply(t)
	c.Assert(err, check.IsNil)
	c.Check(model.SizeFactors["b"], check.Equals, 0.3)
	c.Check(out.M, check.DeepEquals, t.M)
	c.Check(floats.Sum(rowSums(out.X)), check.Equals, 2+4+3+3.0)

	_, _, err = Normalizer{NormalizeOptions{EqualizeVar: "batch"}}.Apply(t)
	c.Check(err, check.ErrorMatches, `normalize: no meta variable "batch"`)

	empty, err := table.New(table.NewDomain(attrs, metas), table.NewDense(0, 2), nil)
	c.Assert(err, check.IsNil)
	_, _, err = Normalizer{DefaultNormalizeOptions}.Apply(empty)
	c.Check(err, check.ErrorMatches, `normalize: cannot fit an empty matrix`)
}
