// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"bytes"
	"io/ioutil"
	"math"
	"os"
	"strings"

	"github.com/arvados/scload/table"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type concatSuite struct{}

var _ = check.Suite(&concatSuite{})

func (s *concatSuite) load(c *check.C, arg string) Source {
	src, err := loadSource(arg)
	c.Assert(err, check.IsNil)
	return src
}

func (s *concatSuite) TestUnion(c *check.C) {
	hg19 := s.load(c, "hg19=testdata/10x/hg19/matrix.mtx")
	mm10 := s.load(c, "mm10=testdata/10x/mm10/matrix.mtx")
	t, err := Concatenate(Union, []Source{hg19, mm10})
	c.Assert(err, check.IsNil)
	c.Check(t.Len(), check.Equals, 10)
	c.Check(t.Domain.AttributeNames(), check.DeepEquals, []string{
		"ENSG00000001", "ENSG00000002", "ENSG00000003", "ENSG00000004",
		"ENSMUSG00000051951", "ENSMUSG00000089699",
	})
	c.Check(t.Domain.MetaNames(), check.DeepEquals, []string{"Barcodes", SourceVar})
	source := t.Domain.Metas[t.Domain.MetaIndex(SourceVar)]
	c.Check(source.Kind, check.Equals, table.Discrete)
	c.Check(source.Values, check.DeepEquals, []string{"hg19", "mm10"})
	c.Check(t.M[0][1], check.Equals, "hg19")
	c.Check(t.M[9], check.DeepEquals, []string{"AAACCTGAGGCTAGAC-1", "mm10"})

	// shared gene keeps its values from both inputs
	c.Check(t.X.At(5, 0), check.Equals, 7.0)
	c.Check(t.X.At(9, 0), check.Equals, 4.0)
	// genes missing from an input are NaN
	c.Check(math.IsNaN(t.X.At(0, 4)), check.Equals, true)
	c.Check(math.IsNaN(t.X.At(6, 1)), check.Equals, true)
	c.Check(t.X.At(7, 4), check.Equals, 2.0)
}

func (s *concatSuite) TestIntersection(c *check.C) {
	hg19 := s.load(c, "testdata/10x/hg19/matrix.mtx")
	mm10 := s.load(c, "mouse=testdata/10x/mm10/matrix.mtx")
	c.Check(hg19.Label, check.Equals, "matrix.mtx")
	t, err := Concatenate(Intersection, []Source{hg19, mm10})
	c.Assert(err, check.IsNil)
	c.Check(t.Len(), check.Equals, 10)
	c.Check(t.Domain.AttributeNames(), check.DeepEquals, []string{"ENSG00000001"})
	c.Check(t.Domain.MetaNames(), check.DeepEquals, []string{"Barcodes", SourceVar})
	col, ok := t.MetaColumn(SourceVar)
	c.Assert(ok, check.Equals, true)
	c.Check(col[5], check.Equals, "matrix.mtx")
	c.Check(col[6], check.Equals, "mouse")
	c.Check(t.X.At(6, 0), check.Equals, 1.5)
}

func (s *concatSuite) TestSourceReplaced(c *check.C) {
	hg19 := s.load(c, "a=testdata/10x/hg19/matrix.mtx")
	t, err := Concatenate(Union, []Source{hg19, hg19})
	c.Assert(err, check.IsNil)
	c.Check(t.Len(), check.Equals, 12)
	t, err = Concatenate(Union, []Source{{Table: t, Label: "again"}, s.load(c, "b=testdata/10x/mm10/matrix.mtx")})
	c.Assert(err, check.IsNil)
	c.Check(t.Len(), check.Equals, 16)
	c.Check(t.Domain.MetaNames(), check.DeepEquals, []string{"Barcodes", SourceVar})
	col, _ := t.MetaColumn(SourceVar)
	c.Check(col[0], check.Equals, "again")
	c.Check(col[15], check.Equals, "b")
}

func (s *concatSuite) TestThreeTables(c *check.C) {
	a := s.load(c, "a=testdata/10x/hg19/matrix.mtx")
	b := s.load(c, "b=testdata/10x/hg19/matrix.mtx")
	mm10 := s.load(c, "testdata/10x/mm10/matrix.mtx")

	t, err := Concatenate(Union, []Source{a, b, mm10})
	c.Assert(err, check.IsNil)
	c.Check(t.Len(), check.Equals, 16)
	c.Check(t.Domain.Attributes, check.HasLen, 6)
	source := t.Domain.Metas[t.Domain.MetaIndex(SourceVar)]
	c.Check(source.Values, check.DeepEquals, []string{"a", "b", "matrix.mtx"})
	c.Check(t.X.At(5, 0), check.Equals, 7.0)
	c.Check(t.X.At(11, 0), check.Equals, 7.0)
	c.Check(t.X.At(15, 0), check.Equals, 4.0)
	c.Check(math.IsNaN(t.X.At(12, 1)), check.Equals, true)
	col, _ := t.MetaColumn(SourceVar)
	c.Check([]string{col[0], col[6], col[12]}, check.DeepEquals, []string{"a", "b", "matrix.mtx"})

	t, err = Concatenate(Intersection, []Source{a, b, mm10})
	c.Assert(err, check.IsNil)
	c.Check(t.Len(), check.Equals, 16)
	c.Check(t.Domain.AttributeNames(), check.DeepEquals, []string{"ENSG00000001"})

	// identical inputs keep all of their attributes
	t, err = Concatenate(Intersection, []Source{a, b})
	c.Assert(err, check.IsNil)
	c.Check(t.Domain.Attributes, check.HasLen, 4)
}

func (s *concatSuite) TestEmpty(c *check.C) {
	_, err := Concatenate(Union, nil)
	c.Check(err, check.ErrorMatches, `concatenate: no tables`)
}

func (s *concatSuite) TestParseMode(c *check.C) {
	m, err := ParseConcatMode("Union")
	c.Check(err, check.IsNil)
	c.Check(m, check.Equals, Union)
	m, err = ParseConcatMode("intersection")
	c.Check(err, check.IsNil)
	c.Check(m, check.Equals, Intersection)
	_, err = ParseConcatMode("outer")
	c.Check(err, check.NotNil)
}

func (s *concatSuite) TestCommand(c *check.C) {
	tmpdir := c.MkDir()
	var stdout, stderr bytes.Buffer
	exited := (&concatCmd{}).RunCommand("concat", []string{
		"-mode=intersection",
		"-rows", tmpdir + "/rows.csv",
		"-annotations", tmpdir + "/annotations.csv",
		"-save", tmpdir + "/table.gob",
		"hg19=testdata/10x/hg19/matrix.mtx",
		"mm10=testdata/10x/mm10/matrix.mtx",
	}, nil, &stdout, &stderr)
	c.Check(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	c.Check(stderr.String(), check.Matches, `(?ms).*10 cells, 1 genes, 2 metas\n`)

	rows, err := ioutil.ReadFile(tmpdir + "/rows.csv")
	c.Assert(err, check.IsNil)
	c.Check(strings.Split(string(rows), "\n")[0], check.Equals, "Index,Barcodes,source")
	c.Check(string(rows), check.Matches, `(?ms).*\n9,AAACCTGAGGCTAGAC-1,mm10\n`)

	annotations, err := ioutil.ReadFile(tmpdir + "/annotations.csv")
	c.Assert(err, check.IsNil)
	c.Check(string(annotations), check.Equals, "Index,Name,Gene,Id\n0,ENSG00000001,MIR1302-10,ENSG00000001\n")

	l := NewLoader(tmpdir + "/table.gob")
	t := l.Produce()
	c.Assert(t, check.NotNil, check.Commentf("%v", l.Errors()))
	c.Check(t.Len(), check.Equals, 10)

	// Loading inputs concurrently gives the same table.
	exited = (&concatCmd{}).RunCommand("concat", []string{
		"-mode=intersection",
		"-threads=4",
		"-save", tmpdir + "/table4.gob",
		"hg19=testdata/10x/hg19/matrix.mtx",
		"mm10=testdata/10x/mm10/matrix.mtx",
	}, nil, &stdout, os.Stderr)
	c.Check(exited, check.Equals, 0)
	t4 := NewLoader(tmpdir + "/table4.gob").Produce()
	c.Assert(t4, check.NotNil)
	c.Check(t4.M, check.DeepEquals, t.M)
	c.Check(t4.Domain.AttributeNames(), check.DeepEquals, t.Domain.AttributeNames())
	c.Check(mat.Equal(t4.X, t.X), check.Equals, true)

	exited = (&concatCmd{}).RunCommand("concat", []string{"testdata/does-not-exist.mtx"}, nil, &stdout, os.Stderr)
	c.Check(exited, check.Equals, 1)
	exited = (&concatCmd{}).RunCommand("concat", []string{"-mode=outer", "testdata/10x/hg19/matrix.mtx"}, nil, &stdout, os.Stderr)
	c.Check(exited, check.Equals, 2)
	exited = (&concatCmd{}).RunCommand("concat", nil, nil, &stdout, os.Stderr)
	c.Check(exited, check.Equals, 2)
}
