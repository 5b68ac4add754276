// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"bytes"
	"io/ioutil"
	"os"
	"strings"

	"gopkg.in/check.v1"
)

type cmdSuite struct{}

var _ = check.Suite(&cmdSuite{})

func (s *cmdSuite) TestHandler(c *check.C) {
	var stdout, stderr bytes.Buffer
	exited := handler.RunCommand("scload", []string{"probe", "testdata/10x/hg19/matrix.mtx"}, nil, &stdout, &stderr)
	c.Check(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	c.Check(stdout.String(), check.Matches, `(?ms).*testdata/10x/hg19/matrix.mtx +mtx +\d+ +4 +6 +4 +6 +0.6250\n`)

	exited = handler.RunCommand("scload", []string{"no-such-command"}, nil, &stdout, &stderr)
	c.Check(exited, check.Equals, 2)
}

func (s *cmdSuite) TestProbe(c *check.C) {
	var stdout bytes.Buffer
	exited := (&probeCmd{}).RunCommand("probe", []string{
		"testdata/DATA_MATRIX_LOG_TPM.txt",
		"testdata/lib.cell.count",
		"testdata/does-not-exist.txt",
	}, nil, &stdout, os.Stderr)
	c.Check(exited, check.Equals, 0)
	lines := strings.Split(strings.TrimSuffix(stdout.String(), "\n"), "\n")
	c.Assert(lines, check.HasLen, 4)
	c.Check(strings.Fields(lines[0]), check.DeepEquals, []string{"file", "format", "bytes", "rows", "cols", "genes", "cells", "sparsity"})
	c.Check(strings.Fields(lines[1])[1:], check.DeepEquals, []string{"dense", "393", "10", "15", "15", "10", "0.8571"})
	c.Check(strings.Fields(lines[2])[1:], check.DeepEquals, []string{"count", "345", "10", "11", "10", "11", "0.9900"})
	c.Check(strings.Fields(lines[3])[1:], check.DeepEquals, []string{"dense", "unknown", "unknown", "unknown", "unknown", "unknown", "unknown"})

	exited = (&probeCmd{}).RunCommand("probe", []string{"-format=mtx", "testdata/DATA_MATRIX_LOG_TPM.txt"}, nil, &stdout, os.Stderr)
	c.Check(exited, check.Equals, 0)
	exited = (&probeCmd{}).RunCommand("probe", []string{"-format=xlsx", "testdata/DATA_MATRIX_LOG_TPM.txt"}, nil, &stdout, os.Stderr)
	c.Check(exited, check.Equals, 2)
	exited = (&probeCmd{}).RunCommand("probe", nil, nil, &stdout, os.Stderr)
	c.Check(exited, check.Equals, 2)
}

func (s *cmdSuite) TestLoad(c *check.C) {
	tmpdir := c.MkDir()
	var stderr bytes.Buffer
	exited := (&loadCmd{}).RunCommand("load", []string{
		"-i", "testdata/lib.cell.count",
		"-o", tmpdir + "/matrix.npy",
		"-rows", tmpdir + "/rows.csv",
		"-annotations", tmpdir + "/annotations.csv",
		"-save", tmpdir + "/table.gob.gz",
		"-normalize", "-log-base=0",
	}, nil, &bytes.Buffer{}, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	c.Check(stderr.String(), check.Equals, "10 cells, 10 genes, 2 metas\n")

	X, err := readNumpyFile(tmpdir + "/matrix.npy")
	c.Assert(err, check.IsNil)
	rows, cols := X.Dims()
	c.Check(rows, check.Equals, 10)
	c.Check(cols, check.Equals, 10)
	// The only nonzero cell is scaled to the median library size, 0.
	c.Check(X.At(6, 2), check.Equals, 0.0)

	rowsCSV, err := ioutil.ReadFile(tmpdir + "/rows.csv")
	c.Assert(err, check.IsNil)
	c.Check(string(rowsCSV), check.Matches, `Index,cell,condition\n0,cell01,ctrl\n(?s:.*)9,cell10,stim\n`)

	annotations, err := ioutil.ReadFile(tmpdir + "/annotations.csv")
	c.Assert(err, check.IsNil)
	c.Check(string(annotations), check.Matches, `Index,Name\n0,gene01\n(?s:.*)`)

	t := NewLoader(tmpdir + "/table.gob.gz").Produce()
	c.Assert(t, check.NotNil)
	c.Check(t.Domain.MetaNames(), check.DeepEquals, []string{"cell", "condition"})
}

func (s *cmdSuite) TestLoadOverrides(c *check.C) {
	tmpdir := c.MkDir()
	err := ioutil.WriteFile(tmpdir+"/config.yaml", []byte("loader:\n  transposed: true\n"), 0644)
	c.Assert(err, check.IsNil)
	var stdout, stderr bytes.Buffer
	exited := (&loadCmd{}).RunCommand("load", []string{
		"-i", "testdata/DATA_MATRIX_LOG_TPM.txt",
		"-config", tmpdir + "/config.yaml",
		"-o", "-",
	}, nil, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	c.Check(stderr.String(), check.Equals, "14 cells, 10 genes, 1 metas\n")
	c.Check(stdout.Len() > 14*10*8, check.Equals, true)

	// flags take precedence over the config file
	stderr.Reset()
	exited = (&loadCmd{}).RunCommand("load", []string{
		"-i", "testdata/DATA_MATRIX_LOG_TPM.txt",
		"-config", tmpdir + "/config.yaml",
		"-transposed=false",
		"-sample-cols", "-sample-cols-percent=0",
	}, nil, &stdout, &stderr)
	c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
	c.Check(stderr.String(), check.Equals, "10 cells, 0 genes, 1 metas\n")
}

func (s *cmdSuite) TestLoadErrors(c *check.C) {
	var stderr bytes.Buffer
	exited := (&loadCmd{}).RunCommand("load", nil, nil, &bytes.Buffer{}, &stderr)
	c.Check(exited, check.Equals, 2)
	c.Check(stderr.String(), check.Matches, `(?ms).*no input file specified.*`)

	stderr.Reset()
	exited = (&loadCmd{}).RunCommand("load", []string{"-i", "testdata/rstyle.txt"}, nil, &bytes.Buffer{}, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `(?ms).*inadequate_headers: .*`)

	exited = (&loadCmd{}).RunCommand("load", []string{"-i", "testdata/rstyle.txt", "-format=parquet"}, nil, &bytes.Buffer{}, &stderr)
	c.Check(exited, check.Equals, 2)
	exited = (&loadCmd{}).RunCommand("load", []string{"-i", "testdata/rstyle.txt", "extra"}, nil, &bytes.Buffer{}, &stderr)
	c.Check(exited, check.Equals, 2)
}

func (s *cmdSuite) TestPCA(c *check.C) {
	tmpdir := c.MkDir()
	exited := (&loadCmd{}).RunCommand("load", []string{
		"-i", "testdata/DATA_MATRIX_LOG_TPM.txt",
		"-o", tmpdir + "/matrix.npy",
		"-save", tmpdir + "/table.gob",
	}, nil, &bytes.Buffer{}, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	for _, input := range []string{tmpdir + "/matrix.npy", tmpdir + "/table.gob"} {
		c.Logf("=== %s", input)
		var stderr bytes.Buffer
		exited = (&pcaCmd{}).RunCommand("pca", []string{
			"-i", input,
			"-components", "2",
			"-o", tmpdir + "/pca.npy",
		}, nil, &bytes.Buffer{}, &stderr)
		c.Assert(exited, check.Equals, 0, check.Commentf("%s", stderr.String()))
		pc, err := readNumpyFile(tmpdir + "/pca.npy")
		c.Assert(err, check.IsNil)
		rows, cols := pc.Dims()
		c.Check(rows, check.Equals, 10)
		c.Check(cols, check.Equals, 2)
	}

	var stderr bytes.Buffer
	exited = (&pcaCmd{}).RunCommand("pca", []string{"-i", tmpdir + "/matrix.npy", "-components", "20"}, nil, &bytes.Buffer{}, &stderr)
	c.Check(exited, check.Equals, 1)
	c.Check(stderr.String(), check.Matches, `cannot compute 20 components of a 10x14 matrix\n`)
}

func (s *cmdSuite) TestDump(c *check.C) {
	tmpdir := c.MkDir()
	exited := (&concatCmd{}).RunCommand("concat", []string{
		"-mode=intersection",
		"-save", tmpdir + "/table.gob.gz",
		"hg19=testdata/10x/hg19/matrix.mtx",
		"mm10=testdata/10x/mm10/matrix.mtx",
	}, nil, &bytes.Buffer{}, os.Stderr)
	c.Assert(exited, check.Equals, 0)

	var stdout bytes.Buffer
	exited = (&dumpTable{}).RunCommand("dump", []string{"-i", tmpdir + "/table.gob.gz", "-rows", "1"}, nil, &stdout, os.Stderr)
	c.Assert(exited, check.Equals, 0)
	c.Check(stdout.String(), check.Equals, `rows 10, attributes 1, metas 2, dense
attribute 0: "ENSG00000001" continuous {Gene=MIR1302-10, Id=ENSG00000001}
meta 0: "Barcodes" string
meta 1: "source" discrete ["hg19" "mm10"]
row 0: ["AAACATACAAAACG-1" "hg19"] 1
`)

	exited = (&dumpTable{}).RunCommand("dump", []string{"-i", "testdata/lib.cell.count"}, nil, &stdout, os.Stderr)
	c.Check(exited, check.Equals, 1)
}
