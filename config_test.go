// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"flag"
	"io/ioutil"

	"gopkg.in/check.v1"
)

type configSuite struct{}

var _ = check.Suite(&configSuite{})

func (s *configSuite) TestFlags(c *check.C) {
	cfg := DefaultConfig()
	norm := DefaultNormalizeOptions
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	cfg.Flags(flags)
	norm.Flags(flags)
	err := flags.Parse([]string{
		"-delimiter=,",
		"-header-rows=2",
		"-transposed",
		"-sample-rows", "-sample-rows-percent=12.5",
		"-row-annotation-file=cells.csv",
		"-col-annotation-columns=Id,Gene",
		"-log-base=0",
		"-equalize=library",
	})
	c.Assert(err, check.IsNil)
	c.Check(cfg.delimiter(), check.Equals, ',')
	c.Check(cfg.HeaderRows, check.Equals, 2)
	c.Check(cfg.HeaderCols, check.Equals, 1)
	c.Check(cfg.Transposed, check.Equals, true)
	c.Check(cfg.SampleRows, check.Equals, true)
	c.Check(cfg.SampleRowsPercent, check.Equals, 12.5)
	c.Check(cfg.SampleColsPercent, check.Equals, 100.0)
	c.Check(cfg.RowAnnotationFile, check.Equals, "cells.csv")
	c.Check(cfg.ColAnnotationColumns, check.DeepEquals, []string{"Id", "Gene"})
	c.Check(norm.LogBase, check.Equals, 0.0)
	c.Check(norm.NormalizeCells, check.Equals, true)
	c.Check(norm.EqualizeVar, check.Equals, "library")
	c.Check(DefaultNormalizeOptions.EqualizeVar, check.Equals, "")
}

func (s *configSuite) TestConfigFile(c *check.C) {
	fnm := c.MkDir() + "/config.yaml"
	err := ioutil.WriteFile(fnm, []byte(`
loader:
  header_rows: 0
  sample_cols: true
  sample_cols_percent: 20
  row_annotation_columns: [barcode]
normalize:
  log_base: 10
  binarize: true
`), 0644)
	c.Assert(err, check.IsNil)

	cfg := DefaultConfig()
	norm := DefaultNormalizeOptions
	c.Assert(loadConfigFile(fnm, &cfg, &norm), check.IsNil)
	c.Check(cfg.HeaderRows, check.Equals, 0)
	c.Check(cfg.HeaderCols, check.Equals, 1)
	c.Check(cfg.Delimiter, check.Equals, "\t")
	c.Check(cfg.SampleCols, check.Equals, true)
	c.Check(cfg.SampleColsPercent, check.Equals, 20.0)
	c.Check(cfg.RowAnnotationColumns, check.DeepEquals, []string{"barcode"})
	c.Check(norm.LogBase, check.Equals, 10.0)
	c.Check(norm.Binarize, check.Equals, true)
	c.Check(norm.NormalizeCells, check.Equals, true)

	c.Check(loadConfigFile(c.MkDir()+"/missing.yaml", &cfg, nil), check.NotNil)
	err = ioutil.WriteFile(fnm, []byte("loader: [1, 2\n"), 0644)
	c.Assert(err, check.IsNil)
	c.Check(loadConfigFile(fnm, nil, &norm), check.ErrorMatches, `.*config\.yaml: .*`)
}
