// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"flag"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/ghodss/yaml"
)

// Flags registers command line flags for every Config field.
func (cfg *Config) Flags(flags *flag.FlagSet) {
	flags.StringVar(&cfg.Delimiter, "delimiter", cfg.Delimiter, "field `separator`")
	flags.IntVar(&cfg.HeaderRows, "header-rows", cfg.HeaderRows, "number of header `rows`")
	flags.IntVar(&cfg.HeaderCols, "header-cols", cfg.HeaderCols, "number of header (label) `columns`")
	flags.BoolVar(&cfg.Transposed, "transposed", cfg.Transposed, "source rows are genes and columns are cells")
	flags.BoolVar(&cfg.SampleRows, "sample-rows", cfg.SampleRows, "retain a random sample of cells")
	flags.Float64Var(&cfg.SampleRowsPercent, "sample-rows-percent", cfg.SampleRowsPercent, "percentage `P` of cells to retain (0-100)")
	flags.BoolVar(&cfg.SampleCols, "sample-cols", cfg.SampleCols, "retain a random sample of genes")
	flags.Float64Var(&cfg.SampleColsPercent, "sample-cols-percent", cfg.SampleColsPercent, "percentage `P` of genes to retain (0-100)")
	flags.BoolVar(&cfg.RowAnnotations, "row-annotations", cfg.RowAnnotations, "merge the cell annotation file, if any")
	flags.StringVar(&cfg.RowAnnotationFile, "row-annotation-file", cfg.RowAnnotationFile, "cell annotation `file`")
	flags.IntVar(&cfg.RowAnnotationHeader, "row-annotation-header", cfg.RowAnnotationHeader, "number of header `lines` in the cell annotation file")
	flags.Var(listFlag{&cfg.RowAnnotationColumns}, "row-annotation-columns", "comma-separated cell annotation column `names` (default: from header)")
	flags.BoolVar(&cfg.ColAnnotations, "col-annotations", cfg.ColAnnotations, "merge the gene annotation file, if any")
	flags.StringVar(&cfg.ColAnnotationFile, "col-annotation-file", cfg.ColAnnotationFile, "gene annotation `file`")
	flags.IntVar(&cfg.ColAnnotationHeader, "col-annotation-header", cfg.ColAnnotationHeader, "number of header `lines` in the gene annotation file")
	flags.Var(listFlag{&cfg.ColAnnotationColumns}, "col-annotation-columns", "comma-separated gene annotation column `names` (default: from header)")
}

// Flags registers command line flags for the normalization options.
func (opts *NormalizeOptions) Flags(flags *flag.FlagSet) {
	flags.StringVar(&opts.EqualizeVar, "equalize", opts.EqualizeVar, "equalize library sizes across values of meta `variable`")
	flags.BoolVar(&opts.NormalizeCells, "normalize-cells", opts.NormalizeCells, "scale each cell to the median library size")
	flags.Float64Var(&opts.LogBase, "log-base", opts.LogBase, "log-transform with `base` (0 to skip)")
	flags.BoolVar(&opts.Binarize, "binarize", opts.Binarize, "replace values with 1 (above threshold) or 0")
	flags.Float64Var(&opts.BinThreshold, "bin-threshold", opts.BinThreshold, "binarization `threshold`")
}

type listFlag struct {
	list *[]string
}

func (f listFlag) String() string {
	if f.list == nil {
		return ""
	}
	return strings.Join(*f.list, ",")
}

func (f listFlag) Set(s string) error {
	if s == "" {
		*f.list = nil
		return nil
	}
	*f.list = strings.Split(s, ",")
	return nil
}

// configFile is the layout of a -config file. Fields that are absent
// keep their previous values.
//
//	loader:
//	  header_rows: 2
//	  sample_rows: true
//	  sample_rows_percent: 10
//	normalize:
//	  log_base: 10
type configFile struct {
	Loader    *Config           `json:"loader"`
	Normalize *NormalizeOptions `json:"normalize"`
}

// loadConfigFile overlays the settings in the given YAML (or JSON)
// file onto cfg and opts. Either may be nil.
func loadConfigFile(fnm string, cfg *Config, opts *NormalizeOptions) error {
	buf, err := ioutil.ReadFile(fnm)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if opts == nil {
		opts = &NormalizeOptions{}
	}
	err = yaml.Unmarshal(buf, &configFile{Loader: cfg, Normalize: opts})
	if err != nil {
		return fmt.Errorf("%s: %w", fnm, err)
	}
	return nil
}
