// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/arvados/scload/table"
	log "github.com/sirupsen/logrus"
)

type ConcatMode int

const (
	Intersection ConcatMode = iota
	Union
)

func (m ConcatMode) String() string {
	switch m {
	case Intersection:
		return "intersection"
	case Union:
		return "union"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseConcatMode accepts "union" or "intersection".
func ParseConcatMode(s string) (ConcatMode, error) {
	switch strings.ToLower(s) {
	case "intersection":
		return Intersection, nil
	case "union":
		return Union, nil
	}
	return 0, fmt.Errorf("unknown concatenation mode %q (expected union or intersection)", s)
}

// SourceVar is the name of the discrete meta variable that records
// which input each row came from.
const SourceVar = "source"

// Source is one input to Concatenate.
type Source struct {
	Table *table.Table
	Label string
}

// Concatenate stacks the tables row-wise. Attributes are the union or
// intersection (per mode) of the inputs' attributes, and metas are the
// union of their metas, both sorted by name; values a table does not
// have are NaN (attributes) or empty (metas). A discrete "source" meta
// gives each row's Label.
func Concatenate(mode ConcatMode, sources []Source) (*table.Table, error) {
	if len(sources) == 0 {
		return nil, errors.New("concatenate: no tables")
	}
	source := table.NewDiscrete(SourceVar)
	result, err := withSource(sources[0].Table, source, sources[0].Label)
	if err != nil {
		return nil, err
	}
	for _, src := range sources[1:] {
		attrs := mergeVariables(result.Domain.Attributes, src.Table.Domain.Attributes, mode)
		metas := mergeVariables(result.Domain.Metas, src.Table.Domain.Metas, Union)
		domain := table.NewDomain(attrs, metas)

		next, err := withSource(src.Table, source, src.Label)
		if err != nil {
			return nil, err
		}
		result, err = table.Concat(result.Transform(domain), next.Transform(domain))
		if err != nil {
			return nil, err
		}
		log.WithFields(log.Fields{
			"mode":       mode,
			"attributes": len(attrs),
			"rows":       result.Len(),
		}).Debugf("concatenated %q", src.Label)
	}
	return result, nil
}

// withSource returns t with the source meta appended, set to label on
// every row.
func withSource(t *table.Table, source *table.Variable, label string) (*table.Table, error) {
	source.AddValue(label)
	var metas []*table.Variable
	for _, v := range t.Domain.Metas {
		if v.Name != SourceVar {
			metas = append(metas, v)
		}
	}
	metas = append(metas, source)
	out := t.Transform(table.NewDomain(t.Domain.Attributes, metas))
	return out, out.SetMetaColumn(SourceVar, label)
}

// mergeVariables combines two variable lists by name, keeping the
// first occurrence of each, and sorts the result by name.
func mergeVariables(a, b []*table.Variable, mode ConcatMode) []*table.Variable {
	inB := map[string]bool{}
	for _, v := range b {
		inB[v.Name] = true
	}
	seen := map[string]bool{}
	var out []*table.Variable
	add := func(v *table.Variable) {
		if !seen[v.Name] {
			seen[v.Name] = true
			out = append(out, v)
		}
	}
	for _, v := range a {
		if mode == Union || inB[v.Name] {
			add(v)
		}
	}
	if mode == Union {
		for _, v := range b {
			add(v)
		}
	}
	table.SortByName(out)
	return out
}

type concatCmd struct{}

func (cmd *concatCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	modeName := flags.String("mode", "union", "combine genes by `union` or `intersection`")
	threads := flags.Int("threads", 1, "maximum number of input files to load concurrently")
	var opts loadOptions
	flags.StringVar(&opts.output, "o", "", "write cell-by-gene matrix to numpy `file` (\"-\" for stdout)")
	flags.StringVar(&opts.save, "save", "", "write table to `file` (.gob or .gob.gz)")
	flags.StringVar(&opts.annotations, "annotations", "", "write gene names and annotations to csv `file`")
	flags.StringVar(&opts.rows, "rows", "", "write cell metadata (including source) to csv `file`")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [options] [label=]file [label=]file ...\n", prog)
		flags.PrintDefaults()
	}
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	mode, err := ParseConcatMode(*modeName)
	if err != nil {
		return 2
	}
	if flags.NArg() == 0 {
		flags.Usage()
		err = errors.New("no input files")
		return 2
	}

	sources := make([]Source, flags.NArg())
	throttle := throttle{Max: *threads}
	for i, arg := range flags.Args() {
		i, arg := i, arg
		throttle.Go(func() error {
			src, err := loadSource(arg)
			sources[i] = src
			return err
		})
	}
	err = throttle.Wait()
	if err != nil {
		return 1
	}
	t, err := Concatenate(mode, sources)
	if err != nil {
		return 1
	}
	err = writeOutputs(t, opts, stdout)
	if err != nil {
		return 1
	}
	fmt.Fprintf(stderr, "%d cells, %d genes, %d metas\n", t.Len(), len(t.Domain.Attributes), len(t.Domain.Metas))
	return 0
}

// loadSource loads "label=path" (or just "path", labeled with its
// base name) using the default settings for the file's format.
func loadSource(arg string) (Source, error) {
	label, fnm := "", arg
	if i := strings.Index(arg, "="); i >= 0 {
		label, fnm = arg[:i], arg[i+1:]
	}
	if label == "" {
		label = filepath.Base(fnm)
	}
	l := NewLoader(fnm)
	t := l.Produce()
	if t == nil {
		return Source{}, fmt.Errorf("%s: %w", fnm, l.Errors().Err())
	}
	for kind, err := range l.Errors() {
		log.WithFields(log.Fields{"file": fnm, "error": kind}).Warn(err)
	}
	return Source{Table: t, Label: label}, nil
}
