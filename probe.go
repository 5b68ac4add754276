// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
)

type probeCmd struct{}

func (cmd *probeCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	formatName := flags.String("format", "", "read files as `format` (dense, csv, count, mtx, serialized; default: guess from file name)")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [options] file [file ...]\n", prog)
		flags.PrintDefaults()
	}
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() == 0 {
		flags.Usage()
		err = errors.New("no files specified")
		return 2
	}

	tw := tabwriter.NewWriter(stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintln(tw, "file\tformat\tbytes\trows\tcols\tgenes\tcells\tsparsity")
	for _, fnm := range flags.Args() {
		format := DetectFormat(fnm)
		if *formatName != "" {
			format, err = ParseFormat(*formatName)
			if err != nil {
				return 2
			}
		}
		l := NewLoaderFormat(fnm, format)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", fnm, l.Format(), l.FileSize, l.NRows, l.NCols, l.NGenes(), l.NCells(), l.Sparsity)
	}
	err = tw.Flush()
	if err != nil {
		return 1
	}
	return 0
}
