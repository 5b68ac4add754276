// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/arvados/scload/table"
)

// dumpTable prints a readable description of a saved table.
type dumpTable struct{}

func (cmd *dumpTable) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	inputFilename := flags.String("i", "", "input `file` (saved table, .gob or .gob.gz)")
	outputFilename := flags.String("o", "-", "output `file`")
	maxRows := flags.Int("rows", 5, "print at most `N` rows of data")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if *inputFilename == "" {
		err = fmt.Errorf("no input file specified (-i)")
		return 2
	}

	input, err := zopen(*inputFilename)
	if err != nil {
		return 1
	}
	defer input.Close()
	t, err := table.Read(input)
	if err != nil {
		err = fmt.Errorf("%s: %w", *inputFilename, err)
		return 1
	}

	var output io.WriteCloser = nopCloser{stdout}
	if *outputFilename != "-" {
		output, err = os.OpenFile(*outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return 1
		}
		defer output.Close()
	}
	bufw := bufio.NewWriterSize(output, 1<<20)
	writeTableSummary(bufw, t, *maxRows)
	err = bufw.Flush()
	if err != nil {
		return 1
	}
	err = output.Close()
	if err != nil {
		return 1
	}
	return 0
}

func writeTableSummary(w io.Writer, t *table.Table, maxRows int) {
	rows, cols := t.Len(), len(t.Domain.Attributes)
	repr := "dense"
	if t.IsSparse() {
		repr = "sparse"
	}
	fmt.Fprintf(w, "rows %d, attributes %d, metas %d, %s\n", rows, cols, len(t.Domain.Metas), repr)
	for i, v := range t.Domain.Attributes {
		var keys []string
		for k := range v.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var kv []string
		for _, k := range keys {
			kv = append(kv, k+"="+v.Attributes[k])
		}
		fmt.Fprintf(w, "attribute %d: %q %s", i, v.Name, v.Kind)
		if len(kv) > 0 {
			fmt.Fprintf(w, " {%s}", strings.Join(kv, ", "))
		}
		fmt.Fprintln(w)
	}
	for i, v := range t.Domain.Metas {
		fmt.Fprintf(w, "meta %d: %q %s", i, v.Name, v.Kind)
		if v.Kind == table.Discrete {
			fmt.Fprintf(w, " %q", v.Values)
		}
		fmt.Fprintln(w)
	}
	for i := 0; i < rows && i < maxRows; i++ {
		fmt.Fprintf(w, "row %d: %q", i, t.M[i])
		for j := 0; j < cols; j++ {
			fmt.Fprintf(w, " %g", t.X.At(i, j))
		}
		fmt.Fprintln(w)
	}
}
