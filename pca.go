// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"strings"

	"github.com/james-bowman/nlp"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type pcaCmd struct {
	remote remoteFlags
}

func (cmd *pcaCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	inputFilename := flags.String("i", "", "input `file`: a saved table (.gob[.gz]) or a 2-D float64 .npy matrix")
	outputFilename := flags.String("o", "-", "output `file`")
	components := flags.Int("components", 4, "number of components")
	normalize := flags.Bool("normalize", false, "normalize a saved table before fitting")
	norm := DefaultNormalizeOptions
	norm.Flags(flags)
	cmd.remote.Flags(flags)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if *inputFilename == "" {
		err = errors.New("no input file specified (-i)")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	if !cmd.remote.local {
		if *outputFilename != "-" {
			err = errors.New("cannot specify output file in container mode: not implemented")
			return 1
		}
		runner := cmd.remote.runner("pca", 16<<30)
		err = runner.TranslatePaths(inputFilename)
		if err != nil {
			return 1
		}
		flags.Visit(func(f *flag.Flag) {
			if !localOnly[f.Name] {
				runner.Args = append(runner.Args, "-"+f.Name+"="+f.Value.String())
			}
		})
		runner.Args = append(runner.Args, "-i", *inputFilename, "-o", "/mnt/output/pca.npy")
		var output string
		output, err = runner.Run()
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output+"/pca.npy")
		return 0
	}

	var X mat.Matrix
	log.Print("reading")
	if strings.HasSuffix(strings.TrimSuffix(*inputFilename, ".gz"), ".npy") {
		X, err = readNumpyFile(*inputFilename)
		if err != nil {
			return 1
		}
	} else {
		l := NewLoaderFormat(*inputFilename, FormatSerialized)
		t := l.Produce()
		if t == nil {
			err = l.Errors().Err()
			return 1
		}
		if *normalize {
			t, _, err = Normalizer{norm}.Apply(t)
			if err != nil {
				return 1
			}
		}
		X = t.Dense()
	}

	var pc mat.Matrix
	pc, err = principalComponents(X, *components)
	if err != nil {
		return 1
	}
	err = writeNumpyFile(*outputFilename, pc, stdout)
	if err != nil {
		return 1
	}
	log.Print("done")
	return 0
}

// principalComponents projects the rows of X onto its first k
// principal components.
func principalComponents(X mat.Matrix, k int) (mat.Matrix, error) {
	rows, cols := X.Dims()
	if k < 1 || k > rows || k > cols {
		return nil, fmt.Errorf("cannot compute %d components of a %dx%d matrix", k, rows, cols)
	}
	log.Printf("fitting: %d rows, %d cols", rows, cols)
	// nlp expects observations in columns.
	transformer := nlp.NewPCA(k)
	transformer.Fit(X.T())
	log.Print("transforming")
	pc, err := transformer.Transform(X.T())
	if err != nil {
		return nil, err
	}
	return pc.T(), nil
}
