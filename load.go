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

	"github.com/arvados/scload/table"
	log "github.com/sirupsen/logrus"
)

// loadOptions are the flags of the load subcommand that are not
// Config or NormalizeOptions fields.
type loadOptions struct {
	pprof       string
	input       string
	format      string
	configFile  string
	output      string
	save        string
	annotations string
	rows        string
	normalize   bool
	seed        uint64
}

func (o *loadOptions) Flags(flags *flag.FlagSet) {
	flags.StringVar(&o.pprof, "pprof", "", "serve Go profile data at http://`[addr]:port`")
	flags.StringVar(&o.input, "i", "", "input `file`")
	flags.StringVar(&o.format, "format", "", "read input as `format` (dense, csv, count, mtx, serialized; default: guess from file name)")
	flags.StringVar(&o.configFile, "config", "", "read loader/normalization settings from YAML `file` (flags override)")
	flags.StringVar(&o.output, "o", "", "write cell-by-gene matrix to numpy `file` (\"-\" for stdout)")
	flags.StringVar(&o.save, "save", "", "write table to `file` (.gob or .gob.gz), readable with -format=serialized")
	flags.StringVar(&o.annotations, "annotations", "", "write gene names and annotations to csv `file`")
	flags.StringVar(&o.rows, "rows", "", "write cell metadata to csv `file`")
	flags.BoolVar(&o.normalize, "normalize", false, "normalize the table after loading")
	flags.Uint64Var(&o.seed, "seed", DefaultSeeds.Sampling, "random `seed` for row/column sampling")
}

// localOnly are the flags that are not forwarded to a container.
var localOnly = map[string]bool{
	"local": true, "project": true, "priority": true, "preemptible": true,
	"pprof": true, "i": true, "o": true, "save": true, "annotations": true, "rows": true,
}

type loadCmd struct {
	remote remoteFlags
}

func (cmd *loadCmd) newFlagSet(stderr io.Writer, opts *loadOptions, cfg *Config, norm *NormalizeOptions) *flag.FlagSet {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	opts.Flags(flags)
	cfg.Flags(flags)
	norm.Flags(flags)
	cmd.remote.Flags(flags)
	return flags
}

func (cmd *loadCmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()

	// The first pass finds the input file and config file. The
	// loader's defaults depend on the input format, so the flags
	// are parsed again once the loader exists.
	var opts loadOptions
	cfg := DefaultConfig()
	norm := DefaultNormalizeOptions
	flags := cmd.newFlagSet(stderr, &opts, &cfg, &norm)
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if opts.input == "" {
		err = errors.New("no input file specified (-i)")
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("unexpected arguments: %q", flags.Args())
		return 2
	}

	if opts.pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(opts.pprof, nil))
		}()
	}

	if !cmd.remote.local {
		var output string
		output, err = cmd.runRemote(flags, &opts, &cfg)
		if err != nil {
			return 1
		}
		fmt.Fprintln(stdout, output)
		return 0
	}

	format := DetectFormat(opts.input)
	if opts.format != "" {
		format, err = ParseFormat(opts.format)
		if err != nil {
			return 2
		}
	}
	loader := NewLoaderFormat(opts.input, format)
	norm = DefaultNormalizeOptions
	if opts.configFile != "" {
		err = loadConfigFile(opts.configFile, &loader.Config, &norm)
		if err != nil {
			return 1
		}
	}
	err = cmd.newFlagSet(stderr, &opts, &loader.Config, &norm).Parse(args)
	if err != nil {
		return 2
	}
	loader.Seeds.Sampling = opts.seed

	t := loader.Produce()
	for kind, kerr := range loader.Errors() {
		log.WithField("error", kind).Warn(kerr)
	}
	if t == nil {
		err = loader.Errors().Err()
		if err == nil {
			err = errors.New("no table produced")
		}
		return 1
	}
	if opts.normalize {
		var model *NormalizeModel
		t, model, err = Normalizer{norm}.Apply(t)
		if err != nil {
			return 1
		}
		log.WithFields(log.Fields{
			"target":       model.TargetRowMean,
			"size_factors": model.SizeFactors,
		}).Info("normalization model")
	}
	err = writeOutputs(t, opts, stdout)
	if err != nil {
		return 1
	}
	fmt.Fprintf(stderr, "%d cells, %d genes, %d metas\n", t.Len(), len(t.Domain.Attributes), len(t.Domain.Metas))
	return 0
}

func writeOutputs(t *table.Table, opts loadOptions, stdout io.Writer) error {
	if opts.output != "" {
		err := writeNumpyFile(opts.output, t.X, stdout)
		if err != nil {
			return err
		}
	}
	if opts.save != "" {
		err := table.WriteFile(opts.save, t)
		if err != nil {
			return err
		}
	}
	if opts.annotations != "" {
		err := writeAnnotations(opts.annotations, t)
		if err != nil {
			return err
		}
	}
	if opts.rows != "" {
		err := writeRows(opts.rows, t)
		if err != nil {
			return err
		}
	}
	return nil
}

// runRemote runs the same load command in an Arvados container and
// returns the output collection path.
func (cmd *loadCmd) runRemote(flags *flag.FlagSet, opts *loadOptions, cfg *Config) (string, error) {
	if opts.configFile != "" {
		return "", errors.New("cannot use -config in container mode: not implemented")
	}
	if opts.output == "-" {
		return "", errors.New("cannot write to stdout in container mode")
	}
	ram := int64(4 << 30)
	if size, err := fileSize(opts.input); err == nil && size*40 > ram {
		ram = size * 40
	}
	runner := cmd.remote.runner("load", ram)
	err := runner.TranslatePaths(&opts.input, &cfg.RowAnnotationFile, &cfg.ColAnnotationFile)
	if err != nil {
		return "", err
	}
	flags.Visit(func(f *flag.Flag) {
		if !localOnly[f.Name] {
			runner.Args = append(runner.Args, "-"+f.Name+"="+f.Value.String())
		}
	})
	runner.Args = append(runner.Args,
		"-i", opts.input,
		"-o", "/mnt/output/matrix.npy",
		"-save", "/mnt/output/table.gob.gz",
		"-annotations", "/mnt/output/annotations.csv",
		"-rows", "/mnt/output/rows.csv")
	output, err := runner.Run()
	if err != nil {
		return "", err
	}
	return output + "/", nil
}
