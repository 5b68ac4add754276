// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"errors"
	"fmt"

	"github.com/arvados/scload/table"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Config holds the caller-adjustable reading parameters of a
// Loader. It is copied at the start of each Produce call, so changes
// made during a call have no effect on it.
type Config struct {
	Delimiter  string `json:"delimiter"`
	HeaderRows int    `json:"header_rows"`
	HeaderCols int    `json:"header_cols"`

	// Source rows are genes, columns are cells.
	Transposed bool `json:"transposed"`

	// Sampling refers to output orientation: rows are cells,
	// columns are genes.
	SampleRows        bool    `json:"sample_rows"`
	SampleRowsPercent float64 `json:"sample_rows_percent"`
	SampleCols        bool    `json:"sample_cols"`
	SampleColsPercent float64 `json:"sample_cols_percent"`

	RowAnnotations       bool     `json:"row_annotations"`
	RowAnnotationFile    string   `json:"row_annotation_file"`
	RowAnnotationHeader  int      `json:"row_annotation_header"`
	RowAnnotationColumns []string `json:"row_annotation_columns"`

	ColAnnotations       bool     `json:"col_annotations"`
	ColAnnotationFile    string   `json:"col_annotation_file"`
	ColAnnotationHeader  int      `json:"col_annotation_header"`
	ColAnnotationColumns []string `json:"col_annotation_columns"`
}

func (cfg Config) clone() Config {
	if cfg.RowAnnotationColumns != nil {
		cfg.RowAnnotationColumns = append([]string(nil), cfg.RowAnnotationColumns...)
	}
	if cfg.ColAnnotationColumns != nil {
		cfg.ColAnnotationColumns = append([]string(nil), cfg.ColAnnotationColumns...)
	}
	return cfg
}

func (cfg Config) delimiter() rune {
	for _, r := range cfg.Delimiter {
		return r
	}
	return '\t'
}

type ProbeState int

const (
	NotProbed ProbeState = iota
	Probed
	ProbeFailed
)

// ProbedInt is a file property estimated when the Loader is
// constructed. Value is meaningful only if State is Probed.
type ProbedInt struct {
	Value int64
	State ProbeState
	Err   error
}

func (p ProbedInt) Known() bool { return p.State == Probed }

func (p ProbedInt) String() string {
	if !p.Known() {
		return "unknown"
	}
	return fmt.Sprintf("%d", p.Value)
}

type ProbedFloat struct {
	Value float64
	State ProbeState
	Err   error
}

func (p ProbedFloat) Known() bool { return p.State == Probed }

func (p ProbedFloat) String() string {
	if !p.Known() {
		return "unknown"
	}
	return fmt.Sprintf("%.4f", p.Value)
}

func probedInt(v int64, err error) ProbedInt {
	if err != nil {
		return ProbedInt{State: ProbeFailed, Err: err}
	}
	return ProbedInt{Value: v, State: Probed}
}

func probedFloat(v float64, err error) ProbedFloat {
	if err != nil {
		return ProbedFloat{State: ProbeFailed, Err: err}
	}
	return ProbedFloat{Value: v, State: Probed}
}

// Loader reads one expression matrix file (plus sidecar
// annotations) into a table.Table. Construct with NewLoader, adjust
// Config, then call Produce.
type Loader struct {
	Config Config
	Seeds  Seeds

	FileSize ProbedInt
	NRows    ProbedInt
	NCols    ProbedInt
	Sparsity ProbedFloat

	path                string
	format              Format
	optionsEditable     bool
	annotationsEditable bool
	errors              ErrorMap
}

// DefaultConfig returns the configuration of a tab-delimited file
// with one header row and one label column. Formats adjust it in
// NewLoaderFormat.
func DefaultConfig() Config {
	return Config{
		Delimiter:           "\t",
		HeaderRows:          1,
		HeaderCols:          1,
		SampleRowsPercent:   100,
		SampleColsPercent:   100,
		RowAnnotations:      true,
		RowAnnotationHeader: 1,
		ColAnnotations:      true,
		ColAnnotationHeader: 1,
	}
}

// NewLoaderFormat returns a loader for path using the given format,
// with that format's default configuration and probe results.
func NewLoaderFormat(path string, f Format) *Loader {
	l := &Loader{
		Config:              DefaultConfig(),
		Seeds:               DefaultSeeds,
		path:                path,
		format:              f,
		optionsEditable:     true,
		annotationsEditable: true,
		errors:              ErrorMap{},
	}
	impl := l.impl()
	impl.setup(l)
	l.FileSize = probedInt(fileSize(path))
	impl.probe(l)
	if l.NRows.State == ProbeFailed {
		log.WithField("path", path).Debugf("probe: %s", l.NRows.Err)
	}
	if l.Sparsity.State == ProbeFailed {
		log.WithField("path", path).Debugf("probe sparsity: %s", l.Sparsity.Err)
	}
	return l
}

func (l *Loader) impl() format { return formats[l.format] }

func (l *Loader) Path() string   { return l.path }
func (l *Loader) Format() Format { return l.format }

// OptionsEditable reports whether header counts and orientation are
// meaningful for the caller to change (false for formats whose shape
// is fixed).
func (l *Loader) OptionsEditable() bool { return l.optionsEditable }

// AnnotationsEditable reports whether the annotation file settings
// may be changed. It is false when the format pins its sidecars.
func (l *Loader) AnnotationsEditable() bool { return l.annotationsEditable }

// NGenes returns the probed number of genes, taking orientation into
// account.
func (l *Loader) NGenes() ProbedInt {
	if l.Config.Transposed {
		return l.NRows
	}
	return l.NCols
}

// NCells returns the probed number of cells, taking orientation into
// account.
func (l *Loader) NCells() ProbedInt {
	if l.Config.Transposed {
		return l.NCols
	}
	return l.NRows
}

// Errors returns the problems recorded by the last Produce call.
func (l *Loader) Errors() ErrorMap { return l.errors }

// Copy returns a new Loader for the same file with an independent
// copy of l's configuration.
func (l *Loader) Copy() *Loader {
	cp := *l
	cp.Config = l.Config.clone()
	cp.errors = ErrorMap{}
	return &cp
}

// invocation is the per-Produce state: a snapshot of the config and
// everything derived from it. Masks and leading counts are in source
// file orientation until reorient is called.
type invocation struct {
	cfg         Config
	leadingRows int
	leadingCols int
	keepRow     keepFunc
	keepCol     keepFunc
	rowMask     SamplingMask
	colMask     SamplingMask
	useCols     []int
	transposed  bool
}

// rawTable is what a format reader returns: the matrix in source
// orientation, labeled by rowIndex and colIndex.
type rawTable struct {
	X        *mat.Dense
	rowIndex index
	colIndex index
}

func (l *Loader) newInvocation() *invocation {
	cfg := l.Config.clone()
	inv := &invocation{cfg: cfg}
	inv.leadingRows, inv.leadingCols = l.impl().leading(cfg)

	// Sampling options refer to cells/genes; map them onto source
	// rows/columns.
	rowOn, rowPct := cfg.SampleRows, cfg.SampleRowsPercent
	colOn, colPct := cfg.SampleCols, cfg.SampleColsPercent
	if cfg.Transposed {
		rowOn, rowPct, colOn, colPct = colOn, colPct, rowOn, rowPct
	}
	inv.keepRow = samplingPolicy(rowOn, rowPct, inv.leadingRows, l.Seeds.Sampling)
	inv.keepCol = samplingPolicy(colOn, colPct, inv.leadingCols, l.Seeds.Sampling)
	return inv
}

// reorient swaps row and column roles if the source is transposed.
func (inv *invocation) reorient(raw *rawTable) {
	if !inv.cfg.Transposed {
		return
	}
	inv.transposed = true
	inv.rowMask, inv.colMask = inv.colMask, inv.rowMask
	inv.leadingRows, inv.leadingCols = inv.leadingCols, inv.leadingRows
	raw.rowIndex, raw.colIndex = raw.colIndex, raw.rowIndex
	r, c := raw.X.Dims()
	if r > 0 && c > 0 {
		var t mat.Dense
		t.CloneFrom(raw.X.T())
		raw.X = &t
	} else {
		raw.X = table.NewDense(c, r)
	}
}

// fileLeading returns the leading header counts in source file
// orientation.
func (inv *invocation) fileLeading() (int, int) {
	if inv.transposed {
		return inv.leadingCols, inv.leadingRows
	}
	return inv.leadingRows, inv.leadingCols
}

func (l *Loader) fail(kind ErrorKind, err error) {
	log.WithField("path", l.path).Warnf("%s: %s", kind, err)
	l.errors[kind] = err
}

// Produce reads the file and returns the assembled table. It returns
// nil if the file could not be read or its headers do not fit the
// data; in every case Errors() describes what went wrong.
func (l *Loader) Produce() *table.Table {
	l.errors = ErrorMap{}
	inv := l.newInvocation()
	impl := l.impl()

	if p, ok := impl.(producer); ok {
		t, err := p.produce(l, inv)
		if err != nil {
			l.fail(ReadingError, &ReadError{Err: fmt.Errorf("%s: %w", l.path, err)})
			return nil
		}
		return t
	}

	log.WithField("path", l.path).Infof("reading %s", l.format)
	if inv.keepCol != nil {
		ncols, err := impl.columns(l)
		if err != nil {
			l.fail(ReadingError, &ReadError{Err: fmt.Errorf("%s: %w", l.path, err)})
			return nil
		}
		inv.colMask = buildMask(ncols, func(i int) bool {
			return inv.keepCol(i) || i < inv.leadingCols
		})
		inv.useCols = inv.colMask.Retained()
	}

	raw, err := impl.read(l, inv)
	if errors.Is(err, table.ErrShape) {
		l.fail(InadequateHeaders, &HeaderMismatch{Rows: inv.leadingRows, Cols: inv.leadingCols, Err: err})
		return nil
	} else if err != nil {
		l.fail(ReadingError, &ReadError{Err: fmt.Errorf("%s: %w", l.path, err)})
		return nil
	}
	inv.reorient(raw)
	rows, cols := raw.X.Dims()
	log.WithFields(log.Fields{"rows": rows, "cols": cols}).Infof("read %s", l.path)

	var attrs []*table.Variable
	if !raw.colIndex.anonymous {
		for _, name := range raw.colIndex.labels() {
			attrs = append(attrs, table.NewContinuous(name))
		}
	}

	metaIndex := raw.rowIndex
	var rowAnnot *frame
	if inv.cfg.RowAnnotations && inv.cfg.RowAnnotationFile != "" {
		ann, err := readAnnotation(inv.cfg.RowAnnotationFile, inv.cfg.RowAnnotationHeader, inv.cfg.RowAnnotationColumns)
		if err != nil {
			l.fail(ReadingError, &ReadError{Err: err})
			return nil
		}
		var mm *Mismatch
		rowAnnot, metaIndex, mm = mergeAnnotation(ann, inv.rowMask, inv.leadingRows, rows, metaIndex)
		if mm != nil {
			l.fail(RowAnnotMismatch, mm)
		}
	}

	if inv.cfg.ColAnnotations && inv.cfg.ColAnnotationFile != "" {
		ann, err := readAnnotation(inv.cfg.ColAnnotationFile, inv.cfg.ColAnnotationHeader, inv.cfg.ColAnnotationColumns)
		if err != nil {
			l.fail(ReadingError, &ReadError{Err: err})
			return nil
		}
		colAnnot, _, mm := mergeAnnotation(ann, inv.colMask, inv.leadingCols, cols, raw.colIndex)
		if mm != nil {
			l.fail(ColAnnotMismatch, mm)
		} else {
			attrs = annotateAttributes(attrs, raw.colIndex, colAnnot, cols)
		}
	}

	parts := []*frame{metaIndex.frame()}
	if rowAnnot != nil {
		parts = append(parts, rowAnnot)
	}
	t, err := assemble(attrs, raw.X, parts)
	if err != nil {
		hr, hc := inv.fileLeading()
		l.fail(InadequateHeaders, &HeaderMismatch{Rows: hr, Cols: hc, Err: err})
		return nil
	}
	return t
}
