// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"errors"

	"github.com/arvados/scload/table"
	"golang.org/x/exp/rand"
)

var errNotProbed = errors.New("serialized tables are not probed")

// serializedFormat reads a table previously written by table.Write
// (see "scload load -save"). Header, orientation and annotation
// options do not apply; only row/column sampling does.
type serializedFormat struct{}

func (serializedFormat) setup(l *Loader) {
	l.Config.HeaderRows, l.Config.HeaderCols = 0, 0
	l.Config.Transposed = false
	l.Config.RowAnnotations = false
	l.Config.ColAnnotations = false
	l.optionsEditable = false
	l.annotationsEditable = false
}

func (serializedFormat) probe(l *Loader) {}

func (serializedFormat) leading(Config) (int, int) { return 0, 0 }

func (serializedFormat) columns(*Loader) (int, error) { return 0, errNotProbed }

func (serializedFormat) read(*Loader, *invocation) (*rawTable, error) {
	return nil, errNotProbed
}

// produce reads the whole table, then keeps a fixed-size random
// sample of its attributes and rows. Small tables (3 or fewer rows or
// columns) are never sampled.
func (serializedFormat) produce(l *Loader, inv *invocation) (*table.Table, error) {
	rdr, err := zopen(l.path)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()
	t, err := table.Read(rdr)
	if err != nil {
		return nil, err
	}
	nrows, ncols := t.Len(), len(t.Domain.Attributes)
	l.NRows, l.NCols = probedInt(int64(nrows), nil), probedInt(int64(ncols), nil)

	src := rand.NewSource(l.Seeds.Serialized)
	var attrs, rows []int
	if n, ok := sampleSize(inv.cfg.SampleCols, inv.cfg.SampleColsPercent, ncols); ok {
		attrs = sampleIndices(ncols, n, src)
	}
	if n, ok := sampleSize(inv.cfg.SampleRows, inv.cfg.SampleRowsPercent, nrows); ok {
		rows = sampleIndices(nrows, n, src)
	}
	if attrs == nil && rows == nil {
		return t, nil
	}
	return t.Subset(rows, attrs), nil
}

// sampleSize returns the number of items to keep out of n, and
// whether sampling applies at all.
func sampleSize(enabled bool, percent float64, n int) (int, bool) {
	if !enabled || percent >= 100 || n <= 3 {
		return n, false
	}
	return int(float64(n) * percent / 100), true
}
