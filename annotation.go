// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/arvados/scload/table"
)

// sidecarDelimiter returns ',' for .csv files (ignoring a compression
// suffix) and tab for everything else.
func sidecarDelimiter(fnm string) rune {
	base, _ := stripCompression(fnm)
	if filepath.Ext(base) == ".csv" {
		return ','
	}
	return '\t'
}

// readAnnotation reads a delimited annotation file. The first header
// lines (if any) are skipped; the first of them supplies column names
// unless names is given. Without either, columns are named by
// position. If names has fewer entries than the file has fields, the
// leading extra fields are ignored.
func readAnnotation(fnm string, header int, names []string) (*frame, error) {
	rdr, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer rdr.Close()
	cr := newCSVReader(rdr, sidecarDelimiter(fnm))
	var recs [][]string
	var headerNames []string
	for i := 0; ; i++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", fnm, err)
		}
		if i < header {
			if i == 0 {
				headerNames = rec
			}
			continue
		}
		recs = append(recs, rec)
	}
	if names == nil {
		names = headerNames
	}
	if names == nil && len(recs) > 0 {
		for j := range recs[0] {
			names = append(names, strconv.Itoa(j))
		}
	}
	f := &frame{names: append([]string(nil), names...), cols: make([][]string, len(names))}
	for i, rec := range recs {
		skip := len(rec) - len(names)
		if skip < 0 {
			return nil, fmt.Errorf("%s: line %d: %d fields, expected %d", fnm, i+header+1, len(rec), len(names))
		}
		for j := range names {
			f.cols[j] = append(f.cols[j], rec[skip+j])
		}
	}
	for j := range f.cols {
		if f.cols[j] == nil {
			f.cols[j] = []string{}
		}
	}
	return f, nil
}

// mergeAnnotation lines up an annotation frame with the n retained
// rows (or columns) of the matrix. The annotation must have one entry
// per source row, header rows excluded; when sampling was applied
// (mask != nil), only the retained entries are kept.
//
// Annotation columns that repeat a level of ix are redundant: an
// unnamed index level is dropped in favor of the annotation column,
// and an annotation column with the same name as the level is dropped
// in favor of the index.
func mergeAnnotation(ann *frame, mask SamplingMask, leading, n int, ix index) (*frame, index, *Mismatch) {
	expected := n
	if mask != nil {
		expected = len(mask) - leading
	}
	if ann.nrows() != expected {
		return nil, ix, &Mismatch{Expected: expected, Actual: ann.nrows()}
	}
	if mask != nil {
		ann = ann.take(SamplingMask(mask[leading:]).Retained())
	}
	if ix.levels == nil {
		return ann, ix, nil
	}
	var dropCols, dropLevels []int
	for l, level := range ix.levels {
		if l >= len(ann.cols) || !equalStrings(ann.cols[l], level) {
			continue
		}
		if ix.names[l] == "" {
			dropLevels = append(dropLevels, l)
		} else if ix.names[l] == ann.names[l] {
			dropCols = append(dropCols, l)
		}
	}
	return ann.dropCols(dropCols), ix.dropLevels(dropLevels), nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// annotateAttributes attaches the column annotation values to each
// attribute as key/value attributes. If the matrix had no column
// names of its own, the first annotation column supplies them.
func annotateAttributes(attrs []*table.Variable, colIndex index, ann *frame, cols int) []*table.Variable {
	if len(ann.cols) == 0 {
		return attrs
	}
	if (len(attrs) == 0 || colIndex.levels == nil) && cols > 0 {
		attrs = make([]*table.Variable, ann.nrows())
		for j, name := range ann.cols[0] {
			attrs[j] = table.NewContinuous(name)
		}
	}
	for j, v := range attrs {
		if j >= ann.nrows() {
			break
		}
		if v.Attributes == nil {
			v.Attributes = map[string]string{}
		}
		for k, name := range ann.names {
			v.Attributes[name] = ann.cols[k][j]
		}
	}
	return attrs
}
