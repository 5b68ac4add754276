// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"fmt"
	"strconv"
	"strings"
)

// index labels the rows (or columns) of a raw matrix. Labels come
// from header rows/columns of the source; when there are none, the
// index is positional.
type index struct {
	names  []string   // level names, "" if unnamed
	levels [][]string // level values; nil for a positional index
	pos    []int      // original positions, if levels is nil

	// anonymous indexes never supply attribute names
	anonymous bool
}

func rangeIndex(n int) index {
	pos := make([]int, n)
	for i := range pos {
		pos[i] = i
	}
	return index{pos: pos}
}

func (ix index) Len() int {
	if ix.levels != nil {
		return len(ix.levels[0])
	}
	return len(ix.pos)
}

// integer reports whether every label is an integer. Integer indexes
// are not carried into the assembled table's metadata.
func (ix index) integer() bool {
	if ix.levels == nil {
		return true
	}
	if len(ix.levels) > 1 {
		return false
	}
	for _, s := range ix.levels[0] {
		if _, err := strconv.Atoi(s); err != nil {
			return false
		}
	}
	return true
}

// labels returns one label per entry; multi-level labels are joined
// with a space.
func (ix index) labels() []string {
	out := make([]string, ix.Len())
	if ix.levels == nil {
		for i, p := range ix.pos {
			out[i] = strconv.Itoa(p)
		}
		return out
	}
	parts := make([]string, len(ix.levels))
	for i := range out {
		for l, level := range ix.levels {
			parts[l] = level[i]
		}
		out[i] = strings.Join(parts, " ")
	}
	return out
}

// dropLevels removes the given levels. Dropping every level leaves a
// range index.
func (ix index) dropLevels(drop []int) index {
	if len(drop) == 0 || ix.levels == nil {
		return ix
	}
	skip := map[int]bool{}
	for _, l := range drop {
		skip[l] = true
	}
	out := index{anonymous: ix.anonymous}
	for l := range ix.levels {
		if !skip[l] {
			out.names = append(out.names, ix.names[l])
			out.levels = append(out.levels, ix.levels[l])
		}
	}
	if out.levels == nil {
		return rangeIndex(ix.Len())
	}
	return out
}

// frame turns a labeled index into metadata columns. Unnamed levels
// are called "index" (single level) or "level_N".
func (ix index) frame() *frame {
	f := &frame{}
	if ix.integer() {
		return f
	}
	for l, level := range ix.levels {
		name := ix.names[l]
		if name == "" {
			if len(ix.levels) == 1 {
				name = "index"
			} else {
				name = fmt.Sprintf("level_%d", l)
			}
		}
		f.names = append(f.names, name)
		f.cols = append(f.cols, level)
	}
	return f
}

// frame is a column-major block of string metadata.
type frame struct {
	names []string
	cols  [][]string
}

func (f *frame) nrows() int {
	if len(f.cols) == 0 {
		return 0
	}
	return len(f.cols[0])
}

func (f *frame) take(rows []int) *frame {
	out := &frame{names: f.names, cols: make([][]string, len(f.cols))}
	for j, col := range f.cols {
		out.cols[j] = make([]string, len(rows))
		for i, r := range rows {
			out.cols[j][i] = col[r]
		}
	}
	return out
}

func (f *frame) dropCols(drop []int) *frame {
	if len(drop) == 0 {
		return f
	}
	skip := map[int]bool{}
	for _, j := range drop {
		skip[j] = true
	}
	out := &frame{}
	for j := range f.cols {
		if !skip[j] {
			out.names = append(out.names, f.names[j])
			out.cols = append(out.cols, f.cols[j])
		}
	}
	return out
}
