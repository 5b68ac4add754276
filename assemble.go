// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"fmt"

	"github.com/arvados/scload/table"
	"gonum.org/v1/gonum/mat"
)

// assemble builds the output table from the attribute variables, the
// cell-by-gene matrix and the metadata frames, which are placed side
// by side as string metas. If attrs is empty, generic feature names
// are used.
func assemble(attrs []*table.Variable, X *mat.Dense, parts []*frame) (*table.Table, error) {
	rows, cols := X.Dims()
	if len(attrs) == 0 && cols > 0 {
		attrs = table.FeatureVariables(cols)
	}
	var metas []*table.Variable
	var blocks [][]string
	for _, part := range parts {
		if len(part.cols) == 0 {
			continue
		}
		if part.nrows() != rows {
			return nil, fmt.Errorf("%w: %d metadata rows, %d data rows", table.ErrShape, part.nrows(), rows)
		}
		for j, name := range part.names {
			metas = append(metas, table.NewString(name))
			blocks = append(blocks, part.cols[j])
		}
	}
	M := make([][]string, rows)
	for i := range M {
		M[i] = make([]string, len(blocks))
		for j, col := range blocks {
			M[i][j] = col[i]
		}
	}
	return table.New(table.NewDomain(attrs, metas), X, M)
}
