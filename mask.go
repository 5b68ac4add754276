// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

// SamplingMask marks, for each row (or column) of the source file,
// whether it was retained. Header rows/columns are always retained.
type SamplingMask []bool

// buildMask evaluates keep over [0,n).
func buildMask(n int, keep keepFunc) SamplingMask {
	m := make(SamplingMask, n)
	for i := range m {
		m[i] = keep(i)
	}
	return m
}

// Retained returns the indices of the true entries, in order.
func (m SamplingMask) Retained() []int {
	var idx []int
	for i, keep := range m {
		if keep {
			idx = append(idx, i)
		}
	}
	return idx
}

// Count returns the number of true entries.
func (m SamplingMask) Count() int {
	n := 0
	for _, keep := range m {
		if keep {
			n++
		}
	}
	return n
}

// Copy returns an independent copy of m (nil stays nil).
func (m SamplingMask) Copy() SamplingMask {
	if m == nil {
		return nil
	}
	return append(SamplingMask(nil), m...)
}
