// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Seeds for the three stochastic steps. Identical file, config and
// seeds always give identical results.
type Seeds struct {
	Probe      uint64 // column choice when estimating sparsity
	Sampling   uint64 // per-index row/column retention in text formats
	Serialized uint64 // fixed-size row/column sample of serialized tables
}

var DefaultSeeds = Seeds{
	Probe:      42,
	Sampling:   0x667,
	Serialized: 0,
}

// keepFunc reports whether the source row/column at index i is
// retained.
type keepFunc func(i int) bool

// samplingPolicy returns a retention test that keeps each index with
// probability percent/100, or nil if nothing is sampled away.
// Indexes below headers are always kept and consume no draw.
func samplingPolicy(enabled bool, percent float64, headers int, seed uint64) keepFunc {
	if !enabled || percent >= 100 {
		return nil
	}
	draw := distuv.Uniform{Min: 0, Max: 100, Src: rand.NewSource(seed)}
	return func(i int) bool {
		if i < headers {
			return true
		}
		return draw.Rand() <= percent
	}
}

// sampleIndices returns k distinct indices chosen uniformly from
// [0,n), in ascending order.
func sampleIndices(n, k int, src rand.Source) []int {
	if k >= n {
		return seq(n)
	}
	if k < 0 {
		k = 0
	}
	pool := seq(n)
	chosen := make([]int, 0, k)
	for plen := n; len(chosen) < k; {
		i := int(src.Uint64() % uint64(plen))
		chosen = append(chosen, pool[i])
		plen--
		pool[i] = pool[plen]
	}
	sort.Ints(chosen)
	return chosen
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}
