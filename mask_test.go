// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"golang.org/x/exp/rand"
	"gopkg.in/check.v1"
)

type maskSuite struct{}

var _ = check.Suite(&maskSuite{})

func (s *maskSuite) TestMask(c *check.C) {
	m := buildMask(6, func(i int) bool { return i%2 == 0 })
	c.Check(m, check.DeepEquals, SamplingMask{true, false, true, false, true, false})
	c.Check(m.Retained(), check.DeepEquals, []int{0, 2, 4})
	c.Check(m.Count(), check.Equals, 3)

	cp := m.Copy()
	cp[1] = true
	c.Check(m[1], check.Equals, false)
	c.Check(SamplingMask(nil).Copy(), check.IsNil)
	c.Check(SamplingMask{false}.Retained(), check.HasLen, 0)
}

func (s *maskSuite) TestSamplingPolicy(c *check.C) {
	c.Check(samplingPolicy(false, 10, 1, 1), check.IsNil)
	c.Check(samplingPolicy(true, 100, 1, 1), check.IsNil)

	keep := samplingPolicy(true, 30, 2, DefaultSeeds.Sampling)
	c.Assert(keep, check.NotNil)
	m := buildMask(10000, keep)
	c.Check(m[0], check.Equals, true)
	c.Check(m[1], check.Equals, true)
	n := m.Count()
	c.Check(n > 2700 && n < 3300, check.Equals, true, check.Commentf("kept %d", n))

	again := buildMask(10000, samplingPolicy(true, 30, 2, DefaultSeeds.Sampling))
	c.Check(again, check.DeepEquals, m)
	other := buildMask(10000, samplingPolicy(true, 30, 2, 1))
	c.Check(other, check.Not(check.DeepEquals), m)

	none := buildMask(100, samplingPolicy(true, 0, 1, 7))
	c.Check(none.Retained(), check.DeepEquals, []int{0})
}

func (s *maskSuite) TestSampleIndices(c *check.C) {
	idx := sampleIndices(100, 10, rand.NewSource(0))
	c.Check(idx, check.HasLen, 10)
	seen := map[int]bool{}
	for i, x := range idx {
		c.Check(x >= 0 && x < 100, check.Equals, true)
		c.Check(seen[x], check.Equals, false)
		seen[x] = true
		if i > 0 {
			c.Check(x > idx[i-1], check.Equals, true)
		}
	}
	c.Check(sampleIndices(100, 10, rand.NewSource(0)), check.DeepEquals, idx)
	c.Check(sampleIndices(3, 5, rand.NewSource(0)), check.DeepEquals, []int{0, 1, 2})
	c.Check(sampleIndices(3, -1, rand.NewSource(0)), check.HasLen, 0)

	n, ok := sampleSize(true, 50, 10)
	c.Check(n, check.Equals, 5)
	c.Check(ok, check.Equals, true)
	_, ok = sampleSize(true, 50, 3)
	c.Check(ok, check.Equals, false)
	_, ok = sampleSize(false, 50, 100)
	c.Check(ok, check.Equals, false)
}
