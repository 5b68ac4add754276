// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package scload

import (
	"errors"
	"sync/atomic"

	"gopkg.in/check.v1"
)

type throttleSuite struct{}

var _ = check.Suite(&throttleSuite{})

func (s *throttleSuite) TestLimit(c *check.C) {
	var running, peak int64
	th := throttle{Max: 3}
	for i := 0; i < 20; i++ {
		th.Go(func() error {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			atomic.AddInt64(&running, -1)
			return nil
		})
	}
	c.Check(th.Wait(), check.IsNil)
	c.Check(peak <= 3, check.Equals, true)
	c.Check(running, check.Equals, int64(0))
}

func (s *throttleSuite) TestError(c *check.C) {
	th := throttle{}
	th.Go(func() error { return errors.New("first") })
	c.Check(th.Wait(), check.ErrorMatches, "first")
	called := false
	th.Go(func() error { called = true; return errors.New("second") })
	c.Check(th.Wait(), check.ErrorMatches, "first")
	c.Check(called, check.Equals, false)
}
