// Shadow
// Copyright (C) 2013-2024+ James Shubin and the project contributors
// Written by James Shubin <james@shubin.ca> and the project contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package simtime

import (
	"fmt"
	"math/rand"
	"time"
)

// CDF is a cumulative distribution function used to draw a latency sample.
// It is characterized by a center, a width (the latency is uniformly
// distributed across [center-width/2, center+width/2]) and a tail that
// extends the upper bound for a small fraction of draws, approximating the
// long tail real network links show under load.
type CDF struct {
	Center time.Duration
	Width  time.Duration
	Tail   time.Duration
}

// Validate checks that the CDF parameters make sense.
func (c CDF) Validate() error {
	if c.Center < 0 {
		return fmt.Errorf("cdf: center must be >= 0, got %v", c.Center)
	}
	if c.Width < 0 {
		return fmt.Errorf("cdf: width must be >= 0, got %v", c.Width)
	}
	if c.Tail < 0 {
		return fmt.Errorf("cdf: tail must be >= 0, got %v", c.Tail)
	}
	return nil
}

// Sample draws one latency value from the distribution, floored at floor
// (the runahead floor, per spec). About one in fifty samples lands in the
// tail to model the occasional slow path without making it dominant.
func (c CDF) Sample(rng *rand.Rand, floor time.Duration) time.Duration {
	lo := c.Center - c.Width/2
	hi := c.Center + c.Width/2
	if lo < 0 {
		lo = 0
	}
	span := hi - lo
	var sample time.Duration
	if span <= 0 {
		sample = c.Center
	} else {
		sample = lo + time.Duration(rng.Int63n(int64(span)+1))
	}
	if c.Tail > 0 && rng.Intn(50) == 0 {
		sample += time.Duration(rng.Int63n(int64(c.Tail) + 1))
	}
	if sample < floor {
		sample = floor
	}
	return sample
}
