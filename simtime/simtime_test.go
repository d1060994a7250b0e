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
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValid(t *testing.T) {
	assert.True(t, Zero.IsValid())
	assert.True(t, Time(1).IsValid())
	assert.False(t, Invalid.IsValid())
	assert.False(t, Time(-1).IsValid())
}

func TestAddSub(t *testing.T) {
	a := Zero.Add(200 * time.Millisecond)
	b := a.Add(40 * time.Millisecond)
	assert.Equal(t, 240*time.Millisecond, b.Sub(Zero))
}

func TestTimespecRoundTrip(t *testing.T) {
	orig := Zero.Add(1*time.Second + 500*time.Millisecond)
	ts := orig.ToTimespec()
	assert.Equal(t, int64(1), ts.Sec)
	assert.Equal(t, int64(500*time.Millisecond), ts.Nsec)
	assert.Equal(t, orig, FromTimespec(ts))
}

func TestTimevalRoundTrip(t *testing.T) {
	orig := Zero.Add(2*time.Second + 250*time.Microsecond)
	tv := orig.ToTimeval()
	assert.Equal(t, int64(2), tv.Sec)
	assert.Equal(t, int64(250), tv.Usec)
	assert.Equal(t, orig, FromTimeval(tv))
}

func TestCDFSampleWithinBoundsAndFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cdf := CDF{Center: 200 * time.Millisecond, Width: 40 * time.Millisecond, Tail: 10 * time.Millisecond}
	require.NoError(t, cdf.Validate())
	for i := 0; i < 1000; i++ {
		s := cdf.Sample(rng, time.Millisecond)
		assert.GreaterOrEqual(t, s, 180*time.Millisecond)
		assert.LessOrEqual(t, s, 220*time.Millisecond+10*time.Millisecond)
	}
}

func TestCDFSampleFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	cdf := CDF{Center: 0, Width: 0, Tail: 0}
	s := cdf.Sample(rng, 5*time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, s)
}

func TestCDFValidateRejectsNegative(t *testing.T) {
	assert.Error(t, CDF{Center: -1}.Validate())
	assert.Error(t, CDF{Width: -1}.Validate())
	assert.Error(t, CDF{Tail: -1}.Validate())
}
