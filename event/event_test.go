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

package event

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/purpleidea/shadow/simtime"
)

func mkEvent(t simtime.Time, dst, src string, seq uint64) *Event {
	return NewEvent(NewTask(nil, nil), t, dst, src, seq)
}

func TestTotalOrderByTime(t *testing.T) {
	a := mkEvent(simtime.Zero, "h1", "h1", 0)
	b := mkEvent(simtime.Zero.Add(1), "h1", "h1", 0)
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
}

func TestTotalOrderTiesBreakOnDstThenSrcThenSeq(t *testing.T) {
	a := mkEvent(simtime.Zero, "h1", "src", 0)
	b := mkEvent(simtime.Zero, "h2", "src", 0)
	assert.True(t, Less(a, b))

	c := mkEvent(simtime.Zero, "h1", "srcA", 0)
	d := mkEvent(simtime.Zero, "h1", "srcB", 0)
	assert.True(t, Less(c, d))

	e := mkEvent(simtime.Zero, "h1", "src", 1)
	f := mkEvent(simtime.Zero, "h1", "src", 2)
	assert.True(t, Less(e, f))
}

func TestEqualRequiresAllFourFields(t *testing.T) {
	a := mkEvent(simtime.Zero, "h1", "src", 3)
	b := mkEvent(simtime.Zero, "h1", "src", 3)
	assert.True(t, Equal(a, b))

	c := mkEvent(simtime.Zero, "h1", "src", 4)
	assert.False(t, Equal(a, c))
}

func TestTaskRunsFnThenCallback(t *testing.T) {
	var order []string
	task := NewTask(func(now simtime.Time) { order = append(order, "fn") }, func() { order = append(order, "cb") })
	task.Run(simtime.Zero)
	assert.Equal(t, []string{"fn", "cb"}, order)
}
