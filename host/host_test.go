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

package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purpleidea/shadow/cpu"
	"github.com/purpleidea/shadow/simtime"
)

func TestDNSLoopbackPreregistered(t *testing.T) {
	d := NewDNS()
	addr, ok := d.Lookup(Loopback)
	require.True(t, ok)
	assert.Equal(t, LoopbackAddr, addr)
}

func TestDNSRegisterAndReverse(t *testing.T) {
	d := NewDNS()
	require.NoError(t, d.Register("node0", "11.0.0.1"))
	addr, ok := d.Lookup("node0")
	require.True(t, ok)
	assert.Equal(t, "11.0.0.1", addr)

	name, ok := d.Reverse("11.0.0.1")
	require.True(t, ok)
	assert.Equal(t, "node0", name)
}

func TestDNSRejectsConflictingRegistration(t *testing.T) {
	d := NewDNS()
	require.NoError(t, d.Register("node0", "11.0.0.1"))
	assert.Error(t, d.Register("node0", "11.0.0.2"))
	assert.Error(t, d.Register("node1", "11.0.0.1"))
}

func TestDNSFreezeRejectsFurtherRegistration(t *testing.T) {
	d := NewDNS()
	d.Freeze()
	assert.Error(t, d.Register("node0", "11.0.0.1"))
}

func TestHostAddAndLookupProcess(t *testing.T) {
	h := New(Options{ID: "node0", Addr: "11.0.0.1"})
	h.AddProcess("echo", nil)
	p, ok := h.Process("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", p.Name)
	assert.Equal(t, uint64(1), p.NextEventID())
	assert.Equal(t, uint64(2), p.NextEventID())
}

func TestHostCPUGateBlocksAboveThreshold(t *testing.T) {
	h := New(Options{
		ID:   "node0",
		Addr: "11.0.0.1",
		CPU: cpu.Options{
			Frequency:    1,
			RawFrequency: 1,
			Threshold:    time.Microsecond,
		},
	})
	h.CPU.AddDelay(time.Millisecond)
	assert.True(t, h.IsBlocked(simtime.Zero))
	assert.Greater(t, h.Delay(simtime.Zero), time.Duration(0))
}

func TestHostAllocatesDescriptorsAndHasEpollSet(t *testing.T) {
	h := New(Options{ID: "node0", Addr: "11.0.0.1"})
	require.NotNil(t, h.Epoll)
	defer h.Epoll.Close()

	a := h.NextDescriptor()
	b := h.NextDescriptor()
	assert.NotEqual(t, a, b)
}

func TestRegistryDispatchesCPUGate(t *testing.T) {
	r := NewRegistry()
	h := New(Options{ID: "node0", Addr: "11.0.0.1", CPU: cpu.Options{Threshold: cpu.NeverBlocks}})
	require.NoError(t, r.Add(h))
	require.Error(t, r.Add(h))

	assert.False(t, r.IsBlocked("node0", simtime.Zero))
	assert.False(t, r.IsBlocked("ghost", simtime.Zero))
	assert.Equal(t, time.Duration(0), r.Delay("ghost", simtime.Zero))
}
