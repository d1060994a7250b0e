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

package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetHeaderOnlyOnce(t *testing.T) {
	p := New([]byte("hello"), 0)
	p.SetUDP(UDPHeader{SrcPort: 1, DstPort: 2})
	assert.Equal(t, ProtocolUDP, p.Protocol())
	assert.Panics(t, func() { p.SetTCP(TCPHeader{}) })
}

func TestTraceIsAppendOnlyAndUnioned(t *testing.T) {
	p := New([]byte("x"), 0)
	p.AppendStatus(SndSocketBuffered)
	p.AppendStatus(SndInterfaceSent)
	p.AppendStatus(InetSent)

	trace := p.Trace()
	require.Len(t, trace, 4) // SndCreated + 3
	assert.Equal(t, SndCreated, trace[0])
	assert.Equal(t, InetSent, trace[3])

	all := p.AllStatuses()
	assert.True(t, all[SndCreated])
	assert.True(t, all[InetSent])
	assert.False(t, all[Destroyed])
}

func TestRefCounting(t *testing.T) {
	p := New([]byte("data"), 0)
	assert.EqualValues(t, 1, p.RefCount())
	p.Ref()
	assert.EqualValues(t, 2, p.RefCount())
	p.Unref()
	assert.False(t, p.HasStatus(Destroyed))
	p.Unref()
	assert.True(t, p.HasStatus(Destroyed))
	assert.Nil(t, p.Payload())
}

func TestPayloadCopiedNotAliased(t *testing.T) {
	buf := []byte("abc")
	p := New(buf, 0)
	buf[0] = 'z'
	assert.Equal(t, byte('a'), p.Payload()[0])
}
