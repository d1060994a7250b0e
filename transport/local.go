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

package transport

import (
	"github.com/purpleidea/shadow/packet"
)

// LocalPipe is an in-process ring-buffer pair: same-host traffic that
// never touches the network graph or the scheduler's transit delay. Its
// two ends flip readiness with occupancy, same-tick.
type LocalPipe struct {
	a, b *Socket
}

// NewLocalPipe builds a connected pair of local sockets on hostID, with
// srcPort/dstPort addressing their LocalHeader, each end backed by
// notifierA/notifierB for epoll readiness.
func NewLocalPipe(hostID string, srcPort, dstPort Descriptor, recvMax int, notifierA, notifierB Notifier) *LocalPipe {
	return &LocalPipe{
		a: NewSocket(Stream, hostID, srcPort, recvMax, notifierA),
		b: NewSocket(Stream, hostID, dstPort, recvMax, notifierB),
	}
}

// A returns the first endpoint of the pair.
func (lp *LocalPipe) A() *Socket { return lp.a }

// B returns the second endpoint of the pair.
func (lp *LocalPipe) B() *Socket { return lp.b }

// SendAtoB delivers payload from end A to end B's receive buffer
// immediately — no scheduler round-trip, matching spec.md's rule that
// local pipes carry no network effects.
func (lp *LocalPipe) SendAtoB(srcPort, dstPort uint16, payload []byte, priority uint32) bool {
	p := packet.New(payload, priority)
	p.SetLocal(packet.LocalHeader{SrcPort: srcPort, DstPort: dstPort})
	ok := lp.b.Enqueue(p)
	p.Unref()
	return ok
}

// SendBtoA delivers payload from end B to end A's receive buffer.
func (lp *LocalPipe) SendBtoA(srcPort, dstPort uint16, payload []byte, priority uint32) bool {
	p := packet.New(payload, priority)
	p.SetLocal(packet.LocalHeader{SrcPort: srcPort, DstPort: dstPort})
	ok := lp.a.Enqueue(p)
	p.Unref()
	return ok
}
