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
	"context"
	"math/rand"

	"github.com/purpleidea/shadow/packet"
	"github.com/purpleidea/shadow/simtime"
)

// UDPEndpoint is an unreliable, unordered datagram socket. Every send is
// an independent packet; loss and reordering both come from Network.
type UDPEndpoint struct {
	*Socket

	Net     *Network
	LocalAddr string
	LocalPort uint16
}

// NewUDPEndpoint builds a UDP endpoint bound to localAddr:localPort and
// registers it with the network's demux table under (hostID, localPort)
// so inbound datagrams addressed here find their way back regardless of
// who sent them.
func NewUDPEndpoint(net *Network, hostID string, descriptor Descriptor, localAddr string, localPort uint16, recvMax int, notifier Notifier) *UDPEndpoint {
	u := &UDPEndpoint{
		Socket:    NewSocket(Datagram, hostID, descriptor, recvMax, notifier),
		Net:       net,
		LocalAddr: localAddr,
		LocalPort: localPort,
	}
	net.RegisterUDP(hostID, localPort, u)
	return u
}

// SendTo transmits payload to dstAddr:dstPort. It never blocks and never
// reports delivery failure to the caller — that is the nature of UDP.
func (u *UDPEndpoint) SendTo(ctx context.Context, rng *rand.Rand, now simtime.Time, srcEventID uint64, dstHostID, dstAddr string, dstPort uint16, payload []byte, priority uint32) error {
	p := packet.New(payload, priority)
	p.SetUDP(packet.UDPHeader{
		SrcAddr: u.LocalAddr,
		SrcPort: u.LocalPort,
		DstAddr: dstAddr,
		DstPort: dstPort,
	})
	p.AppendStatus(packet.SndSocketBuffered)
	p.AppendStatus(packet.SndInterfaceSent)

	return u.Net.Send(ctx, rng, now, u.HostID, dstHostID, srcEventID, p, u.Net.udpDeliver(dstHostID, dstPort))
}

// Recv returns the next buffered datagram's payload, or nil if none is
// ready.
func (u *UDPEndpoint) Recv() []byte {
	p := u.Dequeue()
	if p == nil {
		return nil
	}
	defer p.Unref()
	return p.Payload()
}
