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

// Package echo is a built-in application plug-in: it binds one UDP
// endpoint and echoes every datagram back to its sender. Since dynamic
// plug-in loading is out of scope (spec.md §1), this stands in for the
// "echo" image the --echo CLI flag and a <plugin id="echo"> config
// declaration both resolve to.
package echo

import (
	"math/rand"

	"github.com/purpleidea/shadow/simtime"
	"github.com/purpleidea/shadow/transport"
)

// Plugin implements host.Plugin by round-tripping UDP datagrams.
type Plugin struct {
	Net        *transport.Network
	RNG        *rand.Rand
	HostID     string
	Addr       string
	Port       uint16
	Descriptor transport.Descriptor
	Notifier   transport.Notifier
	RecvMax    int

	// NextEventID supplies the sending host's per-source monotonic
	// counter (host.Process.NextEventID), so replies sort correctly in
	// the scheduler's total event order.
	NextEventID func() uint64

	endpoint *transport.UDPEndpoint
}

// New binds the endpoint. It never fails: binding a UDP endpoint has no
// failure mode in this model (no port-in-use check is modeled).
func (p *Plugin) New(now simtime.Time) error {
	recvMax := p.RecvMax
	if recvMax <= 0 {
		recvMax = 64
	}
	p.endpoint = transport.NewUDPEndpoint(p.Net, p.HostID, p.Descriptor, p.Addr, p.Port, recvMax, p.Notifier)
	return nil
}

// Activate drains every buffered datagram and echoes it back to whoever
// sent it, resolved via the network's address->host-id table.
func (p *Plugin) Activate(now simtime.Time) error {
	for {
		pkt := p.endpoint.Dequeue()
		if pkt == nil {
			return nil
		}
		h := pkt.UDP()
		payload := append([]byte(nil), pkt.Payload()...)
		priority := pkt.Priority()
		pkt.Unref()

		remoteHostID, ok := p.Net.Resolve(h.SrcAddr)
		if !ok {
			continue
		}
		eventID := uint64(0)
		if p.NextEventID != nil {
			eventID = p.NextEventID()
		}
		_ = p.endpoint.SendTo(nil, p.RNG, now, eventID, remoteHostID, h.SrcAddr, h.SrcPort, payload, priority)
	}
}

// Free closes the endpoint.
func (p *Plugin) Free(now simtime.Time) error {
	if p.endpoint != nil {
		p.endpoint.Close()
	}
	return nil
}
