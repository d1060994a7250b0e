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

// Package packet is the reference-counted, immutable-after-sealing record
// that carries payload bytes between virtual hosts. Headers are a closed
// tagged union (Local/UDP/TCP), handled with an exhaustive switch rather
// than a dispatch table, per the simulator's design notes.
package packet

import (
	"fmt"
	"sync/atomic"
)

// Protocol identifies which header variant a Packet carries.
type Protocol int

const (
	// ProtocolNone means no header has been assigned yet.
	ProtocolNone Protocol = iota
	// ProtocolLocal is for same-host pipe/socketpair traffic.
	ProtocolLocal
	// ProtocolUDP is for unreliable datagram traffic.
	ProtocolUDP
	// ProtocolTCP is for the reliable stream protocol.
	ProtocolTCP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolNone:
		return "none"
	case ProtocolLocal:
		return "local"
	case ProtocolUDP:
		return "udp"
	case ProtocolTCP:
		return "tcp"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// LocalHeader addresses a same-host pipe/socketpair endpoint.
type LocalHeader struct {
	SrcPort uint16
	DstPort uint16
}

// UDPHeader addresses a datagram endpoint.
type UDPHeader struct {
	SrcAddr string
	SrcPort uint16
	DstAddr string
	DstPort uint16
}

// TCPFlags are the RFC 793 control bits relevant to the handshake and
// retransmission logic implemented by the transport layer.
type TCPFlags struct {
	SYN bool
	ACK bool
	FIN bool
	RST bool
}

// TCPHeader addresses a stream endpoint and carries the sequencing fields
// a Reno-style state machine needs to process the segment.
type TCPHeader struct {
	SrcAddr string
	SrcPort uint16
	DstAddr string
	DstPort uint16

	Seq   uint32
	Ack   uint32
	Win   uint32
	Flags TCPFlags

	// SACK carries selective-ack edges (start,end pairs) for the
	// receiver to report out-of-order segments already held.
	SACK []SACKBlock
}

// SACKBlock is one contiguous range of already-received sequence numbers.
type SACKBlock struct {
	Start uint32
	End   uint32
}

// DeliveryStatus is one label in a packet's append-only delivery trace.
type DeliveryStatus int

const (
	SndCreated DeliveryStatus = iota
	SndTCPEnqueueThrottled
	SndTCPEnqueueRetransmit
	SndSocketBuffered
	SndInterfaceSent
	InetSent
	InetDropped
	RcvInterfaceBuffered
	RcvInterfaceReceived
	RcvInterfaceDropped
	RcvSocketProcessed
	RcvSocketBuffered
	RcvSocketDelivered
	RcvSocketDropped
	RcvTCPEnqueueUnordered
	SndTCPDequeueRetransmit
	SndTCPRetransmitted
	Destroyed
)

var statusNames = map[DeliveryStatus]string{
	SndCreated:              "SND_CREATED",
	SndTCPEnqueueThrottled:  "SND_TCP_ENQUEUE_THROTTLED",
	SndTCPEnqueueRetransmit: "SND_TCP_ENQUEUE_RETRANSMIT",
	SndSocketBuffered:       "SND_SOCKET_BUFFERED",
	SndInterfaceSent:        "SND_INTERFACE_SENT",
	InetSent:                "INET_SENT",
	InetDropped:             "INET_DROPPED",
	RcvInterfaceBuffered:    "RCV_INTERFACE_BUFFERED",
	RcvInterfaceReceived:    "RCV_INTERFACE_RECEIVED",
	RcvInterfaceDropped:     "RCV_INTERFACE_DROPPED",
	RcvSocketProcessed:      "RCV_SOCKET_PROCESSED",
	RcvSocketBuffered:       "RCV_SOCKET_BUFFERED",
	RcvSocketDelivered:      "RCV_SOCKET_DELIVERED",
	RcvSocketDropped:        "RCV_SOCKET_DROPPED",
	RcvTCPEnqueueUnordered:  "RCV_TCP_ENQUEUE_UNORDERED",
	SndTCPDequeueRetransmit: "SND_TCP_DEQUEUE_RETRANSMIT",
	SndTCPRetransmitted:     "SND_TCP_RETRANSMITTED",
	Destroyed:               "DESTROYED",
}

func (s DeliveryStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("DeliveryStatus(%d)", int(s))
}

// Packet is created empty, receives exactly one header via SetLocal,
// SetUDP or SetTCP, and is never mutated after that point except to
// append to its delivery trace. It is reference-counted: freed (payload
// released) when the count reaches zero.
type Packet struct {
	protocol Protocol
	local    LocalHeader
	udp      UDPHeader
	tcp      TCPHeader

	payload  []byte
	priority uint32

	trace []DeliveryStatus

	refs int32
}

// New creates an empty, headerless packet with the given payload and
// priority. The payload is copied once and never resized afterwards.
func New(payload []byte, priority uint32) *Packet {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	p := &Packet{
		payload:  buf,
		priority: priority,
		refs:     1,
	}
	p.appendStatus(SndCreated)
	return p
}

// SetLocal assigns the Local header. It panics if a header was already
// set, per the "assigned exactly once" invariant — a programmer error,
// not a runtime condition hosted applications can trigger.
func (p *Packet) SetLocal(h LocalHeader) {
	p.mustBeUnset()
	p.protocol = ProtocolLocal
	p.local = h
}

// SetUDP assigns the UDP header.
func (p *Packet) SetUDP(h UDPHeader) {
	p.mustBeUnset()
	p.protocol = ProtocolUDP
	p.udp = h
}

// SetTCP assigns the TCP header.
func (p *Packet) SetTCP(h TCPHeader) {
	p.mustBeUnset()
	p.protocol = ProtocolTCP
	p.tcp = h
}

func (p *Packet) mustBeUnset() {
	if p.protocol != ProtocolNone {
		panic(fmt.Sprintf("packet: header already set to %v", p.protocol))
	}
}

// Protocol returns which header variant this packet carries.
func (p *Packet) Protocol() Protocol {
	return p.protocol
}

// Local returns the Local header. Callers must check Protocol() first.
func (p *Packet) Local() LocalHeader { return p.local }

// UDP returns the UDP header. Callers must check Protocol() first.
func (p *Packet) UDP() UDPHeader { return p.udp }

// TCP returns the TCP header. Callers must check Protocol() first.
func (p *Packet) TCP() TCPHeader { return p.tcp }

// SetTCPHeader overwrites the TCP header fields in place (used by the
// transport to stamp ack/window updates onto an otherwise-sealed packet
// before it is queued; the payload itself is never touched).
func (p *Packet) SetTCPHeader(h TCPHeader) {
	if p.protocol != ProtocolTCP {
		panic("packet: SetTCPHeader on a non-TCP packet")
	}
	p.tcp = h
}

// Payload returns the packet's payload bytes. Callers must not modify the
// returned slice.
func (p *Packet) Payload() []byte {
	return p.payload
}

// Priority returns the application-assigned priority.
func (p *Packet) Priority() uint32 {
	return p.priority
}

// AppendStatus appends a new delivery status to the trace. It is
// append-only: once added, a status is never removed.
func (p *Packet) AppendStatus(s DeliveryStatus) {
	p.appendStatus(s)
}

func (p *Packet) appendStatus(s DeliveryStatus) {
	p.trace = append(p.trace, s)
}

// Trace returns a copy of the ordered delivery-status trace.
func (p *Packet) Trace() []DeliveryStatus {
	out := make([]DeliveryStatus, len(p.trace))
	copy(out, p.trace)
	return out
}

// AllStatuses returns the union of every status ever appended, as a set.
func (p *Packet) AllStatuses() map[DeliveryStatus]bool {
	out := make(map[DeliveryStatus]bool, len(p.trace))
	for _, s := range p.trace {
		out[s] = true
	}
	return out
}

// HasStatus reports whether s was ever appended to the trace.
func (p *Packet) HasStatus(s DeliveryStatus) bool {
	for _, t := range p.trace {
		if t == s {
			return true
		}
	}
	return false
}

// Ref increments the reference count and returns the packet, so sends can
// be chained: `queue.push(pkt.Ref())`.
func (p *Packet) Ref() *Packet {
	atomic.AddInt32(&p.refs, 1)
	return p
}

// Unref decrements the reference count. When it reaches zero the packet
// is marked destroyed and its payload released; it must not be used
// afterwards.
func (p *Packet) Unref() {
	if atomic.AddInt32(&p.refs, -1) == 0 {
		p.appendStatus(Destroyed)
		p.payload = nil
	}
}

// RefCount returns the current reference count, mostly for tests.
func (p *Packet) RefCount() int32 {
	return atomic.LoadInt32(&p.refs)
}
