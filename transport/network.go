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
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/purpleidea/shadow/event"
	"github.com/purpleidea/shadow/packet"
	"github.com/purpleidea/shadow/simtime"
	"github.com/purpleidea/shadow/topology"
)

// simEpoch anchors simtime.Time (nanoseconds since simulation start) to
// a time.Time so a rate.Limiter, which takes an explicit "now" on every
// call rather than reading the wall clock, can be driven entirely by
// simulated time.
var simEpoch = time.Unix(0, 0)

func wallTime(t simtime.Time) time.Time {
	return simEpoch.Add(t.Duration())
}

// VertexOf maps a host id to the topology vertex (network) it lives on,
// so Network can ask the Graph for inter-network paths.
type VertexOf func(hostID string) (vertex string, ok bool)

// Resolver reverse-resolves a simulated address back to the host id
// that owns it, the way host.DNS.Reverse does — needed by a passive-open
// TCP listener, which only learns its peer's address from the inbound
// SYN, never its host id (addresses are wire-visible; host ids are
// simulation bookkeeping, per spec.md's packet header design notes).
type Resolver func(addr string) (hostID string, ok bool)

// Deliver is invoked once a packet's simulated transit completes, on the
// destination host's worker, so the caller (a socket/endpoint) can
// finish delivery (buffer it, run TCP receive processing, and so on).
type Deliver func(now simtime.Time, p *packet.Packet)

// Network composes the topology graph and the scheduler to carry
// packets between hosts: it draws a latency/reliability sample for the
// path, rolls the reliability draw, and schedules the destination-side
// delivery task at now+latency.
//
// It also holds the per-host port demux tables: a segment arriving at a
// host must be handed to whatever socket is bound to its destination
// port on that host, not back to the sender's own object, so TCP/UDP
// endpoints register themselves here on bind rather than closing over
// themselves when they send.
type Network struct {
	Graph    *topology.Graph
	Sched    Scheduler
	VertexOf VertexOf
	Resolve  Resolver

	// Metrics, if set, is told about every send attempt's outcome. It
	// is a narrow interface rather than *metrics.Metrics so transport
	// never depends on that package.
	Metrics NetworkMetrics

	// Tracer, if set, records a line per packet at both the sending
	// and receiving host, the way a narrow interface rather than
	// *artifact.Store keeps transport from depending on that package.
	Tracer NetworkTracer

	// Bandwidth, if set, resolves a host id's up/down interface
	// byte-budget limiters (nil, nil if the host has none), so Send can
	// shape its own outbound rate and the destination's inbound rate.
	// A narrow function type, not *host.Interface, keeps transport from
	// depending on the host package.
	Bandwidth Bandwidth

	mu   sync.RWMutex
	tcp  map[string]map[uint16]*TCPConnection
	udp  map[string]map[uint16]*UDPEndpoint
}

// Bandwidth resolves hostID's interface up/down limiters.
type Bandwidth func(hostID string) (up, down *rate.Limiter)

// NetworkMetrics is the subset of metrics.Metrics that Network and the
// TCPConnections it carries report counters through.
type NetworkMetrics interface {
	PacketSent()
	PacketDelivered()
	PacketDropped(reason string)
	Retransmit()
	FastRecovery()
}

// NetworkTracer is the subset of artifact.Store that Network writes
// per-host packet traces through.
type NetworkTracer interface {
	TracePacket(hostID string, now simtime.Time, p *packet.Packet) error
}

// trace calls Tracer.TracePacket if a Tracer is wired in, silently
// ignoring a write failure the way a dropped trace line shouldn't stop
// the simulation it's merely observing.
func (n *Network) trace(hostID string, now simtime.Time, p *packet.Packet) {
	if n.Tracer == nil {
		return
	}
	_ = n.Tracer.TracePacket(hostID, now, p)
}

// reserve returns the extra delay hostID's up (outbound) or down
// (inbound) interface limiter imposes on a size-byte packet starting at
// now, zero if no Bandwidth lookup is wired in or the host has no
// limiter for that direction.
func (n *Network) reserve(hostID string, up bool, now simtime.Time, size int) time.Duration {
	if n.Bandwidth == nil || size == 0 {
		return 0
	}
	upLim, downLim := n.Bandwidth(hostID)
	lim := downLim
	if up {
		lim = upLim
	}
	if lim == nil {
		return 0
	}
	r := lim.ReserveN(wallTime(now), size)
	if !r.OK() {
		return 0
	}
	return r.DelayFrom(wallTime(now))
}

// Scheduler is the subset of scheduler.Scheduler that Network drives.
type Scheduler interface {
	Push(dstHostID, srcHostID string, t simtime.Time, task *event.Task, srcHostEventID uint64) (*event.Event, error)
}

// NewNetwork builds a Network over an existing topology and scheduler.
func NewNetwork(graph *topology.Graph, sched Scheduler, vertexOf VertexOf) *Network {
	return &Network{
		Graph:    graph,
		Sched:    sched,
		VertexOf: vertexOf,
		tcp:      make(map[string]map[uint16]*TCPConnection),
		udp:      make(map[string]map[uint16]*UDPEndpoint),
	}
}

// hostIDFor reverse-resolves addr via Resolve, if one was wired in.
func (n *Network) hostIDFor(addr string) (string, bool) {
	if n.Resolve == nil {
		return "", false
	}
	return n.Resolve(addr)
}

// RegisterTCP binds c to hostID:port so inbound segments addressed
// there are demuxed to it.
func (n *Network) RegisterTCP(hostID string, port uint16, c *TCPConnection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.tcp[hostID] == nil {
		n.tcp[hostID] = make(map[uint16]*TCPConnection)
	}
	n.tcp[hostID][port] = c
}

// RegisterUDP binds u to hostID:port so inbound datagrams addressed
// there are demuxed to it.
func (n *Network) RegisterUDP(hostID string, port uint16, u *UDPEndpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.udp[hostID] == nil {
		n.udp[hostID] = make(map[uint16]*UDPEndpoint)
	}
	n.udp[hostID][port] = u
}

// tcpDeliver builds the Deliver callback for a segment addressed to
// hostID:port, looking up the bound connection at delivery time (not at
// send time), since a listener may bind after the SYN was already sent.
func (n *Network) tcpDeliver(hostID string, port uint16) Deliver {
	return func(now simtime.Time, p *packet.Packet) {
		n.mu.RLock()
		c, ok := n.tcp[hostID][port]
		n.mu.RUnlock()
		if !ok {
			p.AppendStatus(packet.RcvSocketDropped)
			p.Unref()
			return
		}
		c.receive(now, p)
	}
}

// udpDeliver builds the Deliver callback for a datagram addressed to
// hostID:port.
func (n *Network) udpDeliver(hostID string, port uint16) Deliver {
	return func(now simtime.Time, p *packet.Packet) {
		n.mu.RLock()
		u, ok := n.udp[hostID][port]
		n.mu.RUnlock()
		if !ok {
			p.AppendStatus(packet.RcvSocketDropped)
			p.Unref()
			return
		}
		u.Enqueue(p)
		p.Unref()
	}
}

// Send schedules p's arrival at dstHostID, drawing a latency sample from
// the src->dst path's CDF and rolling the path's reliability to decide
// whether it is silently dropped in transit (per spec.md's unreliable-
// network-layer rule; TCP/UDP react to that drop differently above this
// layer). deliver runs on the destination host's worker once the
// simulated transit time elapses.
func (n *Network) Send(ctx context.Context, rng *rand.Rand, now simtime.Time, srcHostID, dstHostID string, srcEventID uint64, p *packet.Packet, deliver Deliver) error {
	srcVertex, ok := n.VertexOf(srcHostID)
	if !ok {
		return errUnknownHost(srcHostID)
	}
	dstVertex, ok := n.VertexOf(dstHostID)
	if !ok {
		return errUnknownHost(dstHostID)
	}

	path, err := n.Graph.Path(srcVertex, dstVertex)
	if err != nil {
		return err
	}

	p.AppendStatus(packet.InetSent)
	n.trace(srcHostID, now, p)
	if n.Metrics != nil {
		n.Metrics.PacketSent()
	}

	size := len(p.Payload())
	// Zero-length control segments (bare ACKs, SYN/SYN-ACK/FIN) are
	// never dropped by the link, per spec.md §4.4 step 3 — losing them
	// would confuse congestion control, which only reacts to data loss.
	if size > 0 && rng.Float64() > path.Reliability {
		p.AppendStatus(packet.InetDropped)
		n.trace(srcHostID, now, p)
		p.Unref()
		if n.Metrics != nil {
			n.Metrics.PacketDropped("unreliable-link")
		}
		return nil
	}
	sendComplete := now.Add(n.reserve(srcHostID, true, now, size))
	latency := path.CDF.Sample(rng, 0)
	arrivedOnWire := sendComplete.Add(latency)
	arrival := arrivedOnWire.Add(n.reserve(dstHostID, false, arrivedOnWire, size))

	task := event.NewTask(func(t simtime.Time) {
		p.AppendStatus(packet.RcvInterfaceReceived)
		n.trace(dstHostID, t, p)
		if n.Metrics != nil {
			n.Metrics.PacketDelivered()
		}
		deliver(t, p)
	}, nil)
	_, err = n.Sched.Push(dstHostID, srcHostID, arrival, task, srcEventID)
	return err
}

func errUnknownHost(hostID string) error {
	return &unknownHostError{hostID: hostID}
}

type unknownHostError struct{ hostID string }

func (e *unknownHostError) Error() string {
	return "transport: unknown host vertex for host " + e.hostID
}
