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
	"fmt"
	"math/rand"
	"time"

	"github.com/purpleidea/shadow/packet"
	"github.com/purpleidea/shadow/simtime"
)

// MSS is the fixed maximum segment size, per spec.md §4.5.
const MSS = 65535

// DefaultInitialWindowSegments is the default initial congestion window,
// expressed in segments rather than bytes, per spec.md §4.5.
const DefaultInitialWindowSegments = 10

// DelayedAckTimeout is how long the receiver waits for a second segment
// before flushing a standalone ACK (spec.md §4.5's conservative rule:
// any outgoing data flushes a pending delayed ACK immediately).
const DelayedAckTimeout = 10 * time.Millisecond

// State is the RFC 793 connection state.
type State int

const (
	Closed State = iota
	Listen
	SynSent
	SynReceived
	Established
	FinWait1
	FinWait2
	CloseWait
	Closing
	LastAck
	TimeWait
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Listen:
		return "LISTEN"
	case SynSent:
		return "SYN_SENT"
	case SynReceived:
		return "SYN_RECEIVED"
	case Established:
		return "ESTABLISHED"
	case FinWait1:
		return "FIN_WAIT_1"
	case FinWait2:
		return "FIN_WAIT_2"
	case CloseWait:
		return "CLOSE_WAIT"
	case Closing:
		return "CLOSING"
	case LastAck:
		return "LAST_ACK"
	case TimeWait:
		return "TIME_WAIT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CongestionState is the Reno congestion sub-state machine.
type CongestionState int

const (
	SlowStart CongestionState = iota
	CongAvoid
	FastRecovery
)

func (c CongestionState) String() string {
	switch c {
	case SlowStart:
		return "SLOW_START"
	case CongAvoid:
		return "CONG_AVOID"
	case FastRecovery:
		return "FAST_RECOVERY"
	default:
		return fmt.Sprintf("CongestionState(%d)", int(c))
	}
}

// retransmitEntry is one outstanding sent-but-unacked segment.
type retransmitEntry struct {
	seq       uint32
	payload   []byte
	sentAt    simtime.Time
	retransmitted bool
	// sacked is set once a peer SACK block covers this entry's whole
	// range, meaning the peer already holds it out of order; Retransmit
	// skips it rather than re-sending data the peer already has.
	sacked bool
}

// TCPConnection implements the Reno-style stream state machine of
// spec.md §4.5. ISS is always 0, as the spec requires — sequence
// numbers model byte offsets, not randomized initial values.
type TCPConnection struct {
	*Socket

	Net  *Network
	RNG  *rand.Rand
	Addr string
	Port uint16

	Remote     string
	RemotePort uint16

	State State

	sndUNA uint32 // oldest unacked byte
	sndNXT uint32 // next byte to send
	sndWND uint32 // peer's advertised window, in bytes

	rcvNXT uint32 // next expected byte
	rcvWND uint32 // our advertised window, in bytes

	cwnd      uint32 // congestion window, in bytes
	ssthresh  uint32
	congState CongestionState
	dupAcks   int

	sackHeld []packet.SACKBlock

	retransmitQueue []*retransmitEntry

	delayedAckPending bool

	unordered map[uint32][]byte // seq -> payload, held for reordering (SACK)
}

// NewTCPConnection builds a connection in the Closed state, with ISS=0
// and the default initial window. rng is the owning worker's per-worker
// deterministic stream (scheduler.Pool.RNG), reused for every send this
// connection makes so reliability/latency draws stay reproducible.
func NewTCPConnection(net *Network, rng *rand.Rand, hostID string, descriptor Descriptor, addr string, port uint16, recvMax int, notifier Notifier) *TCPConnection {
	c := &TCPConnection{
		Socket:    NewSocket(Stream, hostID, descriptor, recvMax, notifier),
		Net:       net,
		RNG:       rng,
		Addr:      addr,
		Port:      port,
		State:     Closed,
		sndWND:    DefaultInitialWindowSegments * MSS,
		rcvWND:    DefaultInitialWindowSegments * MSS,
		cwnd:      DefaultInitialWindowSegments * MSS,
		ssthresh:  1 << 30,
		congState: SlowStart,
		unordered: make(map[uint32][]byte),
	}
	net.RegisterTCP(hostID, port, c)
	return c
}

func (c *TCPConnection) header(flags packet.TCPFlags, seq, ack uint32) packet.TCPHeader {
	return packet.TCPHeader{
		SrcAddr: c.Addr,
		SrcPort: c.Port,
		DstAddr: c.Remote,
		DstPort: c.RemotePort,
		Seq:     seq,
		Ack:     ack,
		Win:     c.rcvWND,
		Flags:   flags,
		SACK:    c.sackHeld,
	}
}

// Connect begins an active open: sends a SYN and moves to SynSent.
func (c *TCPConnection) Connect(remoteHostID, remoteAddr string, remotePort uint16, now simtime.Time, srcEventID uint64) error {
	c.Remote = remoteAddr
	c.RemotePort = remotePort
	c.State = SynSent

	p := packet.New(nil, 0)
	p.SetTCP(c.header(packet.TCPFlags{SYN: true}, c.sndNXT, 0))
	p.AppendStatus(packet.SndSocketBuffered)
	p.AppendStatus(packet.SndInterfaceSent)
	c.sndNXT++

	return c.Net.Send(nil, c.RNG, now, c.HostID, remoteHostID, srcEventID, p, c.Net.tcpDeliver(remoteHostID, c.RemotePort))
}

// Listen marks the connection as a passive listener: the next inbound
// SYN it sees (in receive) completes the handshake automatically,
// replying SYN+ACK and moving to SynReceived. A listening connection
// accepts at most one peer; spawning a fresh child connection per
// client is a server-side concern layered on top of this primitive.
func (c *TCPConnection) Listen() {
	c.State = Listen
}

// acceptSYN performs the passive-open half of the handshake once a SYN
// arrives on a Listen-ing connection.
func (c *TCPConnection) acceptSYN(now simtime.Time, h packet.TCPHeader) {
	remoteHostID, ok := c.Net.hostIDFor(h.SrcAddr)
	if !ok {
		return
	}
	c.Remote = h.SrcAddr
	c.RemotePort = h.SrcPort
	c.rcvNXT = h.Seq + 1
	c.State = SynReceived

	p := packet.New(nil, 0)
	p.SetTCP(c.header(packet.TCPFlags{SYN: true, ACK: true}, c.sndNXT, c.rcvNXT))
	c.sndNXT++

	_ = c.Net.Send(nil, c.RNG, now, c.HostID, remoteHostID, 0, p, c.Net.tcpDeliver(remoteHostID, c.RemotePort))
}

// Send queues payload for transmission, splitting into MSS-sized
// segments, each individually governed by the congestion and receiver
// windows (spec.md §4.5). It returns the number of bytes actually
// accepted into the send path this call (the rest is up to the caller
// to retry once window opens — mirrors a real stream socket's partial
// write).
func (c *TCPConnection) Send(remoteHostID string, now simtime.Time, srcEventID uint64, payload []byte) (int, error) {
	if c.State != Established && c.State != CloseWait {
		return 0, fmt.Errorf("transport: tcp: send on connection in state %v", c.State)
	}

	sent := 0
	window := c.effectiveWindow()
	for sent < len(payload) {
		if c.outstanding()+MSS > window {
			break
		}
		end := sent + MSS
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[sent:end]

		seq := c.sndNXT
		p := packet.New(chunk, 0)
		p.SetTCP(c.header(packet.TCPFlags{ACK: true}, seq, c.rcvNXT))
		p.AppendStatus(packet.SndSocketBuffered)
		p.AppendStatus(packet.SndInterfaceSent)

		c.retransmitQueue = append(c.retransmitQueue, &retransmitEntry{seq: seq, payload: chunk, sentAt: now})
		c.sndNXT += uint32(len(chunk))
		c.delayedAckPending = false // outgoing data flushes our own delayed ack too

		if err := c.Net.Send(nil, c.RNG, now, c.HostID, remoteHostID, srcEventID, p, c.Net.tcpDeliver(remoteHostID, c.RemotePort)); err != nil {
			return sent, err
		}
		sent = end
	}
	return sent, nil
}

func (c *TCPConnection) outstanding() uint32 {
	return c.sndNXT - c.sndUNA
}

// effectiveWindow is min(cwnd, peer's advertised window), the standard
// Reno flow/congestion control combination.
func (c *TCPConnection) effectiveWindow() uint32 {
	if c.cwnd < c.sndWND {
		return c.cwnd
	}
	return c.sndWND
}

// sendStandaloneAck sends a bare ACK carrying no payload, completing the
// third leg of the handshake (or any other point a pure ack is needed
// without data to piggyback it on).
func (c *TCPConnection) sendStandaloneAck(now simtime.Time) {
	remoteHostID, ok := c.Net.hostIDFor(c.Remote)
	if !ok {
		return
	}
	p := packet.New(nil, 0)
	p.SetTCP(c.header(packet.TCPFlags{ACK: true}, c.sndNXT, c.rcvNXT))
	_ = c.Net.Send(nil, c.RNG, now, c.HostID, remoteHostID, 0, p, c.Net.tcpDeliver(remoteHostID, c.RemotePort))
}

// receive processes an inbound segment: handshake transitions, data
// delivery (in order or held for SACK), ACK processing and the Reno
// congestion-control state transitions it drives.
func (c *TCPConnection) receive(now simtime.Time, p *packet.Packet) {
	defer p.Unref()
	h := p.TCP()

	switch c.State {
	case Listen:
		if h.Flags.SYN {
			c.acceptSYN(now, h)
		}
		return
	case SynSent:
		if h.Flags.SYN && h.Flags.ACK {
			c.rcvNXT = h.Seq + 1
			c.sndUNA = h.Ack
			c.sndWND = h.Win
			c.State = Established
			c.sendStandaloneAck(now)
		}
		return
	case SynReceived:
		if h.Flags.ACK {
			c.sndUNA = h.Ack
			c.sndWND = h.Win
			c.State = Established
		}
		return
	}

	if h.Flags.ACK {
		c.handleAck(h.Ack, h.Win, h.SACK)
	}

	if len(p.Payload()) > 0 {
		c.handleData(h.Seq, p.Payload())
	}

	if h.Flags.FIN {
		c.handleFin(now)
	}
}

func (c *TCPConnection) handleAck(ack, win uint32, sack []packet.SACKBlock) {
	c.sndWND = win
	c.markSacked(sack)
	if ack == c.sndUNA {
		c.dupAcks++
		if c.congState != FastRecovery && c.dupAcks == 3 {
			c.ssthresh = c.cwnd/2 + MSS
			c.cwnd = c.ssthresh + 3*MSS
			c.congState = FastRecovery
			if c.Net.Metrics != nil {
				c.Net.Metrics.FastRecovery()
			}
		} else if c.congState == FastRecovery {
			c.cwnd += MSS
		}
		return
	}

	c.sndUNA = ack
	c.pruneRetransmitQueue(ack)
	c.dupAcks = 0

	// Our own FIN occupies one sequence number (sndNXT was incremented
	// past it in Close); once ack reaches sndNXT, that FIN is confirmed.
	if ack == c.sndNXT {
		switch c.State {
		case FinWait1:
			c.State = FinWait2
		case Closing:
			c.State = TimeWait
		case LastAck:
			c.State = Closed
		}
	}

	switch c.congState {
	case FastRecovery:
		c.cwnd = c.ssthresh
		c.congState = CongAvoid
	case SlowStart:
		c.cwnd += MSS
		if c.cwnd >= c.ssthresh {
			c.congState = CongAvoid
		}
	case CongAvoid:
		c.cwnd += (MSS*MSS + c.cwnd - 1) / c.cwnd
	}
}

// markSacked flags every retransmitQueue entry fully covered by one of
// the peer's reported SACK blocks, so Retransmit knows to skip it: the
// peer already holds that range out of order and re-sending it would
// just waste bandwidth for data already delivered.
func (c *TCPConnection) markSacked(sack []packet.SACKBlock) {
	for _, blk := range sack {
		for _, e := range c.retransmitQueue {
			if e.seq >= blk.Start && e.seq+uint32(len(e.payload)) <= blk.End {
				e.sacked = true
			}
		}
	}
}

func (c *TCPConnection) pruneRetransmitQueue(ack uint32) {
	kept := c.retransmitQueue[:0]
	for _, e := range c.retransmitQueue {
		if e.seq+uint32(len(e.payload)) > ack {
			kept = append(kept, e)
		}
	}
	c.retransmitQueue = kept
}

func (c *TCPConnection) handleData(seq uint32, payload []byte) {
	if seq != c.rcvNXT {
		if seq > c.rcvNXT {
			c.unordered[seq] = payload
			c.sackHeld = append(c.sackHeld, packet.SACKBlock{Start: seq, End: seq + uint32(len(payload))})
		}
		// seq < rcvNXT: a pure retransmit duplicate, silently accepted.
		return
	}
	c.rcvNXT += uint32(len(payload))
	c.drainUnordered()
	c.delayedAckPending = true
}

func (c *TCPConnection) drainUnordered() {
	for {
		chunk, ok := c.unordered[c.rcvNXT]
		if !ok {
			return
		}
		delete(c.unordered, c.rcvNXT)
		c.rcvNXT += uint32(len(chunk))
	}
}

func (c *TCPConnection) handleFin(now simtime.Time) {
	switch c.State {
	case Established:
		c.State = CloseWait
	case FinWait1:
		// Simultaneous close: our own FIN is still unacked when the
		// peer's FIN arrives.
		c.State = Closing
	case FinWait2:
		c.State = TimeWait
	}
	c.rcvNXT++
	c.sendStandaloneAck(now)
}

// Close sends a FIN and moves to FinWait1 (active close from
// Established) or LastAck (passive close from CloseWait).
// It is a no-op once the connection has already left Established or
// CloseWait (an already-closing connection has nothing further to send).
func (c *TCPConnection) Close(remoteHostID string, now simtime.Time, srcEventID uint64) error {
	switch c.State {
	case Established:
		c.State = FinWait1
	case CloseWait:
		c.State = LastAck
	default:
		return nil
	}

	p := packet.New(nil, 0)
	p.SetTCP(c.header(packet.TCPFlags{FIN: true, ACK: true}, c.sndNXT, c.rcvNXT))
	c.sndNXT++

	return c.Net.Send(nil, c.RNG, now, c.HostID, remoteHostID, srcEventID, p, c.Net.tcpDeliver(remoteHostID, c.RemotePort))
}

// Retransmit re-sends every entry still in the retransmit queue (called
// by the owning host when that segment's retransmission timer fires),
// halving ssthresh and resetting to slow start per Reno's timeout rule.
func (c *TCPConnection) Retransmit(remoteHostID string, now simtime.Time, srcEventID uint64) error {
	if c.Net.Metrics != nil {
		c.Net.Metrics.Retransmit()
	}
	c.ssthresh = c.cwnd/2 + MSS
	c.cwnd = DefaultInitialWindowSegments * MSS
	c.congState = SlowStart

	for _, e := range c.retransmitQueue {
		if e.sacked {
			// Already in the peer's out-of-order buffer per its last
			// SACK; skip re-sending to honor that acknowledgment.
			continue
		}
		p := packet.New(e.payload, 0)
		p.SetTCP(c.header(packet.TCPFlags{ACK: true}, e.seq, c.rcvNXT))
		p.AppendStatus(packet.SndTCPEnqueueRetransmit)
		p.AppendStatus(packet.SndTCPRetransmitted)
		e.retransmitted = true
		e.sentAt = now
		if err := c.Net.Send(nil, c.RNG, now, c.HostID, remoteHostID, srcEventID, p, c.Net.tcpDeliver(remoteHostID, c.RemotePort)); err != nil {
			return err
		}
	}
	return nil
}
