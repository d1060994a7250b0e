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
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/purpleidea/shadow/event"
	"github.com/purpleidea/shadow/packet"
	"github.com/purpleidea/shadow/simtime"
	"github.com/purpleidea/shadow/topology"
)

// immediateScheduler runs every pushed task synchronously, so transport
// logic can be tested without spinning up the real scheduler/workers.
type immediateScheduler struct{}

func (immediateScheduler) Push(dstHostID, srcHostID string, t simtime.Time, task *event.Task, srcHostEventID uint64) (*event.Event, error) {
	task.Run(t)
	return nil, nil
}

func twoHostNetwork(t *testing.T, reliability float64) *Network {
	t.Helper()
	g := topology.New()
	require.NoError(t, g.AddVertex(&topology.Vertex{ID: "netA", Reliability: 1}))
	require.NoError(t, g.AddVertex(&topology.Vertex{ID: "netB", Reliability: 1}))
	edge := topology.Edge{CDF: simtime.CDF{Center: time.Millisecond}, Reliability: reliability}
	require.NoError(t, g.AddEdge("netA", "netB", edge, edge))

	vertexOf := func(hostID string) (string, bool) {
		switch hostID {
		case "h1":
			return "netA", true
		case "h2":
			return "netB", true
		default:
			return "", false
		}
	}
	return NewNetwork(g, immediateScheduler{}, vertexOf)
}

func TestUDPSendToRoundTrip(t *testing.T) {
	net := twoHostNetwork(t, 1.0)
	rng := rand.New(rand.NewSource(1))

	var serverNotified bool
	server := NewUDPEndpoint(net, "h2", 1, "11.0.0.2", 9000, 16, notifierFunc(func(int, ReadyFlags) { serverNotified = true }))
	client := NewUDPEndpoint(net, "h1", 1, "11.0.0.1", 9001, 16, nil)

	require.NoError(t, client.SendTo(nil, rng, simtime.Zero, 0, "h2", "11.0.0.2", 9000, []byte("hello"), 0))

	assert.True(t, serverNotified)
	assert.Equal(t, []byte("hello"), server.Recv())
	assert.Nil(t, server.Recv())
}

func TestUDPDropOnUnreliablePath(t *testing.T) {
	net := twoHostNetwork(t, 0.0)
	rng := rand.New(rand.NewSource(1))

	server := NewUDPEndpoint(net, "h2", 1, "11.0.0.2", 9000, 16, nil)
	client := NewUDPEndpoint(net, "h1", 1, "11.0.0.1", 9001, 16, nil)

	require.NoError(t, client.SendTo(nil, rng, simtime.Zero, 0, "h2", "11.0.0.2", 9000, []byte("hello"), 0))
	assert.Nil(t, server.Recv())
}

// fakeTracer records which host ids TracePacket was called for, so tests
// can assert both the sending and receiving side get traced.
type fakeTracer struct {
	hostIDs []string
}

func (f *fakeTracer) TracePacket(hostID string, now simtime.Time, p *packet.Packet) error {
	f.hostIDs = append(f.hostIDs, hostID)
	return nil
}

func TestNetworkTracesSendAndDeliver(t *testing.T) {
	net := twoHostNetwork(t, 1.0)
	tracer := &fakeTracer{}
	net.Tracer = tracer
	rng := rand.New(rand.NewSource(1))

	server := NewUDPEndpoint(net, "h2", 1, "11.0.0.2", 9000, 16, nil)
	client := NewUDPEndpoint(net, "h1", 1, "11.0.0.1", 9001, 16, nil)

	require.NoError(t, client.SendTo(nil, rng, simtime.Zero, 0, "h2", "11.0.0.2", 9000, []byte("hello"), 0))
	assert.Equal(t, []string{"h1", "h2"}, tracer.hostIDs)
}

func TestNetworkBandwidthDelaysArrival(t *testing.T) {
	net := twoHostNetwork(t, 1.0)
	rng := rand.New(rand.NewSource(1))
	payload := make([]byte, 1000)

	var plainArrival simtime.Time
	require.NoError(t, net.Send(nil, rng, simtime.Zero, "h1", "h2", 0, packet.New(payload, 0), func(t simtime.Time, _ *packet.Packet) {
		plainArrival = t
	}))

	// Burst exactly covers one packet: the first send drains the
	// bucket with no delay, the second has nothing left and must wait
	// for it to refill at 1000 bytes/sec.
	limiter := rate.NewLimiter(rate.Limit(1000), 1000)
	net.Bandwidth = func(hostID string) (up, down *rate.Limiter) {
		return limiter, nil
	}
	require.NoError(t, net.Send(nil, rng, simtime.Zero, "h1", "h2", 0, packet.New(payload, 0), func(simtime.Time, *packet.Packet) {}))

	var shapedArrival simtime.Time
	require.NoError(t, net.Send(nil, rng, simtime.Zero, "h1", "h2", 0, packet.New(payload, 0), func(t simtime.Time, _ *packet.Packet) {
		shapedArrival = t
	}))

	assert.Greater(t, int64(shapedArrival), int64(plainArrival))
}

func TestNetworkTracesDrop(t *testing.T) {
	net := twoHostNetwork(t, 0.0)
	tracer := &fakeTracer{}
	net.Tracer = tracer
	rng := rand.New(rand.NewSource(1))

	client := NewUDPEndpoint(net, "h1", 1, "11.0.0.1", 9001, 16, nil)
	require.NoError(t, client.SendTo(nil, rng, simtime.Zero, 0, "h2", "11.0.0.2", 9000, []byte("hello"), 0))
	assert.Equal(t, []string{"h1"}, tracer.hostIDs)
}

func TestSendNeverDropsZeroLengthControlPacket(t *testing.T) {
	net := twoHostNetwork(t, 0.0) // every data packet would be dropped
	rng := rand.New(rand.NewSource(1))

	var delivered bool
	require.NoError(t, net.Send(nil, rng, simtime.Zero, "h1", "h2", 0, packet.New(nil, 0), func(simtime.Time, *packet.Packet) {
		delivered = true
	}))
	assert.True(t, delivered)
}

func TestTCPHandshakeReachesEstablished(t *testing.T) {
	net := twoHostNetwork(t, 1.0)
	net.Resolve = func(addr string) (string, bool) {
		switch addr {
		case "11.0.0.1":
			return "h1", true
		case "11.0.0.2":
			return "h2", true
		default:
			return "", false
		}
	}
	rng := rand.New(rand.NewSource(1))

	server := NewTCPConnection(net, rng, "h2", 1, "11.0.0.2", 80, 16, nil)
	server.Listen()
	client := NewTCPConnection(net, rng, "h1", 2, "11.0.0.1", 40000, 16, nil)

	require.NoError(t, client.Connect("h2", server.Addr, server.Port, simtime.Zero, 0))

	// immediateScheduler runs every hop synchronously, so by the time
	// Connect returns the full three-way handshake (SYN, SYN+ACK, ACK)
	// has already completed on both ends.
	assert.Equal(t, Established, client.State)
	assert.Equal(t, Established, server.State)
}

func TestLocalPipeDeliversImmediately(t *testing.T) {
	var notified bool
	lp := NewLocalPipe("h1", 10, 11, 8, nil, notifierFunc(func(int, ReadyFlags) { notified = true }))
	ok := lp.SendAtoB(10, 11, []byte("ping"), 0)
	assert.True(t, ok)
	assert.True(t, notified)

	p := lp.B().Dequeue()
	require.NotNil(t, p)
	assert.Equal(t, []byte("ping"), p.Payload())
}

func TestReceiverWindowLimitsSend(t *testing.T) {
	net := twoHostNetwork(t, 1.0)
	rng := rand.New(rand.NewSource(2))

	client := NewTCPConnection(net, rng, "h1", 5, "11.0.0.1", 40000, 16, nil)
	client.State = Established
	client.sndWND = MSS // only one segment fits
	client.cwnd = MSS

	sent, err := client.Send("h2", simtime.Zero, 0, make([]byte, 3*MSS))
	require.NoError(t, err)
	assert.Equal(t, MSS, sent)
}

func TestHandleAckTripleDupEntersFastRecovery(t *testing.T) {
	net := twoHostNetwork(t, 1.0)
	rng := rand.New(rand.NewSource(3))
	c := NewTCPConnection(net, rng, "h1", 6, "11.0.0.1", 40000, 16, nil)
	c.State = Established
	c.sndNXT = 4 * MSS
	c.sndUNA = 0

	c.handleAck(0, c.sndWND, nil)
	c.handleAck(0, c.sndWND, nil)
	c.handleAck(0, c.sndWND, nil)

	assert.Equal(t, FastRecovery, c.congState)
	assert.Equal(t, c.ssthresh+3*MSS, c.cwnd)
}

func TestHandleAckSlowStartGrowsThenTransitionsToCongAvoid(t *testing.T) {
	net := twoHostNetwork(t, 1.0)
	rng := rand.New(rand.NewSource(4))
	c := NewTCPConnection(net, rng, "h1", 7, "11.0.0.1", 40000, 16, nil)
	c.ssthresh = 20 * MSS
	before := c.cwnd

	c.sndNXT = MSS
	c.handleAck(MSS/2, c.sndWND, nil)
	assert.Equal(t, before+MSS, c.cwnd)
	assert.Equal(t, SlowStart, c.congState)

	// Nine more new ACKs take cwnd from 11 to 20 segments, reaching ssthresh.
	for i := uint32(1); i <= 9; i++ {
		c.handleAck(MSS/2+i*MSS, c.sndWND, nil)
	}
	assert.Equal(t, uint32(20*MSS), c.cwnd)
	assert.Equal(t, CongAvoid, c.congState)
}

func TestActiveCloseRunsFourWayHandshakeToClosed(t *testing.T) {
	net := twoHostNetwork(t, 1.0)
	net.Resolve = func(addr string) (string, bool) {
		switch addr {
		case "11.0.0.1":
			return "h1", true
		case "11.0.0.2":
			return "h2", true
		default:
			return "", false
		}
	}
	rng := rand.New(rand.NewSource(1))

	server := NewTCPConnection(net, rng, "h2", 1, "11.0.0.2", 80, 16, nil)
	server.Listen()
	client := NewTCPConnection(net, rng, "h1", 2, "11.0.0.1", 40000, 16, nil)
	require.NoError(t, client.Connect("h2", server.Addr, server.Port, simtime.Zero, 0))
	require.Equal(t, Established, client.State)
	require.Equal(t, Established, server.State)

	require.NoError(t, client.Close("h2", simtime.Zero, 1))
	// immediateScheduler runs every hop synchronously: the client's FIN
	// reaches the server (-> CloseWait) and its ACK reaches the client
	// (-> FinWait2).
	assert.Equal(t, CloseWait, server.State)
	assert.Equal(t, FinWait2, client.State)

	require.NoError(t, server.Close("h1", simtime.Zero, 2))
	// The server's own FIN (-> LastAck) reaches the client, which moves
	// to TimeWait and acks it; that ack reaches the server, confirming
	// its FIN and moving it all the way to Closed.
	assert.Equal(t, TimeWait, client.State)
	assert.Equal(t, Closed, server.State)
}

func TestRetransmitResetsToSlowStartWithDefaultWindow(t *testing.T) {
	net := twoHostNetwork(t, 1.0)
	rng := rand.New(rand.NewSource(1))
	c := NewTCPConnection(net, rng, "h1", 2, "11.0.0.1", 40000, 16, nil)
	c.State = Established
	c.congState = FastRecovery
	c.cwnd = 3 * MSS

	n, err := c.Send("h2", simtime.Zero, 1, []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, 7, n)

	require.NoError(t, c.Retransmit("h2", simtime.Zero, 2))
	assert.Equal(t, SlowStart, c.congState)
	assert.Equal(t, uint32(DefaultInitialWindowSegments*MSS), c.cwnd)
}

func TestHandleAckSkipsRetransmitForSackedRange(t *testing.T) {
	net := twoHostNetwork(t, 1.0)
	tracer := &fakeTracer{}
	net.Tracer = tracer
	rng := rand.New(rand.NewSource(3))

	c := NewTCPConnection(net, rng, "h1", 5, "11.0.0.1", 40000, 16, nil)
	c.State = Established
	c.retransmitQueue = []*retransmitEntry{
		{seq: 0, payload: make([]byte, 100)},
		{seq: 100, payload: make([]byte, 100)},
		{seq: 200, payload: make([]byte, 100)},
	}

	c.handleAck(0, DefaultInitialWindowSegments*MSS, []packet.SACKBlock{{Start: 100, End: 200}})
	require.False(t, c.retransmitQueue[0].sacked)
	require.True(t, c.retransmitQueue[1].sacked)
	require.False(t, c.retransmitQueue[2].sacked)

	require.NoError(t, c.Retransmit("h2", simtime.Zero, 0))

	// Only the two non-sacked segments should actually have gone out:
	// one src-side and one dst-side trace per send.
	assert.Len(t, tracer.hostIDs, 4)
}

// notifierFunc adapts a plain function to the Notifier interface.
type notifierFunc func(descriptorID int, flags ReadyFlags)

func (f notifierFunc) NotifyReady(descriptorID int, flags ReadyFlags) {
	f(descriptorID, flags)
}
