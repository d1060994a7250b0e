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

package echo

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purpleidea/shadow/event"
	"github.com/purpleidea/shadow/simtime"
	"github.com/purpleidea/shadow/topology"
	"github.com/purpleidea/shadow/transport"
)

type immediateScheduler struct{}

func (immediateScheduler) Push(dstHostID, srcHostID string, t simtime.Time, task *event.Task, srcHostEventID uint64) (*event.Event, error) {
	task.Run(t)
	return nil, nil
}

func TestEchoPluginRepliesToSender(t *testing.T) {
	g := topology.New()
	require.NoError(t, g.AddVertex(&topology.Vertex{ID: "netA", Reliability: 1}))
	require.NoError(t, g.AddVertex(&topology.Vertex{ID: "netB", Reliability: 1}))
	edge := topology.Edge{CDF: simtime.CDF{Center: time.Millisecond}, Reliability: 1}
	require.NoError(t, g.AddEdge("netA", "netB", edge, edge))

	vertexOf := func(hostID string) (string, bool) {
		switch hostID {
		case "server":
			return "netA", true
		case "client":
			return "netB", true
		default:
			return "", false
		}
	}
	net := transport.NewNetwork(g, immediateScheduler{}, vertexOf)
	net.Resolve = func(addr string) (string, bool) {
		switch addr {
		case "11.0.0.1":
			return "server", true
		case "11.0.0.2":
			return "client", true
		default:
			return "", false
		}
	}

	rng := rand.New(rand.NewSource(1))
	var eventID uint64
	p := &Plugin{
		Net:        net,
		RNG:        rng,
		HostID:     "server",
		Addr:       "11.0.0.1",
		Port:       7,
		Descriptor: 1,
		NextEventID: func() uint64 {
			eventID++
			return eventID
		},
	}
	require.NoError(t, p.New(simtime.Zero))

	client := transport.NewUDPEndpoint(net, "client", 1, "11.0.0.2", 9000, 16, nil)
	require.NoError(t, client.SendTo(nil, rng, simtime.Zero, 0, "server", "11.0.0.1", 7, []byte("ping"), 0))

	require.NoError(t, p.Activate(simtime.Zero))

	assert.Equal(t, []byte("ping"), client.Recv())
	require.NoError(t, p.Free(simtime.Zero))
}
