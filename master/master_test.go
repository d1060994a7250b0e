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

package master

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/purpleidea/shadow/event"
	"github.com/purpleidea/shadow/simtime"
	"github.com/purpleidea/shadow/transport"
)

func TestBootBuildsOneHostPerNode(t *testing.T) {
	sim, err := Boot(EchoDocument(), Options{Threads: 1, Seed: 1})
	require.NoError(t, err)
	require.Equal(t, 2, sim.Registry.Len())

	_, ok := sim.Registry.Get("client")
	require.True(t, ok)
	_, ok = sim.Registry.Get("server")
	require.True(t, ok)
}

func TestBootRejectsUnknownPlugin(t *testing.T) {
	doc := EchoDocument()
	doc.Nodes[0].Applications[0].Plugin = "nonexistent"
	_, err := Boot(doc, Options{Threads: 1, Seed: 1})
	require.Error(t, err)
}

// TestEchoScenarioRoundTrip drives the built-in echo scenario end to
// end: an externally-injected datagram reaches the server's echo plugin,
// which replies, and the reply arrives back at the sender.
func TestEchoScenarioRoundTrip(t *testing.T) {
	sim, err := Boot(EchoDocument(), Options{Threads: 1, Seed: 1})
	require.NoError(t, err)

	client, ok := sim.Registry.Get("client")
	require.True(t, ok)
	server, ok := sim.Registry.Get("server")
	require.True(t, ok)

	probe := transport.NewUDPEndpoint(sim.Network, "client", transport.Descriptor(client.NextDescriptor()), client.Addr, 9999, 16, nil)

	rng := rand.New(rand.NewSource(1))
	send := event.NewTask(func(now simtime.Time) {
		_ = probe.SendTo(context.Background(), rng, now, 1, "server", server.Addr, 7, []byte("ping"), 0)
	}, nil)
	_, err = sim.Scheduler.Push("client", "client", simtime.Zero, send, 1)
	require.NoError(t, err)

	summary := sim.Run(context.Background())

	received := probe.Recv()
	require.Equal(t, []byte("ping"), received)
	require.Equal(t, uint64(2), summary.PacketsDelivered) // ping out, echo back
}
