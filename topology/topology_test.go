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

package topology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purpleidea/shadow/simtime"
)

func twoHostGraph(t *testing.T, latency time.Duration, reliability float64) *Graph {
	t.Helper()
	g := New()
	require.NoError(t, g.AddVertex(&Vertex{ID: "A", Reliability: 1, CDF: simtime.CDF{Center: time.Microsecond}}))
	require.NoError(t, g.AddVertex(&Vertex{ID: "B", Reliability: 1, CDF: simtime.CDF{Center: time.Microsecond}}))
	edge := Edge{CDF: simtime.CDF{Center: latency, Width: 40 * time.Millisecond}, Reliability: reliability}
	require.NoError(t, g.AddEdge("A", "B", edge, edge))
	return g
}

func TestPathBetweenDirectlyConnectedVertices(t *testing.T) {
	g := twoHostGraph(t, 200*time.Millisecond, 1.0)
	p, err := g.Path("A", "B")
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, p.CDF.Center)
	assert.Equal(t, 1.0, p.Reliability)
}

func TestPathIntraNetworkUsesVertexOwnCDF(t *testing.T) {
	g := twoHostGraph(t, 200*time.Millisecond, 0.9)
	p, err := g.Path("A", "A")
	require.NoError(t, err)
	assert.Equal(t, time.Microsecond, p.CDF.Center)
	assert.Equal(t, 1.0, p.Reliability)
}

func TestAtMostOneEdgePerUnorderedPair(t *testing.T) {
	g := twoHostGraph(t, time.Millisecond, 1)
	err := g.AddEdge("B", "A", Edge{}, Edge{})
	assert.Error(t, err)
}

func TestReliabilityClamped(t *testing.T) {
	g := New()
	require.NoError(t, g.AddVertex(&Vertex{ID: "A", Reliability: 5}))
	v, ok := g.Vertex("A")
	require.True(t, ok)
	assert.Equal(t, 1.0, v.Reliability)
}

func TestMultiHopPathComposesLatencyAndReliability(t *testing.T) {
	g := New()
	require.NoError(t, g.AddVertex(&Vertex{ID: "A", Reliability: 1}))
	require.NoError(t, g.AddVertex(&Vertex{ID: "B", Reliability: 1}))
	require.NoError(t, g.AddVertex(&Vertex{ID: "C", Reliability: 1}))
	ab := Edge{CDF: simtime.CDF{Center: 10 * time.Millisecond}, Reliability: 0.9}
	bc := Edge{CDF: simtime.CDF{Center: 20 * time.Millisecond}, Reliability: 0.8}
	require.NoError(t, g.AddEdge("A", "B", ab, ab))
	require.NoError(t, g.AddEdge("B", "C", bc, bc))

	p, err := g.Path("A", "C")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Millisecond, p.CDF.Center)
	assert.InDelta(t, 0.72, p.Reliability, 1e-9)
}

func TestPathUnknownVertex(t *testing.T) {
	g := twoHostGraph(t, time.Millisecond, 1)
	_, err := g.Path("A", "Z")
	assert.Error(t, err)
}
