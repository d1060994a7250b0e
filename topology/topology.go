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

// Package topology is the weighted directed graph of simulated networks.
// Vertices are networks, edges are links between them; each carries a
// latency CDF and a reliability value in [0,1]. The adjacency-map shape is
// adapted from the pointer-graph used for the dependency engine: vertices
// and edges are plain values kept in a map-of-maps, not a resource engine.
package topology

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/purpleidea/shadow/simtime"
)

// Vertex is a NetworkVertex: a network with its own intra-network latency
// and reliability.
type Vertex struct {
	ID          string
	Reliability float64 // clamped to [0,1] on AddVertex
	CDF         simtime.CDF
}

// Edge is a NetworkEdge: a directed latency/reliability figure from one
// vertex to another. Graph.AddEdge stores one Edge per direction, but
// enforces that at most one edge connects any unordered pair of vertices.
type Edge struct {
	CDF         simtime.CDF
	Reliability float64
}

// Graph is the network topology: a weighted directed graph of networks
// connected by links. The zero value is not usable; use New.
type Graph struct {
	mutex     sync.RWMutex
	vertices  map[string]*Vertex
	adjacency map[string]map[string]*Edge // src -> dst -> edge
	pairs     map[unorderedPair]bool      // unordered pair membership, to enforce at-most-one-edge
}

type unorderedPair struct {
	a, b string
}

func newUnorderedPair(a, b string) unorderedPair {
	if a <= b {
		return unorderedPair{a, b}
	}
	return unorderedPair{b, a}
}

// New builds an empty topology graph.
func New() *Graph {
	return &Graph{
		vertices:  make(map[string]*Vertex),
		adjacency: make(map[string]map[string]*Edge),
		pairs:     make(map[unorderedPair]bool),
	}
}

// AddVertex inserts a network vertex. It clamps reliability into [0,1] and
// errors if the id is already present (ids must be unique).
func (g *Graph) AddVertex(v *Vertex) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if v.ID == "" {
		return fmt.Errorf("topology: vertex id must not be empty")
	}
	if _, exists := g.vertices[v.ID]; exists {
		return fmt.Errorf("topology: vertex %q already exists", v.ID)
	}
	if err := v.CDF.Validate(); err != nil {
		return fmt.Errorf("topology: vertex %q: %w", v.ID, err)
	}
	clamped := *v
	clamped.Reliability = clampReliability(v.Reliability)
	g.vertices[v.ID] = &clamped
	g.adjacency[v.ID] = make(map[string]*Edge)
	return nil
}

// AddEdge connects src and dst with directional weights. edgeSrcToDst and
// edgeDstToSrc may differ (directional CDFs/reliabilities per spec). At
// most one edge may exist between any unordered pair of vertices.
func (g *Graph) AddEdge(src, dst string, edgeSrcToDst, edgeDstToSrc Edge) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if _, ok := g.vertices[src]; !ok {
		return fmt.Errorf("topology: unknown vertex %q", src)
	}
	if _, ok := g.vertices[dst]; !ok {
		return fmt.Errorf("topology: unknown vertex %q", dst)
	}
	if src == dst {
		return fmt.Errorf("topology: edge endpoints must differ, got %q twice", src)
	}
	pair := newUnorderedPair(src, dst)
	if g.pairs[pair] {
		return fmt.Errorf("topology: an edge between %q and %q already exists", src, dst)
	}
	for _, e := range []Edge{edgeSrcToDst, edgeDstToSrc} {
		if err := e.CDF.Validate(); err != nil {
			return fmt.Errorf("topology: edge %s<->%s: %w", src, dst, err)
		}
	}
	edgeSrcToDst.Reliability = clampReliability(edgeSrcToDst.Reliability)
	edgeDstToSrc.Reliability = clampReliability(edgeDstToSrc.Reliability)
	g.adjacency[src][dst] = &edgeSrcToDst
	g.adjacency[dst][src] = &edgeDstToSrc
	g.pairs[pair] = true
	return nil
}

func clampReliability(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// Vertex returns the named vertex, or nil if it does not exist.
func (g *Graph) Vertex(id string) (*Vertex, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	v, ok := g.vertices[id]
	return v, ok
}

// VertexIDs returns every vertex id currently in the graph, in no
// particular order.
func (g *Graph) VertexIDs() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	ids := make([]string, 0, len(g.vertices))
	for id := range g.vertices {
		ids = append(ids, id)
	}
	return ids
}

// NumVertices returns the vertex count.
func (g *Graph) NumVertices() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.vertices)
}

// Path is the composed end-to-end figure between two (possibly distinct)
// vertices: the directed latency CDF to use for sampling, and the
// reliability to draw a loss decision against.
type Path struct {
	CDF         simtime.CDF
	Reliability float64
}

// Path computes the path between src and dst. If src == dst, it returns
// the vertex's own intra-network CDF/reliability (spec §4.4 "intra-network
// paths use the vertex's own CDF and reliability"). Otherwise it runs
// Dijkstra over edge center-latency to find the lowest-latency route and
// composes the per-hop CDFs/reliabilities: latency centers and widths sum,
// tails take the max observed along the path, and reliability is the
// product of per-hop reliabilities (independent link failures).
func (g *Graph) Path(src, dst string) (Path, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	if _, ok := g.vertices[src]; !ok {
		return Path{}, fmt.Errorf("topology: unknown vertex %q", src)
	}
	if _, ok := g.vertices[dst]; !ok {
		return Path{}, fmt.Errorf("topology: unknown vertex %q", dst)
	}

	if src == dst {
		v := g.vertices[src]
		return Path{CDF: v.CDF, Reliability: v.Reliability}, nil
	}

	return g.dijkstra(src, dst)
}

type pathNode struct {
	id          string
	dist        time.Duration
	cdf         simtime.CDF
	reliability float64
}

type pathHeap []*pathNode

func (h pathHeap) Len() int            { return len(h) }
func (h pathHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h pathHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pathHeap) Push(x interface{}) { *h = append(*h, x.(*pathNode)) }
func (h *pathHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// dijkstra finds the lowest-latency (by CDF center) path from src to dst,
// composing CDF and reliability along the way.
func (g *Graph) dijkstra(src, dst string) (Path, error) {
	best := make(map[string]*pathNode)
	start := &pathNode{id: src, dist: 0, reliability: 1}
	best[src] = start

	h := &pathHeap{start}
	heap.Init(h)

	for h.Len() > 0 {
		cur := heap.Pop(h).(*pathNode)
		if cur.id == dst {
			return Path{CDF: cur.cdf, Reliability: cur.reliability}, nil
		}
		if existing, ok := best[cur.id]; ok && existing != cur && existing.dist < cur.dist {
			continue
		}
		for nbr, edge := range g.adjacency[cur.id] {
			ndist := cur.dist + edge.CDF.Center
			if existing, ok := best[nbr]; ok && existing.dist <= ndist {
				continue
			}
			next := &pathNode{
				id:   nbr,
				dist: ndist,
				cdf: simtime.CDF{
					Center: cur.cdf.Center + edge.CDF.Center,
					Width:  cur.cdf.Width + edge.CDF.Width,
					Tail:   maxDuration(cur.cdf.Tail, edge.CDF.Tail),
				},
				reliability: cur.reliability * edge.Reliability,
			}
			best[nbr] = next
			heap.Push(h, next)
		}
	}
	return Path{}, fmt.Errorf("topology: no path from %q to %q", src, dst)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
