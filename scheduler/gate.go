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

package scheduler

import "sync"

// gate is a reusable rendezvous barrier: n callers must all reach Await
// before any of them is released. It is a cyclic barrier, so it may be
// reused across both the simulation-start and simulation-finish
// synchronization points (spec §4.1 awaitStart / awaitFinish), the way
// the teacher's converger guards a status map with a mutex and wakes
// waiters through a channel rather than a bare sync.WaitGroup.
type gate struct {
	mu         sync.Mutex
	cond       *sync.Cond
	n          int
	arrived    int
	generation uint64
}

func newGate(n int) *gate {
	g := &gate{n: n}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// await blocks until n callers within the current generation have called
// it, then releases them all together and starts a new generation.
func (g *gate) await() {
	g.mu.Lock()
	defer g.mu.Unlock()
	gen := g.generation
	g.arrived++
	if g.arrived == g.n {
		g.arrived = 0
		g.generation++
		g.cond.Broadcast()
		return
	}
	for gen == g.generation {
		g.cond.Wait()
	}
}

// The start and finish gates live on Scheduler itself and are created
// lazily by startOnce; see AwaitStart/AwaitFinish below.

// AwaitStart blocks the calling worker until every worker has reached
// this call, synchronizing simulation start.
func (s *Scheduler) AwaitStart() {
	s.startOnce()
	s.start.await()
}

// AwaitFinish blocks the calling worker until every worker has reached
// this call, synchronizing simulation shutdown.
func (s *Scheduler) AwaitFinish() {
	s.startOnce()
	s.finish.await()
}

func (s *Scheduler) startOnce() {
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	if s.start == nil {
		s.start = newGate(s.numWorkers)
	}
	if s.finish == nil {
		s.finish = newGate(s.numWorkers)
	}
}
