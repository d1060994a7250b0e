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

import (
	"math/rand"
	"sync"
	"time"

	"github.com/purpleidea/shadow/event"
	"github.com/purpleidea/shadow/simtime"
)

// CPUGate lets the scheduler ask a host whether it is currently blocked
// on CPU backlog, and if so how long to defer the event by (spec §4.2).
// Hosts implement this; the scheduler stays host-agnostic.
type CPUGate interface {
	// IsBlocked reports whether hostID is CPU-blocked at time now.
	IsBlocked(hostID string, now simtime.Time) bool
	// Delay returns the backlog to reschedule by, when IsBlocked is true.
	Delay(hostID string, now simtime.Time) time.Duration
}

// PoolMetrics is the narrow hook Pool reports CPU-blocked reschedules
// through, so this package never depends on the metrics package.
type PoolMetrics interface {
	CPUReschedule()
}

// Pool drives a fixed-size worker pool against a Scheduler: each worker
// loops Pop -> (CPU gate check) -> execute, until Pop returns nil.
type Pool struct {
	Scheduler *Scheduler
	CPU       CPUGate
	Metrics   PoolMetrics
	Seed      int64

	// rngs holds one Rand per worker, seeded deterministically from
	// Seed so runs are reproducible for a given worker count (spec §5).
	rngs []*rand.Rand
}

// NewPool builds a Pool over an existing Scheduler.
func NewPool(s *Scheduler, cpu CPUGate, seed int64) *Pool {
	p := &Pool{Scheduler: s, CPU: cpu, Seed: seed}
	p.rngs = make([]*rand.Rand, s.NumWorkers())
	for i := range p.rngs {
		// distinct deterministic streams per worker, derived from the
		// single master seed, per spec §5 reproducibility requirement.
		p.rngs[i] = rand.New(rand.NewSource(seed + int64(uint64(i)*0x9E3779B97F4A7C15)))
	}
	return p
}

// RNG returns the worker-local deterministic random stream for workerID.
func (p *Pool) RNG(workerID int) *rand.Rand {
	return p.rngs[workerID]
}

// Run starts all workers and blocks until every one has drained (Pop
// returned nil on all of them). It synchronizes start and finish via the
// scheduler's rendezvous gates.
func (p *Pool) Run() {
	var wg sync.WaitGroup
	wg.Add(p.Scheduler.NumWorkers())
	for w := 0; w < p.Scheduler.NumWorkers(); w++ {
		go func(workerID int) {
			defer wg.Done()
			p.Scheduler.AwaitStart()
			p.runWorker(workerID)
			p.Scheduler.AwaitFinish()
		}(w)
	}
	wg.Wait()
}

// runWorker is the per-worker event loop (spec §4.1/§4.2): pop, check
// the host's CPU account, either reschedule (if blocked) or execute.
func (p *Pool) runWorker(workerID int) {
	for {
		ev := p.Scheduler.Pop(workerID)
		if ev == nil {
			return
		}
		p.execute(workerID, ev)
	}
}

func (p *Pool) execute(workerID int, ev *event.Event) {
	if p.CPU != nil && p.CPU.IsBlocked(ev.DstHostID, ev.Time) {
		retryAt := ev.Time.Add(p.CPU.Delay(ev.DstHostID, ev.Time))
		// Reschedule the same task on the same host; the original
		// event is discarded (spec §4.2).
		_, _ = p.Scheduler.Push(ev.DstHostID, ev.DstHostID, retryAt, ev.Task, ev.SrcHostEventID)
		if p.Metrics != nil {
			p.Metrics.CPUReschedule()
		}
		return
	}
	ev.Task.Run(ev.Time)
}
