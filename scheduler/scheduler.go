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

// Package scheduler implements the parallel conservative discrete-event
// scheduler: per-worker event queues, a fixed-size worker pool, and the
// runahead barrier that lets workers execute events out of global
// lockstep without violating causality.
//
// The barrier/gate coordination here is shaped after the teacher's
// converger package: mutex-guarded state plus a sync.Cond used to wake
// up whoever is waiting on a state change, rather than a bare
// sync.WaitGroup.
package scheduler

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/purpleidea/shadow/event"
	"github.com/purpleidea/shadow/simtime"
)

// DefaultMinRunahead is the default minimum runahead window (spec §4.1).
const DefaultMinRunahead = 10 * time.Millisecond

// RunaheadFloor is the absolute floor below which the runahead can never
// drop, even if configured to zero.
const RunaheadFloor = time.Nanosecond

// Logf is the logging callback shape threaded through the simulator,
// mirroring the teacher's util.LogWriter logf convention.
type Logf func(format string, v ...interface{})

// Scheduler owns the per-worker event queues and the global runahead
// barrier. Workers are numbered 0..N-1; each host is permanently assigned
// to exactly one worker.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	queues    []eventHeap
	hostOwner map[string]int
	lastPopAt map[string]simtime.Time // per-host watermark, for time-travel detection

	barrier     simtime.Time
	minRunahead time.Duration
	minObserved time.Duration // smallest latency ever reported via UpdateMinTimeJump
	observedSet bool

	waiting     int
	numWorkers  int
	terminated  bool

	gateMu sync.Mutex
	start  *gate
	finish *gate

	logf Logf
}

// Options configures a new Scheduler.
type Options struct {
	NumWorkers  int
	MinRunahead time.Duration
	Logf        Logf
}

// New builds a scheduler with numWorkers empty queues.
func New(opts Options) *Scheduler {
	n := opts.NumWorkers
	if n < 1 {
		n = 1
	}
	minRunahead := opts.MinRunahead
	if minRunahead < RunaheadFloor {
		minRunahead = RunaheadFloor
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	s := &Scheduler{
		queues:      make([]eventHeap, n),
		hostOwner:   make(map[string]int),
		lastPopAt:   make(map[string]simtime.Time),
		minRunahead: minRunahead,
		numWorkers:  n,
		logf:        logf,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// RegisterHost assigns a host to a worker (round-robin over workers if
// workerID is -1), so its events are queued there exclusively.
func (s *Scheduler) RegisterHost(hostID string, workerID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.hostOwner[hostID]; exists {
		return fmt.Errorf("scheduler: host %q already registered", hostID)
	}
	if workerID < 0 {
		workerID = len(s.hostOwner) % s.numWorkers
	}
	if workerID >= s.numWorkers {
		return fmt.Errorf("scheduler: worker id %d out of range (have %d workers)", workerID, s.numWorkers)
	}
	s.hostOwner[hostID] = workerID
	s.lastPopAt[hostID] = simtime.Zero
	return nil
}

// NumWorkers returns the configured worker count.
func (s *Scheduler) NumWorkers() int {
	return s.numWorkers
}

// Barrier returns the current barrier time B.
func (s *Scheduler) Barrier() simtime.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.barrier
}

// Push atomically inserts an event into the queue of the host owning
// dstHostID. It is a fatal simulation error (per spec §7) to push an
// event earlier than the last time already popped for that host — that
// represents an attempt to rewrite history. Pushing an event beyond the
// current barrier is legal: it simply will not be eligible for Pop until
// the barrier advances to cover it, which Pop enforces structurally
// (testable property: runahead safety, spec §8 item 3).
func (s *Scheduler) Push(dstHostID, srcHostID string, t simtime.Time, task *event.Task, srcHostEventID uint64) (*event.Event, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("scheduler: invalid event time for host %q", dstHostID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.hostOwner[dstHostID]
	if !ok {
		return nil, fmt.Errorf("scheduler: push to unknown host %q (simulation error)", dstHostID)
	}
	if last, ok := s.lastPopAt[dstHostID]; ok && t < last {
		return nil, fmt.Errorf("scheduler: event time %v precedes last executed time %v on host %q (simulation error)", t, last, dstHostID)
	}

	ev := event.NewEvent(task, t, dstHostID, srcHostID, srcHostEventID)
	heap.Push(&s.queues[w], ev)

	// Wake anyone stalled — this push might be exactly what they needed.
	if s.waiting > 0 {
		s.cond.Broadcast()
	}
	return ev, nil
}

// UpdateMinTimeJump records a caller-reported end-to-end path latency;
// a new minimum tightens the barrier's future growth increment. The
// transport package does not call it, so unless some caller reports a
// latency the barrier grows by the minimum runahead.
func (s *Scheduler) UpdateMinTimeJump(latency time.Duration) {
	if latency < RunaheadFloor {
		latency = RunaheadFloor
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.observedSet || latency < s.minObserved {
		s.minObserved = latency
		s.observedSet = true
	}
}

// Pop blocks until an event with time <= barrier is available for
// workerID, advancing the shared barrier when every worker is stalled at
// the current one, or returns nil once every queue is permanently empty
// (the run is done).
func (s *Scheduler) Pop(workerID int) *event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.terminated {
			return nil
		}
		q := &s.queues[workerID]
		if q.Len() > 0 && (*q)[0].Time <= s.barrier {
			ev := heap.Pop(q).(*event.Event)
			s.lastPopAt[ev.DstHostID] = ev.Time
			return ev
		}

		s.waiting++
		if s.waiting >= s.numWorkers {
			advanced := s.advanceBarrierLocked()
			s.waiting = 0
			if !advanced {
				s.terminated = true
				s.cond.Broadcast()
				return nil
			}
			s.cond.Broadcast()
			continue
		}
		s.cond.Wait()
		s.waiting--
	}
}

// advanceBarrierLocked moves the barrier forward by
// min(minRunahead, minObserved), floored at RunaheadFloor. It returns
// false if no queue holds any event at all, signalling the run is over.
func (s *Scheduler) advanceBarrierLocked() bool {
	anyPending := false
	for i := range s.queues {
		if s.queues[i].Len() > 0 {
			anyPending = true
			break
		}
	}
	if !anyPending {
		return false
	}

	increment := s.minRunahead
	if s.observedSet && s.minObserved < increment {
		increment = s.minObserved
	}
	if increment < RunaheadFloor {
		increment = RunaheadFloor
	}
	s.barrier = s.barrier.Add(increment)
	s.logf("barrier advanced to %v (increment %v)", s.barrier, increment)
	return true
}

// Shutdown forces every blocked Pop to return nil, for abnormal
// termination (e.g. a configuration error discovered mid-boot).
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
	s.cond.Broadcast()
}
