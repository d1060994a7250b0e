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

// Package event defines the scheduled Task and Event types, and the
// deterministic total order the scheduler sorts them by.
package event

import (
	"github.com/google/uuid"

	"github.com/purpleidea/shadow/simtime"
)

// Task is a function scheduled to run on a host at some simulated time,
// with an optional callback invoked after it runs. It is produced by
// senders (packet delivery) and by the CPU-delay rescheduler.
type Task struct {
	// Fn is the function to run; it receives the simulated time it
	// actually executes at.
	Fn func(now simtime.Time)
	// Callback, if set, runs immediately after Fn, still on the same
	// worker. It exists so event producers can chain cleanup without a
	// second scheduler round-trip.
	Callback func()

	// id is a debug-only correlation id; it plays no part in ordering.
	id uuid.UUID
}

// NewTask builds a Task. A uuid is assigned for log correlation only.
func NewTask(fn func(now simtime.Time), callback func()) *Task {
	return &Task{Fn: fn, Callback: callback, id: uuid.New()}
}

// ID returns the task's debug correlation id.
func (t *Task) ID() uuid.UUID {
	return t.id
}

// Run executes the task exactly once: Fn then Callback.
func (t *Task) Run(now simtime.Time) {
	if t.Fn != nil {
		t.Fn(now)
	}
	if t.Callback != nil {
		t.Callback()
	}
}

// Event is a scheduled Task targeted at a specific host at a specific
// simulated time. Events compare with a strict total order:
// (Time, DstHostID, SrcHostID, SrcHostEventID).
type Event struct {
	Task   *Task
	Time   simtime.Time
	DstHostID string
	SrcHostID string
	// SrcHostEventID is a per-source-host monotonically increasing
	// counter, so two events produced by the same host at the same
	// time execute in production order.
	SrcHostEventID uint64

	id uuid.UUID
}

// NewEvent builds an Event. srcHostEventID must come from the sending
// host's monotonic counter (see host.Process.NextEventID).
func NewEvent(task *Task, t simtime.Time, dstHostID, srcHostID string, srcHostEventID uint64) *Event {
	return &Event{
		Task:           task,
		Time:           t,
		DstHostID:      dstHostID,
		SrcHostID:      srcHostID,
		SrcHostEventID: srcHostEventID,
		id:             uuid.New(),
	}
}

// ID returns the event's debug correlation id.
func (e *Event) ID() uuid.UUID {
	return e.id
}

// Less implements the deterministic total order from the spec:
// (time ASC, dstHostID ASC, srcHostID ASC, srcHostEventID ASC).
func Less(a, b *Event) bool {
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	if a.DstHostID != b.DstHostID {
		return a.DstHostID < b.DstHostID
	}
	if a.SrcHostID != b.SrcHostID {
		return a.SrcHostID < b.SrcHostID
	}
	return a.SrcHostEventID < b.SrcHostEventID
}

// Equal reports whether a and b are the same event under the total order
// (all four ordering fields equal).
func Equal(a, b *Event) bool {
	return a.Time == b.Time &&
		a.DstHostID == b.DstHostID &&
		a.SrcHostID == b.SrcHostID &&
		a.SrcHostEventID == b.SrcHostEventID
}
