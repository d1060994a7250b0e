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

// Package corepool gates concurrent access to a host's configured number
// of virtual CPU cores: cpu.Account acquires one core for the duration of
// each AddDelay charge, so that concurrently-running processes on the
// same host serialize their backlog updates instead of racing on it.
package corepool

import (
	"fmt"
)

// Pool is a counting gate sized to a host's virtual core count. It must
// be initialized (via New or Init) before use.
type Pool struct {
	cores  chan struct{}
	closed chan struct{}
}

// New creates a Pool with the given number of virtual cores.
func New(cores int) *Pool {
	obj := &Pool{}
	obj.Init(cores)
	return obj
}

// Init (re-)initializes the pool to hold n virtual cores.
func (obj *Pool) Init(n int) {
	obj.cores = make(chan struct{}, n)
	obj.closed = make(chan struct{})
}

// Close shuts the pool down and releases any callers blocked in Acquire,
// so a host shutdown can't deadlock on an in-flight CPU charge.
func (obj *Pool) Close() {
	close(obj.closed)
}

// Acquire reserves n virtual cores, blocking until they're free.
func (obj *Pool) Acquire(n int) error {
	for i := 0; i < n; i++ {
		select {
		case obj.cores <- struct{}{}: // claim one core
		case <-obj.closed:
			return fmt.Errorf("corepool: closed")
		}
	}
	return nil
}

// Release frees n previously-acquired virtual cores.
func (obj *Pool) Release(n int) error {
	for i := 0; i < n; i++ {
		select {
		case <-obj.cores: // free one core
		case <-obj.closed:
			return fmt.Errorf("corepool: closed")
		default: // releasing a core that was never acquired
			panic("corepool: Release > Acquire")
		}
	}
	return nil
}

// InUse reports how many virtual cores are currently claimed, so a host
// can report its live concurrency alongside its CPU backlog.
func (obj *Pool) InUse() int {
	return len(obj.cores)
}
