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

package host

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/purpleidea/shadow/cpu"
	"github.com/purpleidea/shadow/epoll"
	"github.com/purpleidea/shadow/simtime"
)

// Logf is the per-host logging callback, threaded in from the master
// rather than pulled from a package-level logger.
type Logf func(format string, v ...interface{})

// Interface models one virtual network interface's bandwidth limiting,
// up or down, as a token-bucket byte budget.
type Interface struct {
	Up   *rate.Limiter
	Down *rate.Limiter
}

// NewInterface builds an Interface whose up/down budgets allow
// upBytesPerSec/downBytesPerSec sustained, bursting up to one second's
// worth of bytes.
func NewInterface(upBytesPerSec, downBytesPerSec int) *Interface {
	return &Interface{
		Up:   rate.NewLimiter(rate.Limit(upBytesPerSec), upBytesPerSec),
		Down: rate.NewLimiter(rate.Limit(downBytesPerSec), downBytesPerSec),
	}
}

// Plugin is the registration contract a simulated application
// implements; dynamic loading of the plugin itself is out of scope, so
// this is just the New/Free/Activate lifecycle a Process drives.
type Plugin interface {
	// New is called once when the process starts.
	New(now simtime.Time) error
	// Activate is called whenever the process is scheduled to run
	// (an event targeted one of its descriptors became ready).
	Activate(now simtime.Time) error
	// Free is called once when the process is torn down.
	Free(now simtime.Time) error
}

// Process is a single running application instance on a Host.
type Process struct {
	Name   string
	Plugin Plugin

	nextEventID uint64
}

// NextEventID returns the next value in this process's monotonically
// increasing per-source sequence counter, used to break ties in the
// scheduler's total event order.
func (p *Process) NextEventID() uint64 {
	p.nextEventID++
	return p.nextEventID
}

// Host is a single simulated machine: an id, an address, a CPU account,
// network interfaces, and the processes running on it.
type Host struct {
	mu sync.Mutex

	ID      string
	Addr    string
	// Vertex is the topology network this host attaches to, set once at
	// boot; transport.VertexOf reads it to find inter-host paths.
	Vertex  string
	CPU     *cpu.Account
	Eth     *Interface
	Lo      *Interface
	Logf    Logf
	Epoll   *epoll.Set

	processes map[string]*Process
	nextDescriptor int
}

// Options configures a new Host.
type Options struct {
	ID   string
	Addr string
	CPU  cpu.Options
	// EthUpBytesPerSec/EthDownBytesPerSec size the host's ethernet
	// interface's bandwidth budget.
	EthUpBytesPerSec   int
	EthDownBytesPerSec int
	Logf               Logf
}

// New builds a Host; its loopback interface is effectively unbounded.
func New(opts Options) *Host {
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Host{
		ID:        opts.ID,
		Addr:      opts.Addr,
		CPU:       cpu.New(opts.CPU),
		Eth:       NewInterface(opts.EthUpBytesPerSec, opts.EthDownBytesPerSec),
		Lo:        NewInterface(1<<30, 1<<30),
		Logf:      logf,
		Epoll:     epoll.NewSet(),
		processes: make(map[string]*Process),
	}
}

// NextDescriptor allocates the next descriptor id in this host's table
// from a monotonic counter starting at 1; ids are never reused.
func (h *Host) NextDescriptor() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextDescriptor++
	return h.nextDescriptor
}

// AddProcess registers a running process under name.
func (h *Host) AddProcess(name string, plugin Plugin) *Process {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := &Process{Name: name, Plugin: plugin}
	h.processes[name] = p
	return p
}

// Process looks up a previously-added process by name.
func (h *Host) Process(name string) (*Process, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.processes[name]
	return p, ok
}

// IsBlocked implements scheduler.CPUGate: true once this host's virtual
// CPU backlog exceeds its configured blocking threshold.
func (h *Host) IsBlocked(now simtime.Time) bool {
	h.CPU.UpdateTime(now)
	return h.CPU.IsBlocked()
}

// Delay implements scheduler.CPUGate: how long to defer a blocked
// event's re-execution by.
func (h *Host) Delay(now simtime.Time) time.Duration {
	return h.CPU.GetDelay()
}
