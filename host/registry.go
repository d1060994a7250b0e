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
	"fmt"
	"sync"
	"time"

	"github.com/purpleidea/shadow/simtime"
)

// Registry is the master's id->Host lookup table. It implements
// scheduler.CPUGate by dispatching to the named host's own CPU account,
// so the scheduler package never needs to know about Host directly.
type Registry struct {
	mu    sync.RWMutex
	hosts map[string]*Host
}

// NewRegistry builds an empty host registry.
func NewRegistry() *Registry {
	return &Registry{hosts: make(map[string]*Host)}
}

// Add registers a host, failing if its id is already taken.
func (r *Registry) Add(h *Host) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hosts[h.ID]; exists {
		return fmt.Errorf("host: registry: host %q already registered", h.ID)
	}
	r.hosts[h.ID] = h
	return nil
}

// Get looks up a host by id.
func (r *Registry) Get(id string) (*Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[id]
	return h, ok
}

// Len returns the number of registered hosts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts)
}

// Range calls fn once per registered host, in no particular order. fn
// must not call back into the Registry (Add/Get take the same lock).
func (r *Registry) Range(fn func(*Host)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.hosts {
		fn(h)
	}
}

// IsBlocked implements scheduler.CPUGate.
func (r *Registry) IsBlocked(hostID string, now simtime.Time) bool {
	h, ok := r.Get(hostID)
	if !ok {
		return false
	}
	return h.IsBlocked(now)
}

// Delay implements scheduler.CPUGate.
func (r *Registry) Delay(hostID string, now simtime.Time) time.Duration {
	h, ok := r.Get(hostID)
	if !ok {
		return 0
	}
	return h.Delay(now)
}
