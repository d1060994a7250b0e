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

// Package host implements per-host simulated process execution and the
// global DNS name<->address bijection hosts are registered under.
package host

import (
	"fmt"
	"sync"
)

// Loopback is the name pre-registered for every host's loopback address.
const Loopback = "localhost"

// LoopbackAddr is the address backing the loopback name.
const LoopbackAddr = "127.0.0.1"

// DNS is a global, bijective name<->address table. It is built once
// during boot and is never mutated afterward, so it is safe to share
// unlocked across scheduler workers once Freeze has been called; the
// mutex only guards the boot-time registration window.
type DNS struct {
	mu        sync.RWMutex
	nameToIP  map[string]string
	ipToName  map[string]string
	frozen    bool
}

// NewDNS builds an empty DNS table with loopback pre-registered.
func NewDNS() *DNS {
	d := &DNS{
		nameToIP: make(map[string]string),
		ipToName: make(map[string]string),
	}
	// Errors are impossible on this literal pair; intentionally ignored.
	_ = d.Register(Loopback, LoopbackAddr)
	return d
}

// Register adds a name<->address pair. It fails if either side is
// already taken by a different mapping, or if the table is frozen.
func (d *DNS) Register(name, addr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frozen {
		return fmt.Errorf("host: dns: cannot register %q after boot is complete", name)
	}
	if existing, ok := d.nameToIP[name]; ok && existing != addr {
		return fmt.Errorf("host: dns: name %q already bound to %q", name, existing)
	}
	if existing, ok := d.ipToName[addr]; ok && existing != name {
		return fmt.Errorf("host: dns: address %q already bound to %q", addr, existing)
	}
	d.nameToIP[name] = addr
	d.ipToName[addr] = name
	return nil
}

// Freeze marks the table read-only; called once boot finishes.
func (d *DNS) Freeze() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frozen = true
}

// Lookup resolves a host name to its address.
func (d *DNS) Lookup(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.nameToIP[name]
	return addr, ok
}

// Reverse resolves an address back to its host name.
func (d *DNS) Reverse(addr string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.ipToName[addr]
	return name, ok
}
