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

// Package transport implements the virtual socket layer: UDP endpoints,
// TCP connections with Reno-style congestion control, and in-process
// local pipes, all driven by the scheduler rather than real I/O.
package transport

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/purpleidea/shadow/packet"
)

// Kind distinguishes the socket's addressing/delivery semantics.
type Kind int

const (
	// Stream is a connection-oriented, reliable, ordered socket (TCP).
	Stream Kind = iota
	// Datagram is a connectionless, unreliable, unordered socket (UDP).
	Datagram
)

func (k Kind) String() string {
	switch k {
	case Stream:
		return "stream"
	case Datagram:
		return "datagram"
	default:
		return "unknown"
	}
}

// ReadyFlags mirrors the epoll readiness bits a socket can present.
type ReadyFlags struct {
	Readable bool
	Writable bool
	HangUp   bool
	Error    bool
}

// Notifier is the narrow interface a Socket uses to tell the epoll
// engine its readiness changed, without Socket importing epoll (the
// listener registration itself lives on the epoll side, keyed by
// descriptor id, as a weak/non-owning reference).
type Notifier interface {
	NotifyReady(descriptorID int, flags ReadyFlags)
}

// Descriptor identifies a socket within a host's descriptor table.
type Descriptor int

// Socket is the shared base every transport endpoint embeds: a receive
// buffer, readiness state, and a (possibly nil) epoll notifier.
type Socket struct {
	mu sync.Mutex

	Kind       Kind
	Descriptor Descriptor
	HostID     string

	recv     list.List // of *packet.Packet
	recvMax  int
	notifier Notifier
	closed   bool
}

// NewSocket builds a Socket with a bounded receive buffer (in packets).
func NewSocket(kind Kind, hostID string, descriptor Descriptor, recvMax int, notifier Notifier) *Socket {
	if recvMax <= 0 {
		recvMax = 128
	}
	return &Socket{Kind: kind, HostID: hostID, Descriptor: descriptor, recvMax: recvMax, notifier: notifier}
}

// Enqueue appends a delivered packet to the receive buffer, taking its
// own reference (released by whoever dequeues it), or drops it (and
// returns false) if the buffer is full.
func (s *Socket) Enqueue(p *packet.Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		p.AppendStatus(packet.RcvSocketDropped)
		return false
	}
	if s.recv.Len() >= s.recvMax {
		p.AppendStatus(packet.RcvSocketDropped)
		return false
	}
	s.recv.PushBack(p.Ref())
	p.AppendStatus(packet.RcvSocketBuffered)
	s.notify()
	return true
}

// Dequeue pops the oldest buffered packet, or nil if none is ready. It
// renotifies afterward so a level-triggered epoll watch sees the buffer's
// post-drain state (still readable, or no longer), not a stale snapshot
// from whenever the last packet was enqueued.
func (s *Socket) Dequeue() *packet.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	front := s.recv.Front()
	if front == nil {
		return nil
	}
	s.recv.Remove(front)
	p := front.Value.(*packet.Packet)
	p.AppendStatus(packet.RcvSocketDelivered)
	s.notify()
	return p
}

// Pending returns the number of packets currently buffered for receipt.
func (s *Socket) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recv.Len()
}

// Close marks the socket closed; further Enqueue calls drop silently.
func (s *Socket) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.notify()
}

func (s *Socket) notify() {
	if s.notifier == nil {
		return
	}
	flags := ReadyFlags{Readable: s.recv.Len() > 0, Writable: !s.closed, HangUp: s.closed}
	s.notifier.NotifyReady(int(s.Descriptor), flags)
}

// errClosed builds the error for an operation against a closed socket;
// no send path in this package returns it.
func errClosed(hostID string, d Descriptor) error {
	return fmt.Errorf("transport: socket %d on host %q is closed", d, hostID)
}
